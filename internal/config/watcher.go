package config

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher monitors a config file for changes and calls a callback when the
// file is modified. It uses polling (not fsnotify) to keep dependencies minimal.
//
// T is the parsed form of the file. An invalid new version is logged and the
// previous value stays current.
type Watcher[T any] struct {
	path     string
	parse    func([]byte) (T, error)
	interval time.Duration
	onChange func(old, new T)
	optional bool

	mu       sync.Mutex
	current  T
	done     chan struct{}
	stopOnce sync.Once

	// last known file state for change detection
	lastMtime time.Time
	lastHash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*watcherOptions)

type watcherOptions struct {
	interval time.Duration
	optional bool
}

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(o *watcherOptions) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithOptionalFile makes a missing file parse as empty content instead of
// failing.
func WithOptionalFile() WatcherOption {
	return func(o *watcherOptions) {
		o.optional = true
	}
}

// NewWatcher loads path immediately and starts polling in a background
// goroutine. onChange may be nil.
func NewWatcher[T any](path string, parse func([]byte) (T, error), onChange func(old, new T), opts ...WatcherOption) (*Watcher[T], error) {
	o := watcherOptions{interval: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	w := &Watcher[T]{
		path:     path,
		parse:    parse,
		interval: o.interval,
		onChange: onChange,
		optional: o.optional,
		done:     make(chan struct{}),
	}

	val, hash, mtime, err := w.loadAndHash()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load %q: %w", path, err)
	}
	w.current = val
	w.lastHash = hash
	w.lastMtime = mtime

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid value.
func (w *Watcher[T]) Current() T {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops the file watcher.
func (w *Watcher[T]) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher[T]) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check reloads the file if it changed and, when the new content is valid,
// swaps it in and calls onChange.
func (w *Watcher[T]) check() {
	mtime, err := w.stat()
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	last := w.lastMtime
	w.mu.Unlock()

	if mtime.Equal(last) {
		return
	}

	val, hash, newMtime, err := w.loadAndHash()
	if err != nil {
		slog.Warn("config watcher: failed to load config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if hash == w.lastHash {
		// Touched, content unchanged.
		w.lastMtime = newMtime
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = val
	w.lastHash = hash
	w.lastMtime = newMtime
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)

	// Outside the lock so the callback may call Current.
	if w.onChange != nil {
		w.onChange(old, val)
	}
}

func (w *Watcher[T]) stat() (time.Time, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		if w.optional && errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// loadAndHash reads and parses the file, returning the value alongside the
// content hash and modification time.
func (w *Watcher[T]) loadAndHash() (T, [sha256.Size]byte, time.Time, error) {
	var zero T
	var zeroHash [sha256.Size]byte

	mtime, err := w.stat()
	if err != nil {
		return zero, zeroHash, time.Time{}, err
	}

	data, err := os.ReadFile(w.path)
	if err != nil {
		if !w.optional || !errors.Is(err, fs.ErrNotExist) {
			return zero, zeroHash, time.Time{}, err
		}
		data = nil
	}

	val, err := w.parse(data)
	if err != nil {
		return zero, zeroHash, time.Time{}, err
	}
	return val, sha256.Sum256(data), mtime, nil
}
