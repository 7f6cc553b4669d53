package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/yldhj/daftmapler/pkg/audio"
)

// ErrUnavailable marks a clip whose audio could not be fetched or decoded.
// Such clips keep their queue slot and play as silence.
var ErrUnavailable = errors.New("playback: resource unavailable")

// defaultResolveTimeout bounds how long a single clip may take to load.
const defaultResolveTimeout = 30 * time.Second

// Source identifies the audio for one queued clip.
type Source struct {
	// Locator is passed to the [Loader]. An empty locator is a silent clip.
	Locator string

	// Cacheable routes the load through the engine's [Cache]. Sound effects
	// are cacheable; synthesized speech is not, since every utterance has a
	// unique locator.
	Cacheable bool
}

// Loader fetches and decodes the audio behind a locator.
type Loader interface {
	Load(ctx context.Context, locator string) (*audio.Buffer, error)
}

// Renderer plays a decoded buffer at the given volume. Render blocks until
// playback finishes or ctx is cancelled, in which case it must stop promptly
// and return ctx.Err().
type Renderer interface {
	Render(ctx context.Context, buf *audio.Buffer, volume float64) error
}

// Outcome describes how a clip left the queue.
type Outcome string

const (
	OutcomePlayed  Outcome = "played"
	OutcomeSkipped Outcome = "skipped"
	OutcomeSilent  Outcome = "silent"
	OutcomeFailed  Outcome = "failed"
)

// Option configures an [Engine] during construction.
type Option func(*Engine)

// WithCache makes cacheable sources resolve through c instead of a private
// cache over the engine's loader.
func WithCache(c *Cache) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithResolveTimeout bounds the time a single clip may spend loading.
func WithResolveTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.resolveTimeout = d
		}
	}
}

// WithObserver registers fn to be called from the drain goroutine each time
// a clip leaves the queue. fn must not block.
func WithObserver(fn func(Source, Outcome)) Option {
	return func(e *Engine) {
		e.observe = fn
	}
}

// Engine is the playback queue. Clips render strictly in enqueue order and
// never overlap: a single drain goroutine is the only caller of the
// [Renderer].
//
// All exported methods are safe for concurrent use.
type Engine struct {
	loader         Loader
	renderer       Renderer
	cache          *Cache
	resolveTimeout time.Duration
	observe        func(Source, Outcome)

	mu            sync.Mutex
	queue         fifo
	seq           uint64
	playing       *item
	cancelPlaying context.CancelFunc
	closed        bool

	ctx     context.Context // parent of every load and render; cancelled by Close
	cancel  context.CancelFunc
	notify  chan struct{}   // wakes the drain goroutine
	done    chan struct{}   // closed by Close
	drained chan struct{}   // closed when the drain goroutine exits
}

// New creates an [Engine] and starts its drain goroutine. Call
// [Engine.Close] to stop it.
func New(loader Loader, renderer Renderer, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		loader:         loader,
		renderer:       renderer,
		resolveTimeout: defaultResolveTimeout,
		ctx:            ctx,
		cancel:         cancel,
		notify:         make(chan struct{}, 1),
		done:           make(chan struct{}),
		drained:        make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	if e.cache == nil {
		e.cache = NewCache(loader)
	}
	go e.drain()
	return e
}

// Enqueue appends a clip to the queue. The clip's position is fixed now;
// its audio is resolved concurrently and the drain loop waits for it when
// the clip reaches the head.
func (e *Engine) Enqueue(src Source, volume float64) {
	it := &item{src: src, volume: volume, ready: make(chan struct{})}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.seq++
	it.seq = e.seq
	e.queue.push(it)
	e.mu.Unlock()

	go e.resolve(it)

	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// Skip stops the clip that is currently rendering and lets the queue
// advance. It reports whether anything was playing; with nothing playing it
// is a no-op and the queue is left untouched.
func (e *Engine) Skip() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancelPlaying == nil {
		return false
	}
	e.cancelPlaying()
	e.cancelPlaying = nil
	e.playing = nil
	return true
}

// Len returns the number of clips waiting behind the current one.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.len()
}

// Playing reports whether a clip is rendering right now.
func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing != nil
}

// Close stops the drain goroutine, interrupts the current clip and discards
// the queue. Close is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	if e.cancelPlaying != nil {
		e.cancelPlaying()
		e.cancelPlaying = nil
	}
	e.playing = nil
	dropped := e.queue.clear()
	e.mu.Unlock()

	e.cancel()
	close(e.done)
	<-e.drained

	if len(dropped) > 0 {
		slog.Debug("playback: discarded queued clips on close", "count", len(dropped))
	}
	return nil
}

// resolve loads the clip's audio and marks it ready. Failures are logged
// and leave the clip silent.
func (e *Engine) resolve(it *item) {
	defer close(it.ready)

	if it.src.Locator == "" {
		return
	}

	ctx, cancel := context.WithTimeout(e.ctx, e.resolveTimeout)
	defer cancel()

	var err error
	if it.src.Cacheable {
		it.buf, err = e.cache.Get(ctx, it.src.Locator)
	} else {
		it.buf, err = e.loader.Load(ctx, it.src.Locator)
	}
	if err != nil {
		it.buf, it.err = nil, err
		if e.ctx.Err() == nil {
			slog.Warn("playback: audio unavailable, clip will be silent",
				"locator", it.src.Locator,
				"err", err,
			)
		}
	}
}

// drain is the only goroutine that renders. It sleeps until an enqueue
// wakes it, then plays clips until the queue is empty.
func (e *Engine) drain() {
	defer close(e.drained)

	for {
		select {
		case <-e.done:
			return
		case <-e.notify:
		}

		for {
			it, ok := e.next()
			if !ok {
				break
			}

			select {
			case <-e.done:
				return
			case <-it.ready:
			}

			e.play(it)
		}
	}
}

// next pops the head of the queue.
func (e *Engine) next() (*item, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, false
	}
	return e.queue.pop()
}

// play renders one resolved clip to completion or interruption.
func (e *Engine) play(it *item) {
	if it.buf.Empty() {
		outcome := OutcomeSilent
		if it.err != nil {
			outcome = OutcomeFailed
		}
		e.report(it, outcome)
		return
	}

	ctx, cancel := context.WithCancel(e.ctx)
	defer cancel()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.playing = it
	e.cancelPlaying = cancel
	e.mu.Unlock()

	err := e.renderer.Render(ctx, it.buf, it.volume)

	e.mu.Lock()
	if e.playing == it {
		e.playing = nil
		e.cancelPlaying = nil
	}
	e.mu.Unlock()

	switch {
	case err == nil:
		e.report(it, OutcomePlayed)
	case errors.Is(err, context.Canceled):
		e.report(it, OutcomeSkipped)
	default:
		slog.Warn("playback: render failed", "locator", it.src.Locator, "err", err)
		e.report(it, OutcomeFailed)
	}
}

func (e *Engine) report(it *item, outcome Outcome) {
	if e.observe != nil {
		e.observe(it.src, outcome)
	}
}
