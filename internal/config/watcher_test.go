package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/yldhj/daftmapler/internal/config"
)

const updatedSounds = `{
  "sounds": [{"name": "Bell", "file": "bell.wav"}],
  "redeemable": {"tts": {"name": "Speak"}, "sfx": {"prefix": ""}}
}`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// touchLater bumps the mtime so that polling notices the rewrite even on
// filesystems with coarse timestamps.
func touchLater(t *testing.T, path string) {
	t.Helper()
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sounds.json")
	writeFile(t, path, validSounds)

	w, err := config.NewWatcher(path, config.ParseSounds, nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Redeemable.TTS.Name; got != "Say" {
		t.Errorf("tts name = %q, want Say", got)
	}
}

func TestWatcher_InitialLoadInvalid(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sounds.json")
	writeFile(t, path, `{"sounds": []}`)

	if _, err := config.NewWatcher(path, config.ParseSounds, nil); err == nil {
		t.Fatal("expected error for invalid initial config")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sounds.json")
	writeFile(t, path, validSounds)

	var mu sync.Mutex
	var gotOld, gotNew *config.SoundConfig
	called := make(chan struct{}, 1)

	w, err := config.NewWatcher(path, config.ParseSounds, func(old, new *config.SoundConfig) {
		mu.Lock()
		gotOld, gotNew = old, new
		mu.Unlock()
		select {
		case called <- struct{}{}:
		default:
		}
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	writeFile(t, path, updatedSounds)
	touchLater(t, path)

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotOld.Redeemable.TTS.Name != "Say" {
		t.Errorf("old tts name = %q, want Say", gotOld.Redeemable.TTS.Name)
	}
	if gotNew.Redeemable.TTS.Name != "Speak" {
		t.Errorf("new tts name = %q, want Speak", gotNew.Redeemable.TTS.Name)
	}
	if w.Current() != gotNew {
		t.Error("Current() does not return the reloaded config")
	}
}

func TestWatcher_KeepsOldOnInvalid(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sounds.json")
	writeFile(t, path, validSounds)

	called := make(chan struct{}, 1)
	w, err := config.NewWatcher(path, config.ParseSounds, func(_, _ *config.SoundConfig) {
		called <- struct{}{}
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	initial := w.Current()
	writeFile(t, path, `{"sounds": [{"name": "x"}]}`)
	touchLater(t, path)

	select {
	case <-called:
		t.Fatal("callback invoked for invalid config")
	case <-time.After(200 * time.Millisecond):
	}
	if w.Current() != initial {
		t.Error("Current() changed after an invalid reload")
	}
}

func TestWatcher_OptionalFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "filter.txt")

	called := make(chan []string, 1)
	w, err := config.NewWatcher(path, config.ParseFilterList, func(_, new []string) {
		called <- new
	}, config.WithInterval(20*time.Millisecond), config.WithOptionalFile())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	if len(w.Current()) != 0 {
		t.Fatalf("Current() = %q, want empty", w.Current())
	}

	writeFile(t, path, "banned\n")
	touchLater(t, path)

	select {
	case got := <-called:
		if !slices.Equal(got, []string{"banned"}) {
			t.Errorf("reloaded = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}
}

func TestWatcher_StopIdempotent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "filter.txt")
	writeFile(t, path, "a\n")

	w, err := config.NewWatcher(path, config.ParseFilterList, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.Stop()
	w.Stop()
}
