package playback_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yldhj/daftmapler/pkg/audio"
	"github.com/yldhj/daftmapler/pkg/audio/playback"
)

// clip returns a one-sample buffer whose first byte identifies it.
func clip(tag byte) *audio.Buffer {
	return &audio.Buffer{Format: audio.Format{SampleRate: 8000, Channels: 1}, PCM: []byte{tag, 0}}
}

// fakeLoader serves clips by locator. Locators listed in gates block until
// the gate channel is closed; locators in fails return an error.
type fakeLoader struct {
	mu    sync.Mutex
	clips map[string]*audio.Buffer
	gates map[string]chan struct{}
	fails map[string]error
	calls map[string]int
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		clips: make(map[string]*audio.Buffer),
		gates: make(map[string]chan struct{}),
		fails: make(map[string]error),
		calls: make(map[string]int),
	}
}

func (l *fakeLoader) add(locator string, tag byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clips[locator] = clip(tag)
}

func (l *fakeLoader) gate(locator string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch := make(chan struct{})
	l.gates[locator] = ch
	return ch
}

func (l *fakeLoader) Load(ctx context.Context, locator string) (*audio.Buffer, error) {
	l.mu.Lock()
	l.calls[locator]++
	gate := l.gates[locator]
	buf, ok := l.clips[locator]
	err := l.fails[locator]
	l.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", playback.ErrUnavailable, locator)
	}
	return buf, nil
}

func (l *fakeLoader) callCount(locator string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[locator]
}

// fakeRenderer records the tag of every rendered clip. Clips whose tag is in
// block render until their context is cancelled.
type fakeRenderer struct {
	block map[byte]bool
	delay time.Duration

	active    atomic.Int32
	maxActive atomic.Int32
	started   chan byte

	mu     sync.Mutex
	played []byte
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{block: map[byte]bool{}, started: make(chan byte, 64)}
}

func (r *fakeRenderer) Render(ctx context.Context, buf *audio.Buffer, _ float64) error {
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		m := r.maxActive.Load()
		if n <= m || r.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	tag := buf.PCM[0]
	r.started <- tag

	if r.block[tag] {
		<-ctx.Done()
		return ctx.Err()
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	r.played = append(r.played, tag)
	r.mu.Unlock()
	return nil
}

func (r *fakeRenderer) playedTags() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.played)
}

// outcomes collects observer callbacks.
type outcomes struct {
	mu  sync.Mutex
	got []string
}

func (o *outcomes) record(src playback.Source, out playback.Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.got = append(o.got, src.Locator+"="+string(out))
}

func (o *outcomes) list() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.got...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEngine_FIFOOrderDespiteSlowResolve(t *testing.T) {
	t.Parallel()

	loader := newFakeLoader()
	loader.add("a", 'A')
	loader.add("b", 'B')
	loader.add("c", 'C')
	gateA := loader.gate("a")

	r := newFakeRenderer()
	e := playback.New(loader, r)
	defer e.Close()

	e.Enqueue(playback.Source{Locator: "a"}, 1)
	e.Enqueue(playback.Source{Locator: "b"}, 1)
	e.Enqueue(playback.Source{Locator: "c"}, 1)

	// B and C resolve first but must wait for A.
	time.Sleep(30 * time.Millisecond)
	if got := r.playedTags(); got != "" {
		t.Fatalf("played %q before head resolved", got)
	}
	close(gateA)

	waitFor(t, "three clips", func() bool { return len(r.playedTags()) == 3 })
	if got := r.playedTags(); got != "ABC" {
		t.Errorf("order = %q, want %q", got, "ABC")
	}
}

func TestEngine_NeverRendersTwoAtOnce(t *testing.T) {
	t.Parallel()

	loader := newFakeLoader()
	for i := range 20 {
		loader.add(fmt.Sprint(i), byte('a'+i))
	}
	r := newFakeRenderer()
	r.delay = time.Millisecond
	e := playback.New(loader, r)
	defer e.Close()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Enqueue(playback.Source{Locator: fmt.Sprint(i), Cacheable: i%2 == 0}, 1)
		}()
	}
	wg.Wait()

	waitFor(t, "all clips", func() bool { return len(r.playedTags()) == 20 })
	if m := r.maxActive.Load(); m != 1 {
		t.Errorf("max concurrent renders = %d, want 1", m)
	}
}

func TestEngine_SkipAdvancesImmediately(t *testing.T) {
	t.Parallel()

	loader := newFakeLoader()
	loader.add("long", 'L')
	loader.add("next", 'N')
	r := newFakeRenderer()
	r.block['L'] = true

	var obs outcomes
	e := playback.New(loader, r, playback.WithObserver(obs.record))
	defer e.Close()

	e.Enqueue(playback.Source{Locator: "long"}, 1)
	e.Enqueue(playback.Source{Locator: "next"}, 1)

	if tag := <-r.started; tag != 'L' {
		t.Fatalf("first render = %c, want L", tag)
	}
	waitFor(t, "playing state", e.Playing)

	start := time.Now()
	if !e.Skip() {
		t.Fatal("Skip() = false while a clip was playing")
	}
	waitFor(t, "next clip", func() bool { return r.playedTags() == "N" })
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("skip took %v", elapsed)
	}

	waitFor(t, "two outcomes", func() bool { return len(obs.list()) == 2 })
	got := obs.list()
	if got[0] != "long=skipped" || got[1] != "next=played" {
		t.Errorf("outcomes = %v", got)
	}
}

func TestEngine_SkipWhenIdleIsNoop(t *testing.T) {
	t.Parallel()

	loader := newFakeLoader()
	loader.add("a", 'A')
	loader.add("b", 'B')
	gateA := loader.gate("a")
	r := newFakeRenderer()
	e := playback.New(loader, r)
	defer e.Close()

	if e.Skip() {
		t.Fatal("Skip() on an empty engine reported true")
	}

	// A is still resolving, so nothing is rendering yet.
	e.Enqueue(playback.Source{Locator: "a"}, 1)
	e.Enqueue(playback.Source{Locator: "b"}, 1)
	time.Sleep(20 * time.Millisecond)
	if e.Skip() {
		t.Fatal("Skip() reported true while nothing was rendering")
	}
	if n := e.Len(); n != 1 {
		t.Errorf("Len() = %d after idle skip, want 1", n)
	}

	close(gateA)
	waitFor(t, "both clips", func() bool { return r.playedTags() == "AB" })
}

func TestEngine_UnavailableClipIsSilent(t *testing.T) {
	t.Parallel()

	loader := newFakeLoader()
	loader.fails["broken"] = errors.New("404")
	loader.add("ok", 'K')
	r := newFakeRenderer()

	var obs outcomes
	e := playback.New(loader, r, playback.WithObserver(obs.record))
	defer e.Close()

	e.Enqueue(playback.Source{Locator: "broken", Cacheable: true}, 1)
	e.Enqueue(playback.Source{}, 1)
	e.Enqueue(playback.Source{Locator: "ok"}, 1)

	waitFor(t, "three outcomes", func() bool { return len(obs.list()) == 3 })
	want := []string{"broken=failed", "=silent", "ok=played"}
	for i, w := range want {
		if got := obs.list()[i]; got != w {
			t.Errorf("outcome[%d] = %q, want %q", i, got, w)
		}
	}
	if got := r.playedTags(); got != "K" {
		t.Errorf("rendered %q, want only K", got)
	}
}

func TestEngine_CacheableLoadsOnce(t *testing.T) {
	t.Parallel()

	loader := newFakeLoader()
	loader.add("sound/clap.wav", 'C')
	r := newFakeRenderer()
	e := playback.New(loader, r)
	defer e.Close()

	e.Enqueue(playback.Source{Locator: "sound/clap.wav", Cacheable: true}, 1)
	waitFor(t, "first clap", func() bool { return r.playedTags() == "C" })
	e.Enqueue(playback.Source{Locator: "sound/clap.wav", Cacheable: true}, 0.5)
	waitFor(t, "second clap", func() bool { return r.playedTags() == "CC" })

	if n := loader.callCount("sound/clap.wav"); n != 1 {
		t.Errorf("loader called %d times, want 1", n)
	}
}

func TestEngine_SpeechBypassesCache(t *testing.T) {
	t.Parallel()

	loader := newFakeLoader()
	loader.add("tts?text=hi", 'T')
	r := newFakeRenderer()
	e := playback.New(loader, r)
	defer e.Close()

	e.Enqueue(playback.Source{Locator: "tts?text=hi"}, 0.75)
	e.Enqueue(playback.Source{Locator: "tts?text=hi"}, 0.75)
	waitFor(t, "two utterances", func() bool { return r.playedTags() == "TT" })

	if n := loader.callCount("tts?text=hi"); n != 2 {
		t.Errorf("loader called %d times, want 2", n)
	}
}

func TestEngine_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	loader := newFakeLoader()
	loader.add("x", 'X')
	r := newFakeRenderer()
	r.block['X'] = true
	e := playback.New(loader, r)

	e.Enqueue(playback.Source{Locator: "x"}, 1)
	<-r.started

	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	e.Enqueue(playback.Source{Locator: "x"}, 1)
	if n := e.Len(); n != 0 {
		t.Errorf("Len() after Close = %d, want 0", n)
	}
}
