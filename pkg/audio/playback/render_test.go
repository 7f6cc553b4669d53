package playback_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yldhj/daftmapler/pkg/audio"
	"github.com/yldhj/daftmapler/pkg/audio/playback"
)

func TestStreamRenderer_FramesAndGain(t *testing.T) {
	format := audio.Format{SampleRate: 1000, Channels: 1}
	var frames [][]byte
	r := playback.NewStreamRenderer(format, func(b []byte) error {
		frames = append(frames, b)
		return nil
	}, playback.WithFrameDuration(2*time.Millisecond), playback.WithoutPacing())

	// Five samples at 1 kHz, two per frame.
	pcm := []byte{100, 0, 100, 0, 100, 0, 100, 0, 100, 0}
	if err := r.Render(t.Context(), &audio.Buffer{Format: format, PCM: pcm}, 0.5); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("frames = %d, want 3", len(frames))
	}
	if len(frames[2]) != 2 {
		t.Errorf("last frame = %d bytes, want 2", len(frames[2]))
	}
	if frames[0][0] != 50 {
		t.Errorf("first sample = %d, want 50 after half gain", frames[0][0])
	}
}

func TestStreamRenderer_StopsOnCancel(t *testing.T) {
	format := audio.Format{SampleRate: 48000, Channels: 2}
	ctx, cancel := context.WithCancel(t.Context())

	calls := 0
	r := playback.NewStreamRenderer(format, func([]byte) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return nil
	})

	// One second of silence; paced rendering would take a full second.
	buf := &audio.Buffer{Format: format, PCM: make([]byte, format.FrameBytes(time.Second))}
	start := time.Now()
	err := r.Render(ctx, buf, 1)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("render did not stop promptly after cancel")
	}
	if calls != 2 {
		t.Errorf("output called %d times, want 2", calls)
	}
}
