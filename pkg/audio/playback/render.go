package playback

import (
	"context"
	"time"

	"github.com/yldhj/daftmapler/pkg/audio"
)

// DefaultFrameDuration is the slice of audio handed to the output per call.
// It matches Discord's 20 ms opus frame.
const DefaultFrameDuration = 20 * time.Millisecond

// Compile-time interface assertion.
var _ Renderer = (*StreamRenderer)(nil)

// RenderOption configures a [StreamRenderer].
type RenderOption func(*StreamRenderer)

// WithFrameDuration sets the size of each frame passed to the output.
func WithFrameDuration(d time.Duration) RenderOption {
	return func(r *StreamRenderer) {
		if d > 0 {
			r.frame = d
		}
	}
}

// WithoutPacing writes frames as fast as the output accepts them.
func WithoutPacing() RenderOption {
	return func(r *StreamRenderer) {
		r.pace = false
	}
}

// StreamRenderer converts each clip to a fixed output format and feeds it
// to an output function one frame at a time, in real time. Volume is applied
// per frame, so a skip mid-clip never leaves amplified samples behind.
//
// A StreamRenderer is driven by a single engine and is not safe for
// concurrent Render calls.
type StreamRenderer struct {
	output func([]byte) error
	conv   audio.FormatConverter
	frame  time.Duration
	pace   bool
}

// NewStreamRenderer creates a renderer that emits PCM in format to output.
func NewStreamRenderer(format audio.Format, output func([]byte) error, opts ...RenderOption) *StreamRenderer {
	r := &StreamRenderer{
		output: output,
		conv:   audio.FormatConverter{Target: format},
		frame:  DefaultFrameDuration,
		pace:   true,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Render implements [Renderer].
func (r *StreamRenderer) Render(ctx context.Context, buf *audio.Buffer, volume float64) error {
	pcm := r.conv.Convert(buf).PCM
	size := r.conv.Target.FrameBytes(r.frame)
	if size <= 0 {
		size = len(pcm)
	}

	var tick <-chan time.Time
	if r.pace {
		ticker := time.NewTicker(r.frame)
		defer ticker.Stop()
		tick = ticker.C
	}

	for off := 0; off < len(pcm); off += size {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(off+size, len(pcm))
		if err := r.output(audio.ApplyGain(pcm[off:end], volume)); err != nil {
			return err
		}
		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		}
	}
	return nil
}
