// Package audio holds the PCM primitives shared by the playback engine and
// its output sinks: decoded buffers, format conversion, gain and decoding.
//
// All PCM in this package is signed 16-bit little-endian, interleaved when
// more than one channel is present.
package audio

import "time"

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// FrameBytes returns the number of bytes covering d of audio in this format.
// The result is always a whole number of sample frames.
func (f Format) FrameBytes(d time.Duration) int {
	samples := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	return samples * f.Channels * 2
}

// Buffer is a fully decoded clip. Buffers handed out by the playback cache
// are shared; callers must treat PCM as read-only.
type Buffer struct {
	Format Format
	PCM    []byte
}

// Empty reports whether b carries no audible samples. A nil buffer is empty.
func (b *Buffer) Empty() bool {
	return b == nil || len(b.PCM) < 2
}

// Duration returns the playback length of b.
func (b *Buffer) Duration() time.Duration {
	if b.Empty() || b.Format.SampleRate <= 0 || b.Format.Channels <= 0 {
		return 0
	}
	samples := len(b.PCM) / 2 / b.Format.Channels
	return time.Duration(samples) * time.Second / time.Duration(b.Format.SampleRate)
}
