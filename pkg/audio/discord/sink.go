// Package discord plays rendered clips into a Discord voice channel. Clips
// are converted to 48 kHz stereo, cut into 20 ms frames, opus-encoded and
// sent on the voice connection.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/yldhj/daftmapler/pkg/audio"
	"github.com/yldhj/daftmapler/pkg/audio/playback"
)

// Format is the PCM format Discord voice expects.
var Format = audio.Format{SampleRate: opusSampleRate, Channels: opusChannels}

// Compile-time interface assertion.
var _ playback.Renderer = (*Sink)(nil)

// Sink is a [playback.Renderer] backed by a Discord voice connection.
// It marks the bot as speaking for the duration of each clip.
type Sink struct {
	send       chan<- []byte
	speaking   func(bool) error
	encode     func([]byte) ([]byte, error)
	disconnect func() error

	mu      sync.Mutex
	pending []byte // partial frame carried between writes

	closeOnce sync.Once
}

// Join connects session to the voice channel and returns a Sink for it.
// The session must already be open.
func Join(session *discordgo.Session, guildID, channelID string) (*Sink, error) {
	// mute=false (we send audio), deaf=true (we never listen).
	vc, err := session.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	enc, err := newOpusEncoder()
	if err != nil {
		_ = vc.Disconnect()
		return nil, err
	}
	return newSink(vc.OpusSend, vc.Speaking, enc.encode, vc.Disconnect), nil
}

func newSink(send chan<- []byte, speaking func(bool) error, encode func([]byte) ([]byte, error), disconnect func() error) *Sink {
	return &Sink{
		send:       send,
		speaking:   speaking,
		encode:     encode,
		disconnect: disconnect,
	}
}

// Render implements [playback.Renderer].
func (s *Sink) Render(ctx context.Context, buf *audio.Buffer, volume float64) error {
	s.setSpeaking(true)
	defer s.setSpeaking(false)

	// The voice connection drains OpusSend in real time, so the channel
	// send paces the stream.
	r := playback.NewStreamRenderer(Format, func(pcm []byte) error {
		return s.write(ctx, pcm)
	}, playback.WithoutPacing())
	err := r.Render(ctx, buf, volume)

	s.mu.Lock()
	tail := s.pending
	s.pending = nil
	s.mu.Unlock()

	if err == nil && len(tail) > 0 {
		frame := make([]byte, opusFrameBytes)
		copy(frame, tail)
		err = s.sendFrame(ctx, frame)
	}
	return err
}

// write buffers pcm and sends every complete opus frame.
func (s *Sink) write(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	s.pending = append(s.pending, pcm...)
	var frames [][]byte
	for len(s.pending) >= opusFrameBytes {
		frames = append(frames, s.pending[:opusFrameBytes:opusFrameBytes])
		s.pending = s.pending[opusFrameBytes:]
	}
	s.mu.Unlock()

	for _, f := range frames {
		if err := s.sendFrame(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) sendFrame(ctx context.Context, frame []byte) error {
	packet, err := s.encode(frame)
	if err != nil {
		slog.Warn("discord: dropping frame", "err", err)
		return nil
	}
	select {
	case s.send <- packet:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sink) setSpeaking(b bool) {
	if s.speaking == nil {
		return
	}
	if err := s.speaking(b); err != nil {
		slog.Warn("discord: speaking notification error", "speaking", b, "err", err)
	}
}

// Close leaves the voice channel. It is safe to call more than once.
func (s *Sink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.disconnect != nil {
			err = s.disconnect()
		}
	})
	return err
}
