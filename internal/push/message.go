// Package push carries playback directives from the backend to connected
// players over WebSocket text frames.
//
// Every frame is an [Envelope] {"event": "<name>", "data": {...}}. The
// server sends tts and sfx; clients send skip, which the server relays to
// every client.
package push

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event names.
const (
	EventTTS  = "tts"
	EventSFX  = "sfx"
	EventSkip = "skip"
)

// Volumes applied when a directive carries none.
const (
	DefaultTTSVolume = 0.75
	DefaultSFXVolume = 1.0
)

// ErrUnknownEvent is returned by [Decode] for an unrecognised event name.
var ErrUnknownEvent = errors.New("push: unknown event")

// Envelope is the wire form of a [Directive].
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Directive is one playback instruction: [TTS], [SFX] or [Skip].
type Directive interface {
	// Event returns the wire event name.
	Event() string
	isDirective()
}

// TTS asks players to speak Text.
type TTS struct {
	Text   string  `json:"text"`
	Volume float64 `json:"volume"`
}

// SFX asks players to play the sound file File.
type SFX struct {
	File   string  `json:"file"`
	Volume float64 `json:"volume"`
}

// Skip interrupts the item that is currently playing.
type Skip struct{}

func (TTS) Event() string  { return EventTTS }
func (SFX) Event() string  { return EventSFX }
func (Skip) Event() string { return EventSkip }

func (TTS) isDirective()  {}
func (SFX) isDirective()  {}
func (Skip) isDirective() {}

// Encode returns the envelope for d.
func Encode(d Directive) ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("push: marshal %s: %w", d.Event(), err)
	}
	out, err := json.Marshal(Envelope{Event: d.Event(), Data: data})
	if err != nil {
		return nil, fmt.Errorf("push: marshal envelope: %w", err)
	}
	return out, nil
}

// Decode parses an envelope. A missing volume takes the default for the
// directive kind.
func Decode(frame []byte) (Directive, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("push: decode envelope: %w", err)
	}

	switch env.Event {
	case EventTTS:
		var p struct {
			Text   string   `json:"text"`
			Volume *float64 `json:"volume"`
		}
		if err := unmarshalData(env.Data, &p); err != nil {
			return nil, err
		}
		return TTS{Text: p.Text, Volume: orDefault(p.Volume, DefaultTTSVolume)}, nil

	case EventSFX:
		var p struct {
			File   string   `json:"file"`
			Volume *float64 `json:"volume"`
		}
		if err := unmarshalData(env.Data, &p); err != nil {
			return nil, err
		}
		return SFX{File: p.File, Volume: orDefault(p.Volume, DefaultSFXVolume)}, nil

	case EventSkip:
		return Skip{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("push: decode data: %w", err)
	}
	return nil
}

func orDefault(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
