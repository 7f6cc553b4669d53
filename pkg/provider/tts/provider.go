// Package tts defines the Provider interface for text-to-speech backends.
//
// A provider turns one utterance into a complete encoded audio payload. The
// payload is proxied to the caller as-is, so the content type travels with
// it.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text into audio. The returned Speech holds the
	// whole payload; no partial audio is returned on error.
	Synthesize(ctx context.Context, text string) (Speech, error)
}
