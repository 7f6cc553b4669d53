// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Speech: tts.Speech{Audio: wav, ContentType: "audio/wav"}}
//	speech, _ := p.Synthesize(ctx, "hello")
package mock

import (
	"context"
	"sync"

	"github.com/yldhj/daftmapler/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Speech is returned by Synthesize when Err is nil.
	Speech tts.Speech

	// Err, if non-nil, is returned by Synthesize.
	Err error

	// Calls records the text of every Synthesize call in order.
	Calls []string
}

// Synthesize records the call and returns Speech, Err.
func (p *Provider) Synthesize(_ context.Context, text string) (tts.Speech, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, text)
	if p.Err != nil {
		return tts.Speech{}, p.Err
	}
	return p.Speech, nil
}

// CallCount returns the number of Synthesize calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}
