// Package remote provides a TTS provider for plain HTTP speech servers.
//
// The server is called with GET and the utterance in the text query
// parameter, e.g.
//
//	GET http://localhost:5002/api/tts?text=hello
//
// and must answer 200 with the encoded audio in the body. Any query
// parameters already present on the server URL are preserved.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/yldhj/daftmapler/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultTimeout = 30 * time.Second

	// maxAudioBytes bounds a single response body.
	maxAudioBytes = 32 << 20
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the HTTP client used for synthesis requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements tts.Provider against an HTTP speech server.
type Provider struct {
	serverURL  *url.URL
	httpClient *http.Client
}

// New creates a Provider targeting serverURL, which must be an absolute
// http or https URL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("remote tts: serverURL must not be empty")
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("remote tts: parse server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("remote tts: unsupported scheme %q", u.Scheme)
	}
	p := &Provider{
		serverURL:  u,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) (tts.Speech, error) {
	u := *p.serverURL
	q := u.Query()
	q.Set("text", text)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return tts.Speech{}, fmt.Errorf("remote tts: create request: %w", err)
	}
	req.Header.Set("Accept", "audio/*")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return tts.Speech{}, fmt.Errorf("remote tts: GET %s: %w", p.serverURL.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return tts.Speech{}, fmt.Errorf("remote tts: GET %s returned status %d", p.serverURL.Redacted(), resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return tts.Speech{}, fmt.Errorf("remote tts: read response: %w", err)
	}
	if len(body) == 0 {
		return tts.Speech{}, errors.New("remote tts: empty response body")
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = tts.DefaultContentType
	}
	return tts.Speech{Audio: body, ContentType: ct}, nil
}
