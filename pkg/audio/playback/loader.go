package playback

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/yldhj/daftmapler/pkg/audio"
)

const (
	defaultLoadTimeout = 30 * time.Second

	// DefaultMaxClipBytes caps a single downloaded clip.
	DefaultMaxClipBytes = 32 << 20
)

// Compile-time interface assertion.
var _ Loader = (*HTTPLoader)(nil)

// HTTPLoader fetches clips over HTTP and decodes them with [audio.Decode].
// Any non-2xx response is reported as [ErrUnavailable]; for speech this is
// how a filtered or failed synthesis turns into a silent clip.
type HTTPLoader struct {
	client   *http.Client
	decode   func([]byte) (*audio.Buffer, error)
	maxBytes int64
}

// LoaderOption configures an [HTTPLoader].
type LoaderOption func(*HTTPLoader)

// WithHTTPClient replaces the default client (30 s timeout).
func WithHTTPClient(c *http.Client) LoaderOption {
	return func(l *HTTPLoader) {
		if c != nil {
			l.client = c
		}
	}
}

// WithDecoder replaces [audio.Decode].
func WithDecoder(fn func([]byte) (*audio.Buffer, error)) LoaderOption {
	return func(l *HTTPLoader) {
		if fn != nil {
			l.decode = fn
		}
	}
}

// WithMaxClipBytes sets the largest clip the loader accepts. Larger
// responses are [ErrUnavailable].
func WithMaxClipBytes(n int64) LoaderOption {
	return func(l *HTTPLoader) {
		if n > 0 {
			l.maxBytes = n
		}
	}
}

// NewHTTPLoader returns an [HTTPLoader].
func NewHTTPLoader(opts ...LoaderOption) *HTTPLoader {
	l := &HTTPLoader{
		client:   &http.Client{Timeout: defaultLoadTimeout},
		decode:   audio.Decode,
		maxBytes: DefaultMaxClipBytes,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Load implements [Loader].
func (l *HTTPLoader) Load(ctx context.Context, locator string) (*audio.Buffer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, locator, err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, locator, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %s: status %d", ErrUnavailable, locator, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read body: %w", ErrUnavailable, locator, err)
	}
	if int64(len(data)) > l.maxBytes {
		return nil, fmt.Errorf("%w: %s: clip exceeds %d bytes", ErrUnavailable, locator, l.maxBytes)
	}
	buf, err := l.decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, locator, err)
	}
	return buf, nil
}
