// Package twitch is a small client for the parts of the Twitch API that
// daftmapler needs: the OAuth endpoints, the Helix EventSub subscription
// endpoint and the EventSub WebSocket message schema.
package twitch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// Twitch identity endpoints.
const (
	AuthURL     = "https://id.twitch.tv/oauth2/authorize"
	TokenURL    = "https://id.twitch.tv/oauth2/token"
	ValidateURL = "https://id.twitch.tv/oauth2/validate"

	HelixURL    = "https://api.twitch.tv/helix"
	EventSubURL = "wss://eventsub.wss.twitch.tv/ws"
)

// Scopes are the OAuth scopes requested from the broadcaster.
var Scopes = []string{"channel:read:redemptions"}

var (
	// ErrUnauthorized is returned when Twitch rejects a token (HTTP 401).
	ErrUnauthorized = errors.New("twitch: unauthorized")

	// ErrForbidden is returned when a token lacks a required scope (HTTP 403).
	ErrForbidden = errors.New("twitch: forbidden")
)

// OAuthConfig returns the oauth2 configuration for the Twitch application.
// Twitch expects the client credentials in the request body.
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   AuthURL,
			TokenURL:  TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// Identity is the response of the token validation endpoint.
type Identity struct {
	ClientID  string   `json:"client_id"`
	Login     string   `json:"login"`
	UserID    string   `json:"user_id"`
	Scopes    []string `json:"scopes"`
	ExpiresIn int      `json:"expires_in"`
}

// Client calls the Twitch REST endpoints.
type Client struct {
	http        *http.Client
	clientID    string
	validateURL string
	helixURL    string
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. The default has a 30 s timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithValidateURL overrides the token validation endpoint.
func WithValidateURL(u string) Option {
	return func(cl *Client) {
		cl.validateURL = u
	}
}

// WithHelixURL overrides the Helix API base URL.
func WithHelixURL(u string) Option {
	return func(cl *Client) {
		cl.helixURL = u
	}
}

// NewClient creates a Client for the application clientID.
func NewClient(clientID string, opts ...Option) *Client {
	c := &Client{
		http:        &http.Client{Timeout: 30 * time.Second},
		clientID:    clientID,
		validateURL: ValidateURL,
		helixURL:    HelixURL,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Validate returns the identity behind accessToken. A rejected token yields
// [ErrUnauthorized].
func (c *Client) Validate(ctx context.Context, accessToken string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.validateURL, nil)
	if err != nil {
		return nil, fmt.Errorf("twitch: build validate request: %w", err)
	}
	req.Header.Set("Authorization", "OAuth "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twitch: validate: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, fmt.Errorf("twitch: validate: %w", err)
	}

	var id Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return nil, fmt.Errorf("twitch: decode validate response: %w", err)
	}
	return &id, nil
}

// StatusError is a non-2xx response from Twitch.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Unwrap maps 401 and 403 to [ErrUnauthorized] and [ErrForbidden].
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
}
