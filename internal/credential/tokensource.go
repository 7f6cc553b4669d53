package credential

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/oauth2"
)

// TokenSource is an [oauth2.TokenSource] that persists every rotated token
// to a [Store] before handing it out.
type TokenSource struct {
	ctx   context.Context
	cfg   *oauth2.Config
	store Store

	mu      sync.Mutex
	base    oauth2.TokenSource
	last    string
	refresh string
}

// Compile-time interface check.
var _ oauth2.TokenSource = (*TokenSource)(nil)

// NewTokenSource returns a TokenSource seeded with cred. ctx is used for
// token refresh requests and store writes.
func NewTokenSource(ctx context.Context, cfg *oauth2.Config, cred Credential, store Store) *TokenSource {
	return &TokenSource{
		ctx:     ctx,
		cfg:     cfg,
		store:   store,
		base:    cfg.TokenSource(ctx, cred.Token()),
		last:    cred.AccessToken,
		refresh: cred.RefreshToken,
	}
}

// Token implements [oauth2.TokenSource]. When the underlying source
// refreshed, the new credential is saved first; a failed save withholds the
// token.
func (s *TokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenLocked()
}

// ForceRefresh discards the current access token and obtains a new one with
// the refresh token, persisting it like [TokenSource.Token].
func (s *TokenSource) ForceRefresh() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = s.cfg.TokenSource(s.ctx, &oauth2.Token{RefreshToken: s.refresh})
	return s.tokenLocked()
}

func (s *TokenSource) tokenLocked() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken == s.last {
		return tok, nil
	}

	if err := s.store.Save(s.ctx, FromToken(tok)); err != nil {
		return nil, fmt.Errorf("credential: persist rotated token: %w", err)
	}
	slog.Info("credential: stored refreshed token", "expiry", tok.Expiry)
	s.last = tok.AccessToken
	s.refresh = tok.RefreshToken
	return tok, nil
}
