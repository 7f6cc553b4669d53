// Package credential owns the Twitch OAuth credential: how it is stored,
// how its presence is awaited at startup, and how token rotations are
// persisted.
package credential

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"
)

var (
	// ErrNotFound is returned by [Store.Load] when no credential is stored.
	ErrNotFound = errors.New("credential: not found")

	// ErrInvalid is returned by [Store.Load] when the stored record is
	// malformed.
	ErrInvalid = errors.New("credential: malformed record")
)

// Credential is the durable OAuth record. A zero Expiry means the expiry is
// unknown.
type Credential struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Valid reports whether both tokens are present. An expired credential is
// still valid; it only needs a refresh.
func (c Credential) Valid() bool {
	return c.AccessToken != "" && c.RefreshToken != ""
}

// Token converts c to an oauth2 token.
func (c Credential) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    "bearer",
		Expiry:       c.Expiry,
	}
}

// FromToken converts an oauth2 token to a Credential.
func FromToken(t *oauth2.Token) Credential {
	return Credential{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry,
	}
}

// Store persists a single Credential. Load never returns a cached value.
type Store interface {
	// Load returns the stored credential, [ErrNotFound] when there is none,
	// or [ErrInvalid] when the stored record is malformed.
	Load(ctx context.Context) (Credential, error)

	// Save replaces the stored credential.
	Save(ctx context.Context, c Credential) error
}
