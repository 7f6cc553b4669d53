package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the oauth_credentials table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS oauth_credentials (
    provider      TEXT PRIMARY KEY,
    access_token  TEXT NOT NULL,
    refresh_token TEXT NOT NULL,
    expiry        TIMESTAMPTZ,
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// provider is the row key for the single stored credential.
const provider = "twitch"

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL table.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] that uses the given connection
// or pool. Call [PostgresStore.Migrate] before the first query.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the oauth_credentials table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("credential: migrate: %w", err)
	}
	return nil
}

// Load implements [Store].
func (s *PostgresStore) Load(ctx context.Context) (Credential, error) {
	const query = `
		SELECT access_token, refresh_token, expiry
		FROM oauth_credentials
		WHERE provider = $1`

	var (
		c      Credential
		expiry *time.Time
	)
	err := s.db.QueryRow(ctx, query, provider).Scan(&c.AccessToken, &c.RefreshToken, &expiry)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credential{}, ErrNotFound
		}
		return Credential{}, fmt.Errorf("credential: load: %w", err)
	}
	if expiry != nil {
		c.Expiry = *expiry
	}
	if !c.Valid() {
		return Credential{}, fmt.Errorf("%w: empty token", ErrInvalid)
	}
	return c, nil
}

// Save implements [Store].
func (s *PostgresStore) Save(ctx context.Context, c Credential) error {
	const query = `
		INSERT INTO oauth_credentials (provider, access_token, refresh_token, expiry, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (provider) DO UPDATE SET
			access_token  = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expiry        = EXCLUDED.expiry,
			updated_at    = now()`

	var expiry *time.Time
	if !c.Expiry.IsZero() {
		expiry = &c.Expiry
	}
	if _, err := s.db.Exec(ctx, query, provider, c.AccessToken, c.RefreshToken, expiry); err != nil {
		return fmt.Errorf("credential: save: %w", err)
	}
	return nil
}
