package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// FileStore is a [Store] backed by a JSON file of the form
//
//	{"accessToken": "...", "refreshToken": "...", "expiryTimestamp": 1700000000000}
//
// where expiryTimestamp is Unix milliseconds or null.
type FileStore struct {
	path string
}

// Compile-time interface check.
var _ Store = (*FileStore)(nil)

// NewFileStore returns a FileStore for path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file the store reads and writes.
func (s *FileStore) Path() string { return s.path }

type fileRecord struct {
	AccessToken     string `json:"accessToken"`
	RefreshToken    string `json:"refreshToken"`
	ExpiryTimestamp *int64 `json:"expiryTimestamp"`
}

// Load implements [Store].
func (s *FileStore) Load(_ context.Context) (Credential, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Credential{}, ErrNotFound
	}
	if err != nil {
		return Credential{}, fmt.Errorf("credential: read %q: %w", s.path, err)
	}
	return decodeRecord(data)
}

// Save implements [Store]. The file is written atomically with mode 0o600.
func (s *FileStore) Save(_ context.Context, c Credential) error {
	rec := fileRecord{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
	}
	if !c.Expiry.IsZero() {
		ms := c.Expiry.UnixMilli()
		rec.ExpiryTimestamp = &ms
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("credential: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("credential: create dir %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tokens-*.json")
	if err != nil {
		return fmt.Errorf("credential: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("credential: write: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("credential: chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("credential: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("credential: rename: %w", err)
	}
	return nil
}

// decodeRecord parses a stored record. All three keys must be present with
// the right JSON types; expiryTimestamp may be null.
func decodeRecord(data []byte) (Credential, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Credential{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	var c Credential
	if err := decodeString(raw, "accessToken", &c.AccessToken); err != nil {
		return Credential{}, err
	}
	if err := decodeString(raw, "refreshToken", &c.RefreshToken); err != nil {
		return Credential{}, err
	}

	exp, ok := raw["expiryTimestamp"]
	if !ok {
		return Credential{}, fmt.Errorf("%w: expiryTimestamp is missing", ErrInvalid)
	}
	if !bytes.Equal(bytes.TrimSpace(exp), []byte("null")) {
		var ms float64
		if err := json.Unmarshal(exp, &ms); err != nil {
			return Credential{}, fmt.Errorf("%w: expiryTimestamp is not a number", ErrInvalid)
		}
		c.Expiry = time.UnixMilli(int64(ms))
	}

	if !c.Valid() {
		return Credential{}, fmt.Errorf("%w: empty token", ErrInvalid)
	}
	return c, nil
}

func decodeString(raw map[string]json.RawMessage, key string, dst *string) error {
	v, ok := raw[key]
	if !ok {
		return fmt.Errorf("%w: %s is missing", ErrInvalid, key)
	}
	if err := json.Unmarshal(v, dst); err != nil || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return fmt.Errorf("%w: %s is not a string", ErrInvalid, key)
	}
	return nil
}
