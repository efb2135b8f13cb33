package vts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// TokenStore persists the authentication token between sessions.
type TokenStore interface {
	// Load returns the cached token, or "" with a nil error when none exists.
	Load() (string, error)

	// Save replaces the cached token.
	Save(token string) error
}

// FileTokenStore keeps the token in a single text file.
type FileTokenStore struct {
	Path string
}

// Load implements TokenStore. A missing file is not an error.
func (s FileTokenStore) Load() (string, error) {
	if s.Path == "" {
		return "", nil
	}
	b, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("vts: read token %q: %w", s.Path, err)
	}
	return strings.TrimSpace(string(b)), nil
}

// Save implements TokenStore. The file is replaced atomically so a crash
// mid-write never leaves a truncated token behind.
func (s FileTokenStore) Save(token string) error {
	if s.Path == "" {
		return nil
	}
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("vts: create token dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".token-*")
	if err != nil {
		return fmt.Errorf("vts: write token: %w", err)
	}
	if _, err := tmp.WriteString(token); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("vts: write token: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("vts: write token: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("vts: replace token: %w", err)
	}
	return nil
}

// MemoryTokenStore is an in-process TokenStore, useful when the token must
// not touch disk.
type MemoryTokenStore struct {
	Token string
	Saves int
}

// Load implements TokenStore.
func (s *MemoryTokenStore) Load() (string, error) { return s.Token, nil }

// Save implements TokenStore.
func (s *MemoryTokenStore) Save(token string) error {
	s.Token = token
	s.Saves++
	return nil
}
