package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/MrWong99/mouthpiece/pkg/provider/llm"
)

// HistoryStore persists the conversation between runs.
type HistoryStore interface {
	// Load returns the stored history, or nil with a nil error when none
	// exists.
	Load() ([]llm.Message, error)

	// Save replaces the stored history.
	Save(msgs []llm.Message) error
}

// FileHistory stores the history as an indented JSON array.
type FileHistory struct {
	Path string
}

var _ HistoryStore = FileHistory{}

// Load implements HistoryStore.
func (f FileHistory) Load() ([]llm.Message, error) {
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("agent: read history: %w", err)
	}
	var msgs []llm.Message
	if err := json.Unmarshal(b, &msgs); err != nil {
		return nil, fmt.Errorf("agent: decode history %q: %w", f.Path, err)
	}
	return msgs, nil
}

// Save implements HistoryStore. The file is replaced atomically.
func (f FileHistory) Save(msgs []llm.Message) error {
	b, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return fmt.Errorf("agent: encode history: %w", err)
	}
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("agent: create history dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".history-*")
	if err != nil {
		return fmt.Errorf("agent: write history: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("agent: write history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("agent: write history: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("agent: replace history: %w", err)
	}
	return nil
}
