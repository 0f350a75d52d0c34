// File: internal/store/file.go
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FileStore keeps one JSON snapshot per session in a directory. Saves go
// through a temporary file in the same directory followed by a rename, so
// concurrent readers never see a torn snapshot.
type FileStore struct {
	dir    string
	logger *zap.Logger
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("store: creating session dir: %w", err)
	}
	return &FileStore{dir: dir, logger: logger.Named("store")}, nil
}

func (f *FileStore) path(id string) string {
	return filepath.Join(f.dir, id+".json")
}

// Load reads the snapshot for the session ID.
func (f *FileStore) Load(ctx context.Context, id string) (*SessionState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.path(id))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: reading session %q: %w", id, err)
	}

	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("store: decoding session %q: %w", id, err)
	}
	return &state, nil
}

// Save writes the snapshot atomically: marshal to a temp file in the
// target directory, fsync, then rename over the destination.
func (f *FileStore) Save(ctx context.Context, id string, state *SessionState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	state.SavedAt = time.Now().UTC()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encoding session %q: %w", id, err)
	}

	tmp, err := os.CreateTemp(f.dir, id+".*.tmp")
	if err != nil {
		return fmt.Errorf("store: creating temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: writing temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: syncing temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: closing temp snapshot: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("store: setting snapshot mode: %w", err)
	}

	if err := os.Rename(tmpName, f.path(id)); err != nil {
		return fmt.Errorf("store: replacing snapshot for %q: %w", id, err)
	}

	f.logger.Debug("Session snapshot saved",
		zap.String("session_id", id),
		zap.Int("cookies", len(state.Cookies)),
	)
	return nil
}
