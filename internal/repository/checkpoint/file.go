// Package checkpoint persists resume points of interrupted migrations.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kailas-cloud/vecmigrate/internal/domain"
	"github.com/kailas-cloud/vecmigrate/internal/domain/migration"
)

// FileStore keeps one JSON file per run key in a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create checkpoint dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, "checkpoint-"+key+".json")
}

// Load returns domain.ErrCheckpointNotFound when the run has no checkpoint.
func (s *FileStore) Load(_ context.Context, key string) (migration.Checkpoint, error) {
	path := s.path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return migration.Checkpoint{}, domain.ErrCheckpointNotFound
		}
		return migration.Checkpoint{}, fmt.Errorf("read checkpoint %s: %w", path, err)
	}
	var cp migration.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return migration.Checkpoint{}, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	return cp, nil
}

// Save writes the checkpoint atomically (tmp file + rename).
func (s *FileStore) Save(_ context.Context, cp migration.Checkpoint) error {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	path := s.path(cp.Key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename checkpoint %s: %w", path, err)
	}
	return nil
}

// Delete removes the checkpoint. A missing file is not an error.
func (s *FileStore) Delete(_ context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}
