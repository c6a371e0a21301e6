package idmap

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kailas-cloud/vecmigrate/internal/domain/migration"
)

// FileStore appends mappings to one JSON-lines file per run key.
// Each line is a JSON object of source id to target id; later lines win.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create idmap dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the mapping file of a run.
func (s *FileStore) Path(runKey string) string {
	return filepath.Join(s.dir, "idmap-"+runKey+".jsonl")
}

// Append writes pairs as one line and syncs the file.
func (s *FileStore) Append(_ context.Context, runKey string, pairs migration.IDMapping) error {
	if len(pairs) == 0 {
		return nil
	}
	line, err := json.Marshal(pairs)
	if err != nil {
		return fmt.Errorf("marshal idmap: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.Path(runKey)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open idmap %s: %w", path, err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("append idmap %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync idmap %s: %w", path, err)
	}
	return f.Close()
}

// Load merges every line of the run's file. A missing file yields an empty map.
// A torn last line from a crash mid-append is skipped.
func (s *FileStore) Load(_ context.Context, runKey string) (migration.IDMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(migration.IDMapping)
	path := s.Path(runKey)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return out, nil
		}
		return nil, fmt.Errorf("open idmap %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	var torn error
	for n := 1; sc.Scan(); n++ {
		if torn != nil {
			return nil, torn
		}
		var pairs map[string]string
		if err := json.Unmarshal(sc.Bytes(), &pairs); err != nil {
			torn = fmt.Errorf("parse idmap %s line %d: %w", path, n, err)
			continue
		}
		for k, v := range pairs {
			out[k] = v
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read idmap %s: %w", path, err)
	}
	return out, nil
}

// Delete removes the run's file. A missing file is not an error.
func (s *FileStore) Delete(_ context.Context, runKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.Path(runKey)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete idmap: %w", err)
	}
	return nil
}
