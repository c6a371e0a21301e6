package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kailas-cloud/vecmigrate/internal/domain/migration"
)

// FileSink writes reports into a local directory.
type FileSink struct {
	dir string
}

// NewFileSink creates a sink writing into dir.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: filepath.Clean(dir)}
}

// Put writes <dir>/<migrationId>.json and returns its path.
func (s *FileSink) Put(_ context.Context, res migration.Result) (string, error) {
	data, err := encode(res)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return "", fmt.Errorf("create report dir %s: %w", s.dir, err)
	}
	path := filepath.Join(s.dir, ObjectName(res))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write report %s: %w", path, err)
	}
	return path, nil
}
