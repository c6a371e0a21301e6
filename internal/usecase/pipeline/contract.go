package pipeline

import (
	"context"

	"github.com/kailas-cloud/vecmigrate/internal/domain/migration"
)

// CheckpointSaver persists the low watermark of a run.
type CheckpointSaver interface {
	Save(ctx context.Context, cp migration.Checkpoint) error
}

// MappingSink receives the remapped pairs of every batch.
type MappingSink interface {
	Append(ctx context.Context, runKey string, pairs migration.IDMapping) error
}
