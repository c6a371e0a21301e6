package migration

import (
	"context"

	"github.com/kailas-cloud/vecmigrate/internal/backend"
	"github.com/kailas-cloud/vecmigrate/internal/db"
	dommig "github.com/kailas-cloud/vecmigrate/internal/domain/migration"
)

// Resolver opens the adapter for one endpoint.
type Resolver interface {
	Open(ctx context.Context, req backend.Request) (db.Store, error)
}

// CheckpointStore loads, saves and drops resume points.
type CheckpointStore interface {
	Load(ctx context.Context, key string) (dommig.Checkpoint, error)
	Save(ctx context.Context, cp dommig.Checkpoint) error
	Delete(ctx context.Context, key string) error
}

// MappingStore persists id mappings across attempts of the same run.
type MappingStore interface {
	Append(ctx context.Context, runKey string, pairs dommig.IDMapping) error
	Load(ctx context.Context, runKey string) (dommig.IDMapping, error)
}
