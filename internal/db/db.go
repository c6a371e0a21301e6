package db

import (
	"context"
	"time"

	"github.com/kailas-cloud/vecmigrate/internal/domain/batch"
	"github.com/kailas-cloud/vecmigrate/internal/domain/record"
)

// Store is the storage adapter facade: one implementation per backend kind.
// Consumers depend on the narrow sub-interfaces.
type Store interface {
	Counter
	Iterator
	Writer
	Close() error
}

// Counter counts in-scope records. It applies exactly the predicate Iterate applies.
type Counter interface {
	Count(ctx context.Context, scope record.Scope) (int64, error)
}

// Iterator opens a lazy, id-ordered scan over in-scope records.
// after is an opaque position from Cursor.Position; empty starts from the beginning.
type Iterator interface {
	Iterate(scope record.Scope, batchSize int, after string) Cursor
}

// Cursor yields batches of at most batchSize records, materialized on demand.
// Next returns io.EOF once drained. A Cursor is not safe for concurrent use.
type Cursor interface {
	Next(ctx context.Context) ([]record.Record, error)
	// Position is the resume point after the last batch returned by Next.
	Position() string
}

// Writer stores a batch and reports one result per input record, in input order.
type Writer interface {
	Write(ctx context.Context, recs []record.Record) []batch.Result
}

// Initializer creates the physical container (table, collection, indexes) if missing.
type Initializer interface {
	Init(ctx context.Context, dim int) error
}

// Finisher runs backend housekeeping once a transfer is over (sequence resets, flushes).
type Finisher interface {
	Finish(ctx context.Context) error
}

// Deleter removes records by target id.
type Deleter interface {
	Delete(ctx context.Context, ids []string) error
}

// Fetcher loads records by target id. Missing ids are omitted from the result.
type Fetcher interface {
	Fetch(ctx context.Context, ids []string) ([]record.Record, error)
}

// Pinger checks backend connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// IDAssigner is implemented by targets that may assign their own primary keys.
type IDAssigner interface {
	AssignsIDs() bool
}

// KVStore provides simple key-value operations.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// HashStore provides hash-based key-value operations.
type HashStore interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HLen(ctx context.Context, key string) (int64, error)
	Del(ctx context.Context, key string) error
}
