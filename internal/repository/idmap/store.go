// Package idmap persists source-to-target id mappings outside the process.
package idmap

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/vecmigrate/internal/domain/migration"
)

// hashStore is the consumer interface for mapping storage (ISP).
type hashStore interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HLen(ctx context.Context, key string) (int64, error)
	Del(ctx context.Context, key string) error
}

// Store appends mappings to the hash <prefix>idmap:<runKey>.
type Store struct {
	store  hashStore
	prefix string
}

// New creates an id-mapping store.
func New(s hashStore, prefix string) *Store {
	return &Store{store: s, prefix: prefix}
}

// Key returns the hash name for a run.
func (s *Store) Key(runKey string) string {
	return s.prefix + "idmap:" + runKey
}

// Append adds pairs to the run's mapping. Existing source ids are overwritten.
func (s *Store) Append(ctx context.Context, runKey string, pairs migration.IDMapping) error {
	if len(pairs) == 0 {
		return nil
	}
	if err := s.store.HSet(ctx, s.Key(runKey), pairs); err != nil {
		return fmt.Errorf("idmap HSET %s: %w", runKey, err)
	}
	return nil
}

// Load returns the full persisted mapping. A run without mappings yields an empty map.
func (s *Store) Load(ctx context.Context, runKey string) (migration.IDMapping, error) {
	m, err := s.store.HGetAll(ctx, s.Key(runKey))
	if err != nil {
		return nil, fmt.Errorf("idmap HGETALL %s: %w", runKey, err)
	}
	return migration.IDMapping(m), nil
}

// Len returns the number of persisted pairs.
func (s *Store) Len(ctx context.Context, runKey string) (int64, error) {
	n, err := s.store.HLen(ctx, s.Key(runKey))
	if err != nil {
		return 0, fmt.Errorf("idmap HLEN %s: %w", runKey, err)
	}
	return n, nil
}

// Delete drops the run's mapping.
func (s *Store) Delete(ctx context.Context, runKey string) error {
	if err := s.store.Del(ctx, s.Key(runKey)); err != nil {
		return fmt.Errorf("idmap DEL %s: %w", runKey, err)
	}
	return nil
}
