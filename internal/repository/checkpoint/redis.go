package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kailas-cloud/vecmigrate/internal/db"
	"github.com/kailas-cloud/vecmigrate/internal/domain"
	"github.com/kailas-cloud/vecmigrate/internal/domain/migration"
)

// DefaultTTL keeps an abandoned checkpoint for a week.
const DefaultTTL = 7 * 24 * time.Hour

// kvStore is the consumer interface for checkpoint storage (ISP).
type kvStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// RedisStore keeps checkpoints as JSON strings under <prefix>checkpoint:<key>.
type RedisStore struct {
	store  kvStore
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a redis-backed checkpoint store. ttl <= 0 takes DefaultTTL.
func NewRedisStore(s kvStore, prefix string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{store: s, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(runKey string) string {
	return s.prefix + "checkpoint:" + runKey
}

// Load returns domain.ErrCheckpointNotFound when the run has no checkpoint.
func (s *RedisStore) Load(ctx context.Context, runKey string) (migration.Checkpoint, error) {
	data, err := s.store.Get(ctx, s.key(runKey))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return migration.Checkpoint{}, domain.ErrCheckpointNotFound
		}
		return migration.Checkpoint{}, fmt.Errorf("checkpoint GET %s: %w", runKey, err)
	}
	var cp migration.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return migration.Checkpoint{}, fmt.Errorf("checkpoint GET %s parse: %w", runKey, err)
	}
	return cp, nil
}

// Save stores the checkpoint and refreshes its TTL.
func (s *RedisStore) Save(ctx context.Context, cp migration.Checkpoint) error {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := s.store.SetWithTTL(ctx, s.key(cp.Key), data, s.ttl); err != nil {
		return fmt.Errorf("checkpoint SET %s: %w", cp.Key, err)
	}
	return nil
}

// Delete removes the checkpoint.
func (s *RedisStore) Delete(ctx context.Context, runKey string) error {
	if err := s.store.Del(ctx, s.key(runKey)); err != nil {
		return fmt.Errorf("checkpoint DEL %s: %w", runKey, err)
	}
	return nil
}
