// Package backend turns endpoint configuration into storage adapters.
package backend

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecmigrate/internal/db"
	"github.com/kailas-cloud/vecmigrate/internal/db/milvus"
	"github.com/kailas-cloud/vecmigrate/internal/db/oceanbase"
	"github.com/kailas-cloud/vecmigrate/internal/db/postgres"
	"github.com/kailas-cloud/vecmigrate/internal/domain"
	"github.com/kailas-cloud/vecmigrate/internal/domain/migration"
)

// Request is everything an Opener needs to build one adapter.
type Request struct {
	Config      migration.BackendConfig
	Role        migration.Role
	PreserveIDs bool
}

// Opener builds an adapter for one backend kind.
type Opener func(ctx context.Context, req Request) (db.Store, error)

// Resolver maps backend kinds to openers. Kinds are resolved once per run.
type Resolver struct {
	log    *zap.Logger
	getenv func(string) string

	mu      sync.RWMutex
	openers map[migration.Kind]Opener
}

// New creates a resolver with the pg, oceanbase and milvus adapters registered.
func New(log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Resolver{log: log, getenv: os.Getenv, openers: map[migration.Kind]Opener{}}
	r.Register(migration.KindPostgres, r.openPostgres)
	r.Register(migration.KindOceanBase, r.openOceanBase)
	r.Register(migration.KindMilvus, openMilvus)
	return r
}

// Register installs or replaces the opener for kind.
func (r *Resolver) Register(kind migration.Kind, open Opener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openers[kind] = open
}

// Open resolves and connects the adapter for cfg.
func (r *Resolver) Open(ctx context.Context, req Request) (db.Store, error) {
	r.mu.RLock()
	open, ok := r.openers[req.Config.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownBackend, req.Config.Kind)
	}

	store, err := open(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("open %s %s: %w", req.Role, req.Config, err)
	}
	r.log.Debug("adapter_opened",
		zap.String("role", string(req.Role)),
		zap.String("kind", string(req.Config.Kind)),
	)
	return store, nil
}

// address falls back to the process-wide env DSN when the endpoint has none.
func (r *Resolver) address(cfg migration.BackendConfig, env string) string {
	if cfg.Address != "" {
		return cfg.Address
	}
	return r.getenv(env)
}

func (r *Resolver) openPostgres(_ context.Context, req Request) (db.Store, error) {
	return postgres.NewStore(postgres.Config{
		DSN:         r.address(req.Config, postgres.EnvDSN),
		Table:       req.Config.Table,
		PreserveIDs: req.PreserveIDs,
	}, r.log.Named("pg"))
}

func (r *Resolver) openOceanBase(_ context.Context, req Request) (db.Store, error) {
	return oceanbase.NewStore(oceanbase.Config{
		DSN:         r.address(req.Config, oceanbase.EnvDSN),
		Table:       req.Config.Table,
		PreserveIDs: req.PreserveIDs,
	}, r.log.Named("oceanbase"))
}

func openMilvus(ctx context.Context, req Request) (db.Store, error) {
	return milvus.NewStore(ctx, milvus.Config{
		Address:        req.Config.Address,
		Token:          req.Config.Token,
		Database:       req.Config.Database,
		Collection:     req.Config.Table,
		AutoID:         req.Config.AutoID,
		PreserveIDs:    req.PreserveIDs,
		CreateDatabase: req.Role == migration.RoleTarget,
	})
}
