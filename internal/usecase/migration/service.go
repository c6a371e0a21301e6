// Package migration is the orchestrator: the one entry point that runs a migration end to end.
package migration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecmigrate/internal/backend"
	"github.com/kailas-cloud/vecmigrate/internal/db"
	"github.com/kailas-cloud/vecmigrate/internal/domain"
	dommig "github.com/kailas-cloud/vecmigrate/internal/domain/migration"
	"github.com/kailas-cloud/vecmigrate/internal/domain/record"
	"github.com/kailas-cloud/vecmigrate/internal/logger"
	"github.com/kailas-cloud/vecmigrate/internal/metrics"
	"github.com/kailas-cloud/vecmigrate/internal/usecase/pipeline"
	"github.com/kailas-cloud/vecmigrate/internal/usecase/remap"
	"github.com/kailas-cloud/vecmigrate/internal/usecase/validate"
)

// Status is a point-in-time view of the current run.
type Status struct {
	MigrationID string          `json:"migration_id,omitempty"`
	State       dommig.State    `json:"state"`
	Progress    dommig.Progress `json:"progress"`
	StartedAt   time.Time       `json:"started_at,omitzero"`
}

// Service runs migrations. One Service runs one migration at a time.
type Service struct {
	resolver    Resolver
	checkpoints CheckpointStore
	mappings    MappingStore
	saveEvery   int64
	newID       func() string

	mu     sync.RWMutex
	status Status
	open   []db.Store
}

// New creates an orchestrator.
func New(resolver Resolver) *Service {
	return &Service{
		resolver: resolver,
		newID:    uuid.NewString,
		status:   Status{State: dommig.StateNotStarted},
	}
}

// WithCheckpoints enables resume checkpoints saved every saveEvery records.
func (s *Service) WithCheckpoints(cs CheckpointStore, saveEvery int64) *Service {
	s.checkpoints = cs
	s.saveEvery = saveEvery
	return s
}

// WithMappings enables incremental id-mapping persistence.
func (s *Service) WithMappings(ms MappingStore) *Service {
	s.mappings = ms
	return s
}

// run is the mutable state of one Run call.
type run struct {
	spec  *dommig.Spec
	opts  dommig.Options
	rc    dommig.RunContext
	res   dommig.Result
	key   string
	log   *zap.Logger
	src   db.Store
	dst   db.Store
	remap *remap.Remapper
	dim   int
	// resumed is the migrated count carried over from a checkpoint.
	resumed int64
	start   time.Time
	output  pipeline.Outcome
}

// Run executes spec. Runtime failures end in an Aborted Result; the error is
// non-nil only when no Result can be built at all.
func (s *Service) Run(ctx context.Context, spec *dommig.Spec, rc dommig.RunContext) (dommig.Result, error) {
	if spec == nil {
		return dommig.Result{}, fmt.Errorf("%w: nil migration spec", domain.ErrInvalidOptions)
	}

	r := &run{
		spec:  spec,
		opts:  spec.Options.Normalize(),
		rc:    rc,
		key:   dommig.RunKey(spec.Source, spec.Target, rc.Scope),
		remap: remap.New(),
		start: time.Now(),
	}
	r.res = dommig.Result{
		MigrationID: s.newID(),
		State:       dommig.StateNotStarted,
		Source:      spec.Source.String(),
		Target:      spec.Target.String(),
		Scope:       rc.Scope,
	}
	ctx, r.log = logger.With(ctx,
		zap.String("migration_id", r.res.MigrationID),
		zap.String("source", r.res.Source),
		zap.String("target", r.res.Target),
	)

	s.mu.Lock()
	s.status = Status{MigrationID: r.res.MigrationID, State: dommig.StateNotStarted, StartedAt: r.start}
	s.mu.Unlock()

	r.log.Info("migration_started",
		zap.String("scope", rc.Scope.String()),
		zap.Int("batch_size", r.opts.BatchSize),
		zap.Int("concurrency", r.opts.Concurrency),
		zap.Bool("preserve_ids", r.opts.PreserveIDs),
	)

	defer s.release(r)

	if err := s.resolve(ctx, r); err != nil {
		return s.finish(ctx, r, dommig.StateAborted), nil
	}

	s.setState(r, dommig.StateCounting)
	total, err := r.src.Count(ctx, rc.Scope)
	if err != nil {
		s.fail(r, dommig.ErrorRead, fmt.Errorf("count source: %w", err))
		return s.finish(ctx, r, dommig.StateAborted), nil
	}
	r.res.TotalRecords = total

	s.setState(r, dommig.StateTransferring)
	if aborted := s.transfer(ctx, r); aborted {
		return s.finish(ctx, r, dommig.StateAborted), nil
	}

	if r.opts.Validate {
		s.setState(r, dommig.StateValidating)
		val, errs := validate.New(r.opts.SampleSize).
			Validate(context.WithoutCancel(ctx), r.src, r.dst, rc.Scope, r.remap.Lookup)
		r.res.Validation = &val
		r.res.Errors = append(r.res.Errors, errs...)
	}

	return s.finish(ctx, r, dommig.StateCompleted), nil
}

// resolve opens both adapters, checks the target is reachable, initializes it
// and rejects option combinations the target cannot honour.
func (s *Service) resolve(ctx context.Context, r *run) error {
	src, err := s.resolver.Open(ctx, backend.Request{Config: r.spec.Source, Role: dommig.RoleSource})
	if err != nil {
		s.fail(r, dommig.ErrorRead, err)
		return err
	}
	r.src = src
	s.track(src)

	dst, err := s.resolver.Open(ctx, backend.Request{
		Config:      r.spec.Target,
		Role:        dommig.RoleTarget,
		PreserveIDs: r.opts.PreserveIDs,
	})
	if err != nil {
		s.fail(r, dommig.ErrorWrite, err)
		return err
	}
	r.dst = dst
	s.track(dst)

	if p, ok := src.(db.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			err = fmt.Errorf("source unreachable: %w", err)
			s.fail(r, dommig.ErrorRead, err)
			return err
		}
	}
	if p, ok := dst.(db.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			err = fmt.Errorf("%w: %w", domain.ErrTargetUnreachable, err)
			s.fail(r, dommig.ErrorWrite, err)
			return err
		}
	}

	r.dim = r.opts.Dimension
	if r.dim == 0 {
		r.dim = peekDimension(ctx, src, r.rc.Scope)
	}

	// Checked before Init so a rejected run creates nothing, and again after
	// because some adapters only learn their id mode from the schema.
	if err := s.checkPreserveIDs(r); err != nil {
		return err
	}
	if in, ok := dst.(db.Initializer); ok {
		if err := in.Init(ctx, r.dim); err != nil {
			err = fmt.Errorf("init target: %w", err)
			s.fail(r, dommig.ErrorWrite, err)
			return err
		}
	}
	return s.checkPreserveIDs(r)
}

func (s *Service) checkPreserveIDs(r *run) error {
	if a, ok := r.dst.(db.IDAssigner); ok && r.opts.PreserveIDs && a.AssignsIDs() {
		err := fmt.Errorf("%w: %s assigns its own primary keys", domain.ErrPreserveIDsUnsupported, r.res.Target)
		s.fail(r, dommig.ErrorWrite, err)
		return err
	}
	return nil
}

// transfer runs the pipeline and reports whether the run must abort.
func (s *Service) transfer(ctx context.Context, r *run) bool {
	cfg := pipeline.Config{
		Scope:        r.rc.Scope,
		BatchSize:    r.opts.BatchSize,
		Concurrency:  r.opts.Concurrency,
		Dimension:    r.dim,
		RateLimit:    r.opts.RateLimit,
		WriteTimeout: r.opts.WriteTimeout,
		Total:        r.res.TotalRecords,
		RunKey:       r.key,
		SaveEvery:    s.saveEvery,
		TrackWritten: r.opts.CleanupOnAbort,
		OnProgress:   func(p dommig.Progress) { s.progress(r, p) },
	}
	if s.checkpoints != nil {
		cfg.Checkpoints = s.checkpoints
		if err := s.resume(ctx, r, &cfg); err != nil {
			s.fail(r, dommig.ErrorWrite, err)
			return true
		}
		r.resumed = cfg.Migrated
	}
	if s.mappings != nil {
		cfg.Mappings = s.mappings
	}

	r.output = pipeline.New(r.src, r.dst, r.remap, cfg).Run(ctx)
	out := r.output
	r.res.MigratedRecords = out.Migrated
	r.res.FailedRecords = out.Failed
	r.res.Errors = append(r.res.Errors, out.Errors...)

	if f, ok := r.dst.(db.Finisher); ok {
		if err := f.Finish(context.WithoutCancel(ctx)); err != nil {
			r.log.Warn("target_finish_failed", zap.Error(err))
			s.fail(r, dommig.ErrorWrite, fmt.Errorf("finish target: %w", err))
		}
	}

	switch {
	case out.ReadErr != nil:
		s.fail(r, dommig.ErrorRead, out.ReadErr)
		return true
	case out.Cancelled:
		s.fail(r, dommig.ErrorRead, fmt.Errorf("%w: %w", domain.ErrCancelled, context.Cause(ctx)))
		return true
	}
	return false
}

// resume continues after a saved checkpoint of the same run key. A checkpoint
// that recorded id pairs is only resumed when all of them can be reloaded.
func (s *Service) resume(ctx context.Context, r *run, cfg *pipeline.Config) error {
	cp, err := s.checkpoints.Load(ctx, r.key)
	if err != nil {
		if !errors.Is(err, domain.ErrCheckpointNotFound) {
			r.log.Warn("checkpoint_load_failed", zap.Error(err))
		}
		return nil
	}

	var prev dommig.IDMapping
	if s.mappings != nil {
		prev, err = s.mappings.Load(ctx, r.key)
		if err != nil && cp.Remapped == 0 {
			r.log.Warn("idmap_load_failed", zap.Error(err))
		}
	}
	switch {
	case cp.Remapped == 0:
	case s.mappings == nil:
		return fmt.Errorf("%w: %d pairs recorded, no mapping store configured", domain.ErrMappingLost, cp.Remapped)
	case err != nil:
		return fmt.Errorf("%w: %w", domain.ErrMappingLost, err)
	case int64(len(prev)) < cp.Remapped:
		return fmt.Errorf("%w: %d pairs recorded, %d stored", domain.ErrMappingLost, cp.Remapped, len(prev))
	}

	cfg.After = cp.Position
	cfg.Migrated = cp.Migrated
	cfg.Failed = cp.Failed
	cfg.Remapped = cp.Remapped
	r.remap.Seed(prev)
	r.log.Info("migration_resumed",
		zap.String("position", cp.Position),
		zap.Int64("migrated", cp.Migrated),
		zap.Int64("failed", cp.Failed),
		zap.Int64("remapped", cp.Remapped),
		zap.Time("checkpoint_at", cp.UpdatedAt),
	)
	return nil
}

// finish assembles the Result for terminal state st.
func (s *Service) finish(ctx context.Context, r *run, st dommig.State) dommig.Result {
	res := &r.res
	bg := context.WithoutCancel(ctx)

	if st == dommig.StateAborted && r.opts.CleanupOnAbort {
		s.cleanup(bg, r)
	}

	if st == dommig.StateCompleted {
		if processed := res.MigratedRecords + res.FailedRecords; processed != res.TotalRecords {
			r.log.Warn("total_drifted",
				zap.Int64("counted", res.TotalRecords),
				zap.Int64("processed", processed),
			)
			res.TotalRecords = processed
		}
		if s.checkpoints != nil {
			if err := s.checkpoints.Delete(bg, r.key); err != nil {
				r.log.Warn("checkpoint_delete_failed", zap.Error(err))
			}
		}
	}

	s.setState(r, st)
	res.IDMappings = r.remap.Snapshot()
	res.Duration = time.Since(r.start)
	res.Success = st == dommig.StateCompleted &&
		res.FailedRecords == 0 &&
		(res.Validation == nil || res.Validation.Passed)

	metrics.MigrationsTotal.WithLabelValues(string(st)).Inc()
	r.log.Info("migration_finished",
		zap.String("state", string(st)),
		zap.Bool("success", res.Success),
		zap.Int64("total", res.TotalRecords),
		zap.Int64("migrated", res.MigratedRecords),
		zap.Int64("failed", res.FailedRecords),
		zap.Int("remapped", len(res.IDMappings)),
		zap.Int("errors", len(res.Errors)),
		zap.Duration("duration", res.Duration),
	)
	return *res
}

// cleanup deletes the records this run created. Rows that already existed in the
// target and were overwritten by an upsert are left in place. Best effort.
func (s *Service) cleanup(ctx context.Context, r *run) {
	d, ok := r.dst.(db.Deleter)
	written := r.output.Written
	if kept := r.output.Migrated - r.resumed - int64(len(written)); kept > 0 {
		r.log.Warn("cleanup_keeps_overwritten", zap.Int64("kept", kept))
	}
	if !ok || len(written) == 0 {
		return
	}
	for start := 0; start < len(written); start += r.opts.BatchSize {
		end := min(start+r.opts.BatchSize, len(written))
		if err := d.Delete(ctx, written[start:end]); err != nil {
			r.log.Warn("cleanup_failed", zap.Int("pending", len(written)-start), zap.Error(err))
			return
		}
	}
	r.log.Info("cleanup_done", zap.Int("deleted", len(written)))
}

// release closes every adapter opened for the run.
func (s *Service) release(r *run) {
	s.mu.Lock()
	open := s.open
	s.open = nil
	s.mu.Unlock()

	for _, st := range open {
		if err := st.Close(); err != nil {
			r.log.Warn("adapter_close_failed", zap.Error(err))
		}
	}
}

func (s *Service) track(st db.Store) {
	s.mu.Lock()
	s.open = append(s.open, st)
	s.mu.Unlock()
}

func (s *Service) fail(r *run, kind dommig.ErrorKind, err error) {
	r.log.Error("migration_error", zap.String("kind", string(kind)), zap.Error(err))
	r.res.Errors = append(r.res.Errors, dommig.NewError(kind, "", err))
}

func (s *Service) setState(r *run, st dommig.State) {
	r.res.State = st
	s.mu.Lock()
	s.status.State = st
	s.mu.Unlock()
	r.log.Debug("state_changed", zap.String("state", string(st)))
	if r.rc.OnState != nil {
		r.rc.OnState(st)
	}
}

func (s *Service) progress(r *run, p dommig.Progress) {
	s.mu.Lock()
	s.status.Progress = p
	s.mu.Unlock()
	if r.rc.OnProgress != nil {
		r.rc.OnProgress(p)
	}
}

// Status returns the state and latest progress of the current or last run.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Health pings the adapters of the running migration. With none open it reports healthy.
func (s *Service) Health(ctx context.Context) error {
	s.mu.RLock()
	open := append([]db.Store(nil), s.open...)
	s.mu.RUnlock()

	for _, st := range open {
		if p, ok := st.(db.Pinger); ok {
			if err := p.Ping(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// dimSample is how many records peekDimension looks at.
const dimSample = 100

// peekDimension samples the first page of in-scope records and returns their most
// common vector length, so that one malformed leading record cannot set it. 0 when unknown.
func peekDimension(ctx context.Context, src db.Iterator, scope record.Scope) int {
	recs, err := src.Iterate(scope, dimSample, "").Next(ctx)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0
	}
	return record.ModalDimension(recs)
}
