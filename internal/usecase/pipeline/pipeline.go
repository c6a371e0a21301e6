// Package pipeline drains a source cursor into a target with a bounded worker pool.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/vecmigrate/internal/db"
	"github.com/kailas-cloud/vecmigrate/internal/domain/batch"
	"github.com/kailas-cloud/vecmigrate/internal/domain/migration"
	"github.com/kailas-cloud/vecmigrate/internal/domain/record"
	"github.com/kailas-cloud/vecmigrate/internal/logger"
	"github.com/kailas-cloud/vecmigrate/internal/metrics"
	"github.com/kailas-cloud/vecmigrate/internal/usecase/remap"
)

// DefaultSaveEvery is the checkpoint interval in records.
const DefaultSaveEvery = 10000

// Config tunes one pipeline run.
type Config struct {
	Scope       record.Scope
	BatchSize   int
	Concurrency int
	// Dimension is the expected vector length. 0 takes the most common length of the first batch.
	Dimension int
	// RateLimit caps writes in records per second across all workers. 0 = unlimited.
	RateLimit    float64
	WriteTimeout time.Duration
	// Total is the pre-counted denominator for progress.
	Total int64

	// Resume state: the cursor position to continue after and the counters it carried.
	After    string
	Migrated int64
	Failed   int64
	Remapped int64

	RunKey      string
	Checkpoints CheckpointSaver
	SaveEvery   int64
	Mappings    MappingSink
	// TrackWritten keeps the target ids of records the run created in Outcome.Written.
	// Records that replaced an existing target row are left out.
	TrackWritten bool

	OnProgress func(migration.Progress)
}

// Outcome is what the pipeline accumulated. Counters include the resumed totals.
type Outcome struct {
	Migrated int64
	Failed   int64
	Errors   []migration.Error
	Batches  int
	// Position is the low watermark: every batch up to it has completed.
	Position string
	Written  []string
	// ReadErr is the fatal source error that stopped the run, if any.
	ReadErr   error
	Cancelled bool
}

// Pipeline moves batches from a source iterator to a target writer.
type Pipeline struct {
	src    db.Iterator
	dst    db.Writer
	remap  *remap.Remapper
	cfg    Config
	limit  *rate.Limiter
	logger *zap.Logger
}

// New creates a pipeline. cfg.BatchSize and cfg.Concurrency must already be normalized.
func New(src db.Iterator, dst db.Writer, r *remap.Remapper, cfg Config) *Pipeline {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = migration.DefaultBatchSize
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = migration.DefaultConcurrency
	}
	if cfg.SaveEvery <= 0 {
		cfg.SaveEvery = DefaultSaveEvery
	}
	p := &Pipeline{src: src, dst: dst, remap: r, cfg: cfg}
	if cfg.RateLimit > 0 {
		burst := max(int(math.Ceil(cfg.RateLimit)), cfg.BatchSize)
		p.limit = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return p
}

// Run drains the source. It returns once every worker has stopped: on exhaustion,
// on a fatal read error, or on cancellation (checked between batches).
func (p *Pipeline) Run(ctx context.Context) Outcome {
	p.logger = logger.FromContext(ctx)

	pull := &puller{
		cur: p.src.Iterate(p.cfg.Scope, p.cfg.BatchSize, p.cfg.After),
		dim: p.cfg.Dimension,
	}
	t := newTracker(p.cfg)

	var g errgroup.Group
	for w := range p.cfg.Concurrency {
		wctx, log := logger.With(ctx, zap.Int("worker", w))
		g.Go(func() error {
			return p.work(wctx, log, pull, t)
		})
	}
	readErr := g.Wait()

	out := t.outcome()
	out.ReadErr = readErr
	out.Cancelled = readErr == nil && ctx.Err() != nil
	p.flushCheckpoint(ctx, t)
	return out
}

func (p *Pipeline) work(ctx context.Context, log *zap.Logger, pull *puller, t *tracker) error {
	for {
		b, ok, err := pull.next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		p.process(ctx, log, b, t)
	}
}

// process writes one pulled batch. It runs to completion even if ctx is cancelled
// so that no batch is left half-written.
func (p *Pipeline) process(ctx context.Context, log *zap.Logger, b pulled, t *tracker) {
	start := time.Now()
	done := batchDone{seq: b.seq, pos: b.pos, size: len(b.recs)}

	valid := make([]record.Record, 0, len(b.recs))
	for _, r := range b.recs {
		if err := r.Check(b.dim); err != nil {
			done.failed++
			done.errs = append(done.errs, migration.NewError(migration.ErrorTransform, r.ID, err))
			metrics.RecordsFailedTotal.WithLabelValues(string(migration.ErrorTransform)).Inc()
			continue
		}
		valid = append(valid, r)
	}

	if len(valid) > 0 {
		writeCtx := context.WithoutCancel(ctx)
		if p.limit != nil {
			if err := p.limit.WaitN(writeCtx, len(valid)); err != nil {
				log.Warn("rate_limit_wait_failed", zap.Error(err))
			}
		}
		if p.cfg.WriteTimeout > 0 {
			var cancel context.CancelFunc
			writeCtx, cancel = context.WithTimeout(writeCtx, p.cfg.WriteTimeout)
			defer cancel()
		}

		results := p.dst.Write(writeCtx, valid)
		p.collect(valid, results, &done)
	}

	latency := time.Since(start)
	metrics.BatchDuration.Observe(latency.Seconds())
	metrics.BatchesTotal.WithLabelValues(metrics.BatchStatus(done.size, int(done.failed))).Inc()
	metrics.RecordsMigratedTotal.Add(float64(done.migrated))

	if done.failed > 0 {
		first := done.errs[0]
		log.Warn("batch_failures",
			zap.Int("seq", b.seq),
			zap.Int64("failed", done.failed),
			zap.String("first_id", first.SourceID),
			zap.String("first_error", first.Message),
		)
	}
	log.Debug("batch_written",
		zap.Int("seq", b.seq),
		zap.Int("size", done.size),
		zap.Int64("migrated", done.migrated),
		zap.Int64("failed", done.failed),
		zap.Duration("latency", latency),
	)

	// Pairs are appended before the batch can enter a saved watermark.
	p.persistMappings(ctx, log, done.pairs)
	cp, save := t.complete(done)
	if save {
		p.saveCheckpoint(ctx, log, t, cp)
	}
}

// collect folds per-record write results into done, in input order.
func (p *Pipeline) collect(valid []record.Record, results []batch.Result, done *batchDone) {
	for i, r := range valid {
		if i >= len(results) {
			err := fmt.Errorf("target returned %d results for %d records", len(results), len(valid))
			done.failed++
			done.errs = append(done.errs, migration.NewError(migration.ErrorWrite, r.ID, err))
			metrics.RecordsFailedTotal.WithLabelValues(string(migration.ErrorWrite)).Inc()
			continue
		}
		res := results[i]
		if res.Status() != batch.StatusOK {
			done.failed++
			done.errs = append(done.errs, migration.NewError(migration.ErrorWrite, r.ID, res.Err()))
			metrics.RecordsFailedTotal.WithLabelValues(string(migration.ErrorWrite)).Inc()
			continue
		}

		done.migrated++
		target := res.TargetID()
		if target == "" {
			target = r.ID
		}
		if p.cfg.TrackWritten && res.Created() {
			done.written = append(done.written, target)
		}
		if p.remap.Record(r.ID, target) {
			if done.pairs == nil {
				done.pairs = make(migration.IDMapping)
			}
			done.pairs[r.ID] = target
			done.remapped++
			metrics.IDRemapsTotal.Inc()
		}
	}
}

// persistMappings is best effort: the in-memory remapper stays authoritative.
func (p *Pipeline) persistMappings(ctx context.Context, log *zap.Logger, pairs migration.IDMapping) {
	if p.cfg.Mappings == nil || len(pairs) == 0 {
		return
	}
	if err := p.cfg.Mappings.Append(context.WithoutCancel(ctx), p.cfg.RunKey, pairs); err != nil {
		metrics.IDMapPersistErrorsTotal.Inc()
		log.Warn("idmap_persist_failed", zap.Int("pairs", len(pairs)), zap.Error(err))
	}
}

func (p *Pipeline) saveCheckpoint(ctx context.Context, log *zap.Logger, t *tracker, cp checkpointState) {
	if p.cfg.Checkpoints == nil {
		return
	}
	t.saveMu.Lock()
	defer t.saveMu.Unlock()
	if cp.seq <= t.savedSeq {
		return
	}
	err := p.cfg.Checkpoints.Save(context.WithoutCancel(ctx), migration.Checkpoint{
		Key:       p.cfg.RunKey,
		Position:  cp.position,
		Migrated:  cp.migrated,
		Failed:    cp.failed,
		Remapped:  cp.remapped,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		metrics.CheckpointSavesTotal.WithLabelValues("error").Inc()
		log.Warn("checkpoint_save_failed", zap.Error(err))
		return
	}
	t.savedSeq = cp.seq
	metrics.CheckpointSavesTotal.WithLabelValues("ok").Inc()
}

// flushCheckpoint saves the final watermark if it moved since the last save.
func (p *Pipeline) flushCheckpoint(ctx context.Context, t *tracker) {
	if cp, ok := t.watermark(); ok {
		p.saveCheckpoint(ctx, p.logger, t, cp)
	}
}

// pulled is one batch handed to a worker.
type pulled struct {
	seq  int
	recs []record.Record
	pos  string
	dim  int
}

// puller serializes access to the cursor. The first error sticks.
type puller struct {
	mu   sync.Mutex
	cur  db.Cursor
	seq  int
	dim  int
	err  error
	done bool
}

// next returns ok=false when the scan is over for this worker: drained,
// cancelled, or failed. Only the worker that hit the failure gets the error.
func (p *puller) next(ctx context.Context) (pulled, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done || p.err != nil {
		return pulled{}, false, nil
	}
	if ctx.Err() != nil {
		p.done = true
		return pulled{}, false, nil
	}

	recs, err := p.cur.Next(ctx)
	switch {
	case errors.Is(err, io.EOF):
		p.done = true
		return pulled{}, false, nil
	case err != nil && ctx.Err() != nil:
		p.done = true
		return pulled{}, false, nil
	case err != nil:
		p.err = err
		return pulled{}, false, err
	}

	if p.dim == 0 {
		p.dim = record.ModalDimension(recs)
	}
	b := pulled{seq: p.seq, recs: recs, pos: p.cur.Position(), dim: p.dim}
	p.seq++
	return b, true, nil
}

// batchDone is the result of one processed batch.
type batchDone struct {
	seq      int
	pos      string
	size     int
	migrated int64
	failed   int64
	remapped int64
	errs     []migration.Error
	pairs    migration.IDMapping
	written  []string
}

type checkpointState struct {
	seq      int
	position string
	migrated int64
	failed   int64
	remapped int64
}

// tracker owns the shared counters, the error list and the watermark.
type tracker struct {
	mu         sync.Mutex
	total      int64
	migrated   int64
	failed     int64
	errs       []migration.Error
	written    []string
	batches    int
	onProgress func(migration.Progress)

	// watermark state
	pending  map[int]batchDone
	nextSeq  int
	wm       checkpointState
	hasWM    bool
	since    int64
	every    int64
	position string

	saveMu   sync.Mutex
	savedSeq int
}

func newTracker(cfg Config) *tracker {
	return &tracker{
		total:      cfg.Total,
		migrated:   cfg.Migrated,
		failed:     cfg.Failed,
		onProgress: cfg.OnProgress,
		pending:    make(map[int]batchDone),
		wm: checkpointState{
			seq:      -1,
			position: cfg.After,
			migrated: cfg.Migrated,
			failed:   cfg.Failed,
			remapped: cfg.Remapped,
		},
		every:    cfg.SaveEvery,
		position: cfg.After,
		savedSeq: -1,
	}
}

// complete folds a batch in, reports progress and advances the watermark.
// It returns the watermark to save when save_every records have passed.
func (t *tracker) complete(d batchDone) (checkpointState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.migrated += d.migrated
	t.failed += d.failed
	t.errs = append(t.errs, d.errs...)
	t.written = append(t.written, d.written...)
	t.batches++

	done := t.migrated + t.failed
	p := migration.NewProgress(done, t.total)
	metrics.ProgressRatio.Set(p.Percentage / 100)
	if t.onProgress != nil {
		t.onProgress(p)
	}

	t.pending[d.seq] = batchDone{seq: d.seq, pos: d.pos, migrated: d.migrated, failed: d.failed, remapped: d.remapped}
	for {
		next, ok := t.pending[t.nextSeq]
		if !ok {
			break
		}
		delete(t.pending, t.nextSeq)
		t.wm.seq = next.seq
		t.wm.position = next.pos
		t.wm.migrated += next.migrated
		t.wm.failed += next.failed
		t.wm.remapped += next.remapped
		t.hasWM = true
		t.position = next.pos
		t.nextSeq++
	}

	t.since += d.migrated + d.failed
	if t.since < t.every || !t.hasWM {
		return checkpointState{}, false
	}
	t.since = 0
	return t.wm, true
}

func (t *tracker) watermark() (checkpointState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wm, t.hasWM
}

func (t *tracker) outcome() Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Outcome{
		Migrated: t.migrated,
		Failed:   t.failed,
		Errors:   t.errs,
		Batches:  t.batches,
		Position: t.position,
		Written:  t.written,
	}
}
