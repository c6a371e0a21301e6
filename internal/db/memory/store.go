// Package memory is an in-process storage adapter for the engine's tests.
// It can inject scan, count, ping and write faults.
package memory

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kailas-cloud/vecmigrate/internal/db"
	"github.com/kailas-cloud/vecmigrate/internal/domain/batch"
	"github.com/kailas-cloud/vecmigrate/internal/domain/record"
)

// Compile-time checks: Store implements the adapter contract and its optional capabilities.
var (
	_ db.Store       = (*Store)(nil)
	_ db.Initializer = (*Store)(nil)
	_ db.Deleter     = (*Store)(nil)
	_ db.Fetcher     = (*Store)(nil)
	_ db.Pinger      = (*Store)(nil)
	_ db.IDAssigner  = (*Store)(nil)
)

// Config tunes the store.
type Config struct {
	// AssignID, when set, picks the id a written record is stored under (auto-id targets).
	// seq starts at 1 and grows with every stored record.
	AssignID func(seq int64, rec record.Record) string
	// WriteDelay simulates backend latency per Write call.
	WriteDelay time.Duration
}

// Store keeps records in insertion order.
type Store struct {
	cfg Config

	mu     sync.RWMutex
	order  []string
	index  map[string]int
	data   map[string]record.Record
	seq    int64
	dim    int
	closed bool

	scanErr       error
	failScanAfter int
	countErr      error
	writeFail     func(record.Record) error
	pingErr       error

	inScan  atomic.Int32
	overlap atomic.Bool
	writes  atomic.Int64
}

// New creates an empty store.
func New(cfg Config) *Store {
	return &Store{
		cfg:           cfg,
		index:         make(map[string]int),
		data:          make(map[string]record.Record),
		failScanAfter: -1,
	}
}

// Seed appends records as-is, keeping their ids.
func (s *Store) Seed(recs ...record.Record) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		s.put(r.ID, r)
	}
	return s
}

// FailScanAfter makes every cursor fail with err once it has returned n batches.
func (s *Store) FailScanAfter(n int, err error) *Store {
	s.mu.Lock()
	s.failScanAfter = n
	s.scanErr = err
	s.mu.Unlock()
	return s
}

// FailCount makes Count return err.
func (s *Store) FailCount(err error) *Store {
	s.mu.Lock()
	s.countErr = err
	s.mu.Unlock()
	return s
}

// FailWrite rejects records for which fn returns an error.
func (s *Store) FailWrite(fn func(record.Record) error) *Store {
	s.mu.Lock()
	s.writeFail = fn
	s.mu.Unlock()
	return s
}

// FailPing makes Ping return err.
func (s *Store) FailPing(err error) *Store {
	s.mu.Lock()
	s.pingErr = err
	s.mu.Unlock()
	return s
}

// Records returns a copy of the stored records in insertion order.
func (s *Store) Records() []record.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]record.Record, 0, len(s.data))
	for _, id := range s.order {
		if r, ok := s.data[id]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Closed reports whether Close was called.
func (s *Store) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// OverlappingScans reports whether two cursors' Next calls ever ran at the same time.
func (s *Store) OverlappingScans() bool { return s.overlap.Load() }

// WriteCalls returns the number of Write invocations.
func (s *Store) WriteCalls() int64 { return s.writes.Load() }

// Dimension returns the dimension passed to Init.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// Count implements db.Counter.
func (s *Store) Count(_ context.Context, scope record.Scope) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.countErr != nil {
		return 0, &db.Error{Op: db.OpCount, Err: s.countErr}
	}
	var n int64
	for _, r := range s.data {
		if scope.Matches(r.Metadata) {
			n++
		}
	}
	return n, nil
}

// Iterate implements db.Iterator. Positions are record ids.
func (s *Store) Iterate(scope record.Scope, batchSize int, after string) db.Cursor {
	if batchSize < 1 {
		batchSize = 1
	}
	return &cursor{store: s, scope: scope, size: batchSize, after: after}
}

// Write implements db.Writer as an upsert keyed by the stored id.
func (s *Store) Write(ctx context.Context, recs []record.Record) []batch.Result {
	s.writes.Add(1)
	if s.cfg.WriteDelay > 0 {
		time.Sleep(s.cfg.WriteDelay)
	}

	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	if err := ctx.Err(); err != nil {
		return batch.FailAll(ids, &db.Error{Op: db.OpWrite, Err: err})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return batch.FailAll(ids, &db.Error{Op: db.OpWrite, Err: db.ErrClosed})
	}

	out := make([]batch.Result, len(recs))
	for i, r := range recs {
		if s.writeFail != nil {
			if err := s.writeFail(r); err != nil {
				out[i] = batch.NewError(r.ID, &db.Error{Op: db.OpWrite, Err: err})
				continue
			}
		}
		target := r.ID
		if s.cfg.AssignID != nil {
			target = s.cfg.AssignID(s.seq+1, r)
		}
		stored := r
		stored.ID = target
		_, existed := s.data[target]
		s.put(target, stored)
		if existed {
			out[i] = batch.NewOK(r.ID, target)
			continue
		}
		out[i] = batch.NewCreated(r.ID, target)
	}
	return out
}

// Init implements db.Initializer.
func (s *Store) Init(_ context.Context, dim int) error {
	s.mu.Lock()
	s.dim = dim
	s.mu.Unlock()
	return nil
}

// Delete implements db.Deleter.
func (s *Store) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.data, id)
	}
	return nil
}

// Fetch implements db.Fetcher.
func (s *Store) Fetch(_ context.Context, ids []string) ([]record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]record.Record, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.data[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// Ping implements db.Pinger.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pingErr != nil {
		return &db.Error{Op: db.OpPing, Err: s.pingErr}
	}
	return nil
}

// AssignsIDs implements db.IDAssigner.
func (s *Store) AssignsIDs() bool { return s.cfg.AssignID != nil }

// Close marks the store closed. Stored data stays readable for assertions.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// put must be called with mu held.
func (s *Store) put(id string, r record.Record) {
	s.seq++
	if _, ok := s.index[id]; !ok {
		s.index[id] = len(s.order)
		s.order = append(s.order, id)
	}
	s.data[id] = r
}

type cursor struct {
	store   *Store
	scope   record.Scope
	size    int
	after   string
	done    bool
	batches int
}

func (c *cursor) Next(ctx context.Context) ([]record.Record, error) {
	s := c.store
	if s.inScan.Add(1) > 1 {
		s.overlap.Store(true)
	}
	defer s.inScan.Add(-1)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.done {
		return nil, io.EOF
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failScanAfter >= 0 && c.batches >= s.failScanAfter {
		return nil, &db.Error{Op: db.OpScan, Err: s.scanErr}
	}
	c.batches++

	start := 0
	if c.after != "" {
		i, ok := s.index[c.after]
		if !ok {
			return nil, &db.Error{Op: db.OpScan, Err: db.ErrKeyNotFound}
		}
		start = i + 1
	}

	out := make([]record.Record, 0, c.size)
	for i := start; i < len(s.order) && len(out) < c.size; i++ {
		r, ok := s.data[s.order[i]]
		if !ok || !c.scope.Matches(r.Metadata) {
			continue
		}
		out = append(out, r)
		c.after = r.ID
	}
	if len(out) == 0 {
		c.done = true
		return nil, io.EOF
	}
	return out, nil
}

func (c *cursor) Position() string { return c.after }
