// Package sqlvec is the storage adapter shared by relational engines with a vector
// column type. Dialect-specific SQL (vector casts, DDL) comes from a Dialect.
package sqlvec

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

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
	_ db.Finisher    = (*Store)(nil)
)

// DefaultTable is the table the vectors live in.
const DefaultTable = "modeldata"

// DefaultDimension is used by Init when no dimension is known.
const DefaultDimension = 1536

// Dialect carries the engine-specific SQL fragments.
type Dialect struct {
	Name string
	// VectorSelect reads the vector column as `[a,b,c]` text.
	VectorSelect string
	// Schema returns the DDL creating the table and its indexes. Statements run in order.
	Schema func(table string, dim int) []string
	// AfterImport returns statements run once after a transfer, e.g. sequence fixes.
	AfterImport func(table string) []string
	// IsExists reports whether a DDL error only means the object already exists.
	IsExists func(err error) bool
}

// Config holds adapter parameters.
type Config struct {
	Table       string
	PreserveIDs bool
	Dialect     Dialect
}

// row is the physical layout of one vector record.
type row struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Vector       string    `gorm:"column:vector"`
	TeamID       string    `gorm:"column:team_id"`
	DatasetID    string    `gorm:"column:dataset_id"`
	CollectionID string    `gorm:"column:collection_id"`
	CreateTime   time.Time `gorm:"column:createtime"`
}

// Store implements db.Store over a gorm connection.
type Store struct {
	db       *gorm.DB
	table    string
	preserve bool
	dialect  Dialect
	columns  string
}

// New wraps an open gorm connection.
func New(gdb *gorm.DB, cfg Config) *Store {
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}
	return &Store{
		db:       gdb,
		table:    table,
		preserve: cfg.PreserveIDs,
		dialect:  cfg.Dialect,
		columns: "id, " + cfg.Dialect.VectorSelect + " AS vector, " +
			"team_id, dataset_id, collection_id, createtime",
	}
}

// Count implements db.Counter.
func (s *Store) Count(ctx context.Context, scope record.Scope) (int64, error) {
	var n int64
	if err := s.scoped(ctx, scope).Count(&n).Error; err != nil {
		return 0, &db.Error{Op: db.OpCount, Err: err}
	}
	return n, nil
}

// Iterate implements db.Iterator with keyset pagination on id.
func (s *Store) Iterate(scope record.Scope, batchSize int, after string) db.Cursor {
	c := &cursor{store: s, scope: scope, size: batchSize}
	if after != "" {
		id, err := strconv.ParseInt(after, 10, 64)
		if err != nil {
			c.err = &db.Error{Op: db.OpScan, Err: fmt.Errorf("invalid position %q: %w", after, err)}
		}
		c.after = id
	}
	if c.size < 1 {
		c.size = 1
	}
	return c
}

// Write implements db.Writer.
// Numeric ids are upserted as-is when ids are preserved; everything else is inserted
// and takes an id from the table sequence.
func (s *Store) Write(ctx context.Context, recs []record.Record) []batch.Result {
	out := make([]batch.Result, len(recs))

	var keep, fresh []int
	for i, r := range recs {
		if s.preserve {
			if id, err := strconv.ParseInt(r.ID, 10, 64); err == nil && id > 0 {
				keep = append(keep, i)
				continue
			}
		}
		fresh = append(fresh, i)
	}

	if len(keep) > 0 {
		s.upsert(ctx, recs, keep, out)
	}
	if len(fresh) > 0 {
		s.insert(ctx, recs, fresh, out)
	}
	return out
}

// upsert writes records under their own ids. An upsert may replace a row that
// existed before the run, so its results are never marked created. On a batch failure each row is retried
// alone so that one bad row does not fail its neighbours.
func (s *Store) upsert(ctx context.Context, recs []record.Record, idx []int, out []batch.Result) {
	rows := make([]row, len(idx))
	for j, i := range idx {
		rows[j] = toRow(recs[i])
		rows[j].ID, _ = strconv.ParseInt(recs[i].ID, 10, 64)
	}

	err := s.upsertRows(ctx, rows)
	if err == nil {
		for _, i := range idx {
			out[i] = batch.NewOK(recs[i].ID, recs[i].ID)
		}
		return
	}
	if len(rows) == 1 || ctx.Err() != nil {
		for _, i := range idx {
			out[i] = batch.NewError(recs[i].ID, &db.Error{Op: db.OpWrite, Err: err})
		}
		return
	}

	for j, i := range idx {
		if err := s.upsertRows(ctx, rows[j:j+1]); err != nil {
			out[i] = batch.NewError(recs[i].ID, &db.Error{Op: db.OpWrite, Err: err})
			continue
		}
		out[i] = batch.NewOK(recs[i].ID, recs[i].ID)
	}
}

func (s *Store) upsertRows(ctx context.Context, rows []row) error {
	return s.upsertStmt(s.db.WithContext(ctx), rows).Error
}

func (s *Store) upsertStmt(tx *gorm.DB, rows []row) *gorm.DB {
	return tx.Table(s.table).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&rows)
}

// insert lets the table assign ids. A failed statement inserted nothing, so the
// whole group fails together.
func (s *Store) insert(ctx context.Context, recs []record.Record, idx []int, out []batch.Result) {
	rows := make([]row, len(idx))
	for j, i := range idx {
		rows[j] = toRow(recs[i])
	}

	if err := s.db.WithContext(ctx).Table(s.table).Create(&rows).Error; err != nil {
		for _, i := range idx {
			out[i] = batch.NewError(recs[i].ID, &db.Error{Op: db.OpWrite, Err: err})
		}
		return
	}
	for j, i := range idx {
		out[i] = batch.NewCreated(recs[i].ID, strconv.FormatInt(rows[j].ID, 10))
	}
}

// Init implements db.Initializer.
func (s *Store) Init(ctx context.Context, dim int) error {
	if s.dialect.Schema == nil {
		return nil
	}
	if dim <= 0 {
		dim = DefaultDimension
	}
	for _, stmt := range s.dialect.Schema(s.table, dim) {
		if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			if s.dialect.IsExists != nil && s.dialect.IsExists(err) {
				continue
			}
			return &db.Error{Op: db.OpInit, Err: fmt.Errorf("%s: %w", firstLine(stmt), err)}
		}
	}
	return nil
}

// Finish implements db.Finisher.
func (s *Store) Finish(ctx context.Context) error {
	if s.dialect.AfterImport == nil {
		return nil
	}
	for _, stmt := range s.dialect.AfterImport(s.table) {
		if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return &db.Error{Op: db.OpWrite, Err: fmt.Errorf("%s: %w", firstLine(stmt), err)}
		}
	}
	return nil
}

// Delete implements db.Deleter. Non-numeric ids cannot exist in the table and are skipped.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	keys := numericIDs(ids)
	if len(keys) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Table(s.table).Where("id IN ?", keys).Delete(&row{}).Error
	if err != nil {
		return &db.Error{Op: db.OpDelete, Err: err}
	}
	return nil
}

// Fetch implements db.Fetcher.
func (s *Store) Fetch(ctx context.Context, ids []string) ([]record.Record, error) {
	keys := numericIDs(ids)
	if len(keys) == 0 {
		return nil, nil
	}
	var rows []row
	err := s.db.WithContext(ctx).Table(s.table).Select(s.columns).
		Where("id IN ?", keys).Order("id").Find(&rows).Error
	if err != nil {
		return nil, &db.Error{Op: db.OpFetch, Err: err}
	}
	return toRecords(rows), nil
}

// Ping implements db.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return &db.Error{Op: db.OpPing, Err: err}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return &db.Error{Op: db.OpPing, Err: err}
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// scoped applies the scope predicate. Count and Iterate both go through here.
func (s *Store) scoped(ctx context.Context, scope record.Scope) *gorm.DB {
	return applyScope(s.db.WithContext(ctx).Table(s.table), scope)
}

// pageStmt reads the next keyset page: ids strictly after `after`, ascending.
func (s *Store) pageStmt(tx *gorm.DB, scope record.Scope, after int64, size int, dest *[]row) *gorm.DB {
	return applyScope(tx.Table(s.table), scope).
		Select(s.columns).
		Where("id > ?", after).
		Order("id").
		Limit(size).
		Find(dest)
}

func applyScope(tx *gorm.DB, scope record.Scope) *gorm.DB {
	if scope.TeamID != "" {
		tx = tx.Where("team_id = ?", scope.TeamID)
	}
	if scope.DatasetID != "" {
		tx = tx.Where("dataset_id = ?", scope.DatasetID)
	}
	if !scope.CreatedAfter.IsZero() {
		tx = tx.Where("createtime >= ?", scope.CreatedAfter)
	}
	if !scope.CreatedBefore.IsZero() {
		tx = tx.Where("createtime <= ?", scope.CreatedBefore)
	}
	return tx
}

type cursor struct {
	store *Store
	scope record.Scope
	size  int
	after int64
	err   error
	done  bool
}

func (c *cursor) Next(ctx context.Context) ([]record.Record, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.done {
		return nil, io.EOF
	}

	var rows []row
	err := c.store.pageStmt(c.store.db.WithContext(ctx), c.scope, c.after, c.size, &rows).Error
	if err != nil {
		return nil, &db.Error{Op: db.OpScan, Err: err}
	}
	if len(rows) == 0 {
		c.done = true
		return nil, io.EOF
	}
	if len(rows) < c.size {
		c.done = true
	}
	c.after = rows[len(rows)-1].ID
	return toRecords(rows), nil
}

func (c *cursor) Position() string {
	if c.after == 0 {
		return ""
	}
	return strconv.FormatInt(c.after, 10)
}

func toRow(r record.Record) row {
	created := r.Metadata.CreateTime
	if created.IsZero() {
		created = time.Now()
	}
	return row{
		Vector:       record.FormatVector(r.Vector),
		TeamID:       r.Metadata.TeamID,
		DatasetID:    r.Metadata.DatasetID,
		CollectionID: r.Metadata.CollectionID,
		CreateTime:   created,
	}
}

// toRecords converts rows. An unparsable vector yields a record with no vector,
// which the pipeline rejects as a transform error.
func toRecords(rows []row) []record.Record {
	out := make([]record.Record, len(rows))
	for i, r := range rows {
		vec, err := record.ParseVector(r.Vector)
		if err != nil {
			vec = nil
		}
		out[i] = record.Record{
			ID:     strconv.FormatInt(r.ID, 10),
			Vector: vec,
			Metadata: record.Metadata{
				TeamID:       r.TeamID,
				DatasetID:    r.DatasetID,
				CollectionID: r.CollectionID,
				CreateTime:   r.CreateTime,
			},
		}
	}
	return out
}

func numericIDs(ids []string) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func firstLine(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	if i := strings.IndexByte(stmt, '\n'); i >= 0 {
		stmt = stmt[:i]
	}
	return stmt
}

// ContainsAny reports whether err's message contains any of the substrings, case-insensitively.
func ContainsAny(err error, substrs ...string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range substrs {
		if strings.Contains(msg, strings.ToLower(s)) {
			return true
		}
	}
	return false
}
