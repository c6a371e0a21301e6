// Package milvus is the storage adapter for Milvus collections.
package milvus

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	mclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

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
	_ db.IDAssigner  = (*Store)(nil)
)

// Defaults matching the collections written by the application.
const (
	DefaultDatabase   = "fastgpt"
	DefaultCollection = "modeldata"
	DefaultDimension  = 1536
)

// Field names.
const (
	fieldID           = "id"
	fieldVector       = "vector"
	fieldTeamID       = "teamId"
	fieldDatasetID    = "datasetId"
	fieldCollectionID = "collectionId"
	fieldCreateTime   = "createTime"
	fieldCount        = "count(*)"
)

var outputFields = []string{fieldID, fieldVector, fieldTeamID, fieldDatasetID, fieldCollectionID, fieldCreateTime}

// Config holds connection parameters.
type Config struct {
	Address string
	// Token is an API key, or "user:password".
	Token      string
	Database   string
	Collection string
	// AutoID applies to collections created by Init. Existing collections report their own schema.
	AutoID      bool
	PreserveIDs bool
	// CreateDatabase creates the database when missing (targets only).
	CreateDatabase bool
}

// Store implements db.Store via milvus-sdk-go.
type Store struct {
	client     mclient.Client
	collection string
	preserve   bool

	mu     sync.RWMutex
	autoID bool
}

// NewStore connects to Milvus, making sure the database exists first.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("address is required")
	}
	if cfg.Database == "" {
		cfg.Database = DefaultDatabase
	}

	if cfg.Database != "default" {
		if err := ensureDatabase(ctx, cfg); err != nil {
			return nil, err
		}
	}

	client, err := mclient.NewClient(ctx, clientConfig(cfg, cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return newStore(client, cfg), nil
}

// NewStoreForTest wraps an existing client.
func NewStoreForTest(c mclient.Client, cfg Config) *Store {
	return newStore(c, cfg)
}

func newStore(c mclient.Client, cfg Config) *Store {
	coll := cfg.Collection
	if coll == "" {
		coll = DefaultCollection
	}
	return &Store{
		client:     c,
		collection: coll,
		preserve:   cfg.PreserveIDs,
		autoID:     cfg.AutoID,
	}
}

func clientConfig(cfg Config, dbName string) mclient.Config {
	mc := mclient.Config{Address: cfg.Address, DBName: dbName}
	if user, pass, ok := strings.Cut(cfg.Token, ":"); ok {
		mc.Username, mc.Password = user, pass
	} else {
		mc.APIKey = cfg.Token
	}
	return mc
}

// ensureDatabase checks the database on a connection to "default".
// Managed deployments without database support are left alone.
func ensureDatabase(ctx context.Context, cfg Config) error {
	defaultCli, err := mclient.NewClient(ctx, clientConfig(cfg, "default"))
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer func() { _ = defaultCli.Close() }()

	dbs, err := defaultCli.ListDatabases(ctx)
	if err != nil {
		return nil
	}
	for _, d := range dbs {
		if d.Name == cfg.Database {
			return nil
		}
	}
	if !cfg.CreateDatabase {
		return fmt.Errorf("database %q does not exist", cfg.Database)
	}
	if err := defaultCli.CreateDatabase(ctx, cfg.Database); err != nil {
		return &db.Error{Op: db.OpInit, Err: fmt.Errorf("create database %s: %w", cfg.Database, err)}
	}
	return nil
}

// AssignsIDs implements db.IDAssigner.
func (s *Store) AssignsIDs() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.autoID
}

// Count implements db.Counter with a strongly consistent count(*).
func (s *Store) Count(ctx context.Context, scope record.Scope) (int64, error) {
	rs, err := s.client.Query(ctx, s.collection, nil, scopeExpr(scope), []string{fieldCount},
		mclient.WithSearchQueryConsistencyLevel(entity.ClStrong))
	if err != nil {
		return 0, &db.Error{Op: db.OpCount, Err: err}
	}
	col := rs.GetColumn(fieldCount)
	if col == nil || col.Len() == 0 {
		return 0, &db.Error{Op: db.OpCount, Err: fmt.Errorf("missing %s column", fieldCount)}
	}
	n, err := col.GetAsInt64(0)
	if err != nil {
		return 0, &db.Error{Op: db.OpCount, Err: err}
	}
	return n, nil
}

// Iterate implements db.Iterator with keyset pagination on the int64 primary key.
func (s *Store) Iterate(scope record.Scope, batchSize int, after string) db.Cursor {
	c := &cursor{store: s, scope: scope, size: batchSize}
	if c.size < 1 {
		c.size = 1
	}
	if after != "" {
		id, err := strconv.ParseInt(after, 10, 64)
		if err != nil {
			c.err = &db.Error{Op: db.OpScan, Err: fmt.Errorf("invalid position %q: %w", after, err)}
		}
		c.after = id
	}
	return c
}

// Write implements db.Writer. Auto-id collections take an insert and report the
// generated keys; otherwise records are upserted under a numeric id derived from the source id.
func (s *Store) Write(ctx context.Context, recs []record.Record) []batch.Result {
	if len(recs) == 0 {
		return nil
	}
	srcIDs := make([]string, len(recs))
	for i, r := range recs {
		srcIDs[i] = r.ID
	}
	dim := len(recs[0].Vector)

	vectors := make([][]float32, len(recs))
	teams := make([]string, len(recs))
	datasets := make([]string, len(recs))
	collections := make([]string, len(recs))
	created := make([]int64, len(recs))
	for i, r := range recs {
		vectors[i] = r.Vector
		teams[i] = r.Metadata.TeamID
		datasets[i] = r.Metadata.DatasetID
		collections[i] = r.Metadata.CollectionID
		created[i] = createTimeMillis(r.Metadata.CreateTime)
	}
	cols := []entity.Column{
		entity.NewColumnFloatVector(fieldVector, dim, vectors),
		entity.NewColumnVarChar(fieldTeamID, teams),
		entity.NewColumnVarChar(fieldDatasetID, datasets),
		entity.NewColumnVarChar(fieldCollectionID, collections),
		entity.NewColumnInt64(fieldCreateTime, created),
	}

	if s.AssignsIDs() {
		idCol, err := s.client.Insert(ctx, s.collection, "", cols...)
		if err != nil {
			return batch.FailAll(srcIDs, &db.Error{Op: db.OpWrite, Err: err})
		}
		out := make([]batch.Result, len(recs))
		for i := range recs {
			id, err := idCol.GetAsInt64(i)
			if err != nil {
				out[i] = batch.NewError(recs[i].ID, &db.Error{Op: db.OpWrite, Err: fmt.Errorf("read assigned id: %w", err)})
				continue
			}
			out[i] = batch.NewCreated(recs[i].ID, strconv.FormatInt(id, 10))
		}
		return out
	}

	ids := make([]int64, len(recs))
	for i, r := range recs {
		ids[i] = TargetID(r.ID)
	}
	cols = append([]entity.Column{entity.NewColumnInt64(fieldID, ids)}, cols...)
	if _, err := s.client.Upsert(ctx, s.collection, "", cols...); err != nil {
		return batch.FailAll(srcIDs, &db.Error{Op: db.OpWrite, Err: err})
	}

	out := make([]batch.Result, len(recs))
	for i, r := range recs {
		out[i] = batch.NewOK(r.ID, strconv.FormatInt(ids[i], 10))
	}
	return out
}

// TargetID maps a source id onto an int64 key. Positive numeric ids are kept; anything
// else hashes to a stable 16-digit id so that re-running a batch upserts the same rows.
func TargetID(sourceID string) int64 {
	if n, err := strconv.ParseInt(sourceID, 10, 64); err == nil && n > 0 {
		return n
	}
	const base, span = 1_000_000_000_000_000, 9_000_000_000_000_000
	return base + int64(xxhash.Sum64String(sourceID)%span)
}

// Init implements db.Initializer: creates and indexes the collection when missing,
// then loads it. An existing collection's auto-id setting replaces the configured one.
func (s *Store) Init(ctx context.Context, dim int) error {
	if dim <= 0 {
		dim = DefaultDimension
	}

	has, err := s.client.HasCollection(ctx, s.collection)
	if err != nil {
		return &db.Error{Op: db.OpInit, Err: err}
	}

	if has {
		coll, err := s.client.DescribeCollection(ctx, s.collection)
		if err != nil {
			return &db.Error{Op: db.OpInit, Err: err}
		}
		s.mu.Lock()
		s.autoID = schemaAutoID(coll.Schema)
		s.mu.Unlock()
	} else {
		if err := s.client.CreateCollection(ctx, s.schema(dim), entity.DefaultShardNumber); err != nil {
			return &db.Error{Op: db.OpInit, Err: fmt.Errorf("create collection: %w", err)}
		}
		idx, err := entity.NewIndexHNSW(entity.IP, 32, 128)
		if err != nil {
			return &db.Error{Op: db.OpInit, Err: err}
		}
		if err := s.client.CreateIndex(ctx, s.collection, fieldVector, idx, false); err != nil &&
			!strings.Contains(strings.ToLower(err.Error()), "already") {
			return &db.Error{Op: db.OpInit, Err: fmt.Errorf("create index: %w", err)}
		}
	}

	if err := s.client.LoadCollection(ctx, s.collection, false); err != nil {
		return &db.Error{Op: db.OpInit, Err: fmt.Errorf("load collection: %w", err)}
	}
	return nil
}

func (s *Store) schema(dim int) *entity.Schema {
	autoID := s.AssignsIDs()
	varchar := func(name string) *entity.Field {
		return &entity.Field{
			Name:       name,
			DataType:   entity.FieldTypeVarChar,
			TypeParams: map[string]string{"max_length": "64"},
		}
	}
	return &entity.Schema{
		CollectionName: s.collection,
		Description:    "Store dataset vector",
		AutoID:         autoID,
		Fields: []*entity.Field{
			{
				Name:       fieldID,
				DataType:   entity.FieldTypeInt64,
				PrimaryKey: true,
				AutoID:     autoID,
			},
			{
				Name:       fieldVector,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{entity.TypeParamDim: strconv.Itoa(dim)},
			},
			varchar(fieldTeamID),
			varchar(fieldDatasetID),
			varchar(fieldCollectionID),
			{
				Name:     fieldCreateTime,
				DataType: entity.FieldTypeInt64,
			},
		},
	}
}

func schemaAutoID(s *entity.Schema) bool {
	if s == nil {
		return false
	}
	if s.AutoID {
		return true
	}
	for _, f := range s.Fields {
		if f.PrimaryKey {
			return f.AutoID
		}
	}
	return false
}

// Finish implements db.Finisher: seals growing segments so counts and loads see everything.
func (s *Store) Finish(ctx context.Context) error {
	if err := s.client.Flush(ctx, s.collection, false); err != nil {
		return &db.Error{Op: db.OpWrite, Err: fmt.Errorf("flush: %w", err)}
	}
	return nil
}

// Delete implements db.Deleter.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	expr, ok := idInExpr(ids)
	if !ok {
		return nil
	}
	if err := s.client.Delete(ctx, s.collection, "", expr); err != nil {
		return &db.Error{Op: db.OpDelete, Err: err}
	}
	return nil
}

// Fetch implements db.Fetcher.
func (s *Store) Fetch(ctx context.Context, ids []string) ([]record.Record, error) {
	expr, ok := idInExpr(ids)
	if !ok {
		return nil, nil
	}
	rs, err := s.client.Query(ctx, s.collection, nil, expr, outputFields,
		mclient.WithSearchQueryConsistencyLevel(entity.ClStrong))
	if err != nil {
		return nil, &db.Error{Op: db.OpFetch, Err: err}
	}
	recs, err := toRecords(rs)
	if err != nil {
		return nil, &db.Error{Op: db.OpFetch, Err: err}
	}
	return recs, nil
}

// Ping implements db.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.HasCollection(ctx, s.collection); err != nil {
		return &db.Error{Op: db.OpPing, Err: err}
	}
	return nil
}

// Close shuts down the client.
func (s *Store) Close() error {
	return s.client.Close()
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

	expr := joinExpr(scopeExpr(c.scope), fmt.Sprintf("(%s > %d)", fieldID, c.after))
	rs, err := c.store.client.Query(ctx, c.store.collection, nil, expr, outputFields,
		mclient.WithLimit(int64(c.size)),
		mclient.WithSearchQueryConsistencyLevel(entity.ClStrong))
	if err != nil {
		return nil, &db.Error{Op: db.OpScan, Err: err}
	}
	recs, err := toRecords(rs)
	if err != nil {
		return nil, &db.Error{Op: db.OpScan, Err: err}
	}
	if len(recs) == 0 {
		c.done = true
		return nil, io.EOF
	}
	if len(recs) < c.size {
		c.done = true
	}

	// Rows are sorted by id before the position advances.
	slices.SortFunc(recs, func(a, b record.Record) int {
		ai, _ := strconv.ParseInt(a.ID, 10, 64)
		bi, _ := strconv.ParseInt(b.ID, 10, 64)
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	})
	c.after, _ = strconv.ParseInt(recs[len(recs)-1].ID, 10, 64)
	return recs, nil
}

func (c *cursor) Position() string {
	if c.after == 0 {
		return ""
	}
	return strconv.FormatInt(c.after, 10)
}

// scopeExpr renders the scope predicate as a boolean expression. Count and Iterate share it.
func scopeExpr(scope record.Scope) string {
	var parts []string
	if scope.TeamID != "" {
		parts = append(parts, fmt.Sprintf("(%s == %s)", fieldTeamID, strconv.Quote(scope.TeamID)))
	}
	if scope.DatasetID != "" {
		parts = append(parts, fmt.Sprintf("(%s == %s)", fieldDatasetID, strconv.Quote(scope.DatasetID)))
	}
	if !scope.CreatedAfter.IsZero() {
		parts = append(parts, fmt.Sprintf("(%s >= %d)", fieldCreateTime, scope.CreatedAfter.UnixMilli()))
	}
	if !scope.CreatedBefore.IsZero() {
		parts = append(parts, fmt.Sprintf("(%s <= %d)", fieldCreateTime, scope.CreatedBefore.UnixMilli()))
	}
	return strings.Join(parts, " and ")
}

func joinExpr(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " and ")
}

func idInExpr(ids []string) (string, bool) {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			keys = append(keys, strconv.FormatInt(n, 10))
		}
	}
	if len(keys) == 0 {
		return "", false
	}
	return fmt.Sprintf("%s in [%s]", fieldID, strings.Join(keys, ",")), true
}

func createTimeMillis(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().UnixMilli()
	}
	return t.UnixMilli()
}

// toRecords converts a column-oriented result set into records.
func toRecords(rs mclient.ResultSet) ([]record.Record, error) {
	idCol := rs.GetColumn(fieldID)
	if idCol == nil {
		return nil, nil
	}
	vecCol, ok := rs.GetColumn(fieldVector).(*entity.ColumnFloatVector)
	if !ok {
		return nil, fmt.Errorf("column %s is not a float vector", fieldVector)
	}
	vectors := vecCol.Data()

	n := idCol.Len()
	out := make([]record.Record, n)
	for i := 0; i < n; i++ {
		id, err := idCol.GetAsInt64(i)
		if err != nil {
			return nil, fmt.Errorf("read id %d: %w", i, err)
		}
		r := record.Record{ID: strconv.FormatInt(id, 10)}
		if i < len(vectors) {
			r.Vector = vectors[i]
		}
		r.Metadata.TeamID = stringAt(rs, fieldTeamID, i)
		r.Metadata.DatasetID = stringAt(rs, fieldDatasetID, i)
		r.Metadata.CollectionID = stringAt(rs, fieldCollectionID, i)
		if col := rs.GetColumn(fieldCreateTime); col != nil {
			if ms, err := col.GetAsInt64(i); err == nil && ms > 0 {
				r.Metadata.CreateTime = time.UnixMilli(ms).UTC()
			}
		}
		out[i] = r
	}
	return out, nil
}

func stringAt(rs mclient.ResultSet, name string, i int) string {
	col := rs.GetColumn(name)
	if col == nil {
		return ""
	}
	v, _ := col.GetAsString(i)
	return v
}
