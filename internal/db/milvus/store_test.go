package milvus

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"

	mclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/kailas-cloud/vecmigrate/internal/db"
	"github.com/kailas-cloud/vecmigrate/internal/domain/record"
)

// fakeClient overrides the client methods the adapter uses. Anything else panics.
type fakeClient struct {
	mclient.Client

	queryFn  func(expr string, fields []string) (mclient.ResultSet, error)
	insertFn func(cols []entity.Column) (entity.Column, error)
	upsertFn func(cols []entity.Column) (entity.Column, error)
	deleteFn func(expr string) error

	exprs  []string
	closed bool
}

func (f *fakeClient) Query(
	_ context.Context, _ string, _ []string, expr string, fields []string, _ ...mclient.SearchQueryOptionFunc,
) (mclient.ResultSet, error) {
	f.exprs = append(f.exprs, expr)
	return f.queryFn(expr, fields)
}

func (f *fakeClient) Insert(_ context.Context, _, _ string, cols ...entity.Column) (entity.Column, error) {
	return f.insertFn(cols)
}

func (f *fakeClient) Upsert(_ context.Context, _, _ string, cols ...entity.Column) (entity.Column, error) {
	return f.upsertFn(cols)
}

func (f *fakeClient) Delete(_ context.Context, _, _, expr string) error {
	return f.deleteFn(expr)
}

func (f *fakeClient) HasCollection(_ context.Context, _ string) (bool, error) {
	return true, nil
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func resultSet(ids []int64, team string) mclient.ResultSet {
	vecs := make([][]float32, len(ids))
	teams := make([]string, len(ids))
	empty := make([]string, len(ids))
	times := make([]int64, len(ids))
	for i, id := range ids {
		vecs[i] = []float32{float32(id), 1}
		teams[i] = team
		times[i] = 1_700_000_000_000
	}
	return mclient.ResultSet{
		entity.NewColumnInt64(fieldID, ids),
		entity.NewColumnFloatVector(fieldVector, 2, vecs),
		entity.NewColumnVarChar(fieldTeamID, teams),
		entity.NewColumnVarChar(fieldDatasetID, empty),
		entity.NewColumnVarChar(fieldCollectionID, empty),
		entity.NewColumnInt64(fieldCreateTime, times),
	}
}

func TestCount(t *testing.T) {
	f := &fakeClient{queryFn: func(_ string, fields []string) (mclient.ResultSet, error) {
		if len(fields) != 1 || fields[0] != fieldCount {
			t.Errorf("fields = %v", fields)
		}
		return mclient.ResultSet{entity.NewColumnInt64(fieldCount, []int64{42})}, nil
	}}
	s := NewStoreForTest(f, Config{})

	n, err := s.Count(context.Background(), record.Scope{TeamID: "t1", DatasetID: "A"})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 42 {
		t.Errorf("n = %d", n)
	}
	if f.exprs[0] != `(teamId == "t1") and (datasetId == "A")` {
		t.Errorf("expr = %q", f.exprs[0])
	}
}

func TestCount_Error(t *testing.T) {
	f := &fakeClient{queryFn: func(string, []string) (mclient.ResultSet, error) {
		return nil, errors.New("unavailable")
	}}
	_, err := NewStoreForTest(f, Config{}).Count(context.Background(), record.Scope{})
	var dbErr *db.Error
	if !errors.As(err, &dbErr) || dbErr.Op != db.OpCount {
		t.Fatalf("err = %v", err)
	}
}

func TestIterate_KeysetPages(t *testing.T) {
	pages := [][]int64{{3, 1, 2}, {5, 4}}
	call := 0
	f := &fakeClient{queryFn: func(string, []string) (mclient.ResultSet, error) {
		if call >= len(pages) {
			return resultSet(nil, ""), nil
		}
		p := pages[call]
		call++
		return resultSet(p, "t1"), nil
	}}
	c := NewStoreForTest(f, Config{}).Iterate(record.Scope{TeamID: "t1"}, 3, "")

	first, err := c.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if first[0].ID != "1" || first[2].ID != "3" {
		t.Errorf("page not sorted: %s %s %s", first[0].ID, first[1].ID, first[2].ID)
	}
	if c.Position() != "3" {
		t.Errorf("Position = %q", c.Position())
	}
	if first[0].Metadata.TeamID != "t1" || first[0].Metadata.CreateTime.IsZero() {
		t.Errorf("metadata = %+v", first[0].Metadata)
	}

	second, err := c.Next(context.Background())
	if err != nil || len(second) != 2 {
		t.Fatalf("second = %v, %v", second, err)
	}
	if !strings.Contains(f.exprs[1], "(id > 3)") || !strings.Contains(f.exprs[1], `(teamId == "t1")`) {
		t.Errorf("expr = %q", f.exprs[1])
	}
	if _, err := c.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("short page should end the scan, got %v", err)
	}
}

func TestWrite_UpsertKeepsNumericIDs(t *testing.T) {
	var gotIDs []int64
	f := &fakeClient{upsertFn: func(cols []entity.Column) (entity.Column, error) {
		gotIDs = cols[0].(*entity.ColumnInt64).Data()
		return cols[0], nil
	}}
	s := NewStoreForTest(f, Config{PreserveIDs: true})

	out := s.Write(context.Background(), []record.Record{
		{ID: "7", Vector: []float32{1, 2}},
		{ID: "doc-abc", Vector: []float32{3, 4}},
	})
	if gotIDs[0] != 7 {
		t.Errorf("numeric id changed: %d", gotIDs[0])
	}
	if out[0].Remapped() {
		t.Error("numeric id must not be remapped")
	}
	if !out[1].Remapped() || out[1].TargetID() != strconv.FormatInt(TargetID("doc-abc"), 10) {
		t.Errorf("non-numeric id: %q remapped=%v", out[1].TargetID(), out[1].Remapped())
	}
	for i, r := range out {
		if r.Created() {
			t.Errorf("out[%d]: upsert may replace an existing row and must not be marked created", i)
		}
	}
}

func TestWrite_AutoIDReportsAssignedIDs(t *testing.T) {
	f := &fakeClient{insertFn: func(cols []entity.Column) (entity.Column, error) {
		for _, c := range cols {
			if c.Name() == fieldID {
				t.Error("auto-id insert must not send ids")
			}
		}
		return entity.NewColumnInt64(fieldID, []int64{101, 102, 103}), nil
	}}
	s := NewStoreForTest(f, Config{AutoID: true})

	out := s.Write(context.Background(), []record.Record{
		{ID: "1", Vector: []float32{1}}, {ID: "2", Vector: []float32{2}}, {ID: "3", Vector: []float32{3}},
	})
	for i, want := range []string{"101", "102", "103"} {
		if out[i].TargetID() != want {
			t.Errorf("out[%d] = %q, want %q", i, out[i].TargetID(), want)
		}
		if !out[i].Created() {
			t.Errorf("out[%d]: auto-id insert should be marked created", i)
		}
	}
	if !s.AssignsIDs() {
		t.Error("AssignsIDs() = false")
	}
}

func TestWrite_FailureFailsBatch(t *testing.T) {
	f := &fakeClient{upsertFn: func([]entity.Column) (entity.Column, error) {
		return nil, errors.New("rate limited")
	}}
	out := NewStoreForTest(f, Config{}).Write(context.Background(), []record.Record{
		{ID: "1", Vector: []float32{1}}, {ID: "2", Vector: []float32{2}},
	})
	for i, r := range out {
		if r.Err() == nil {
			t.Errorf("out[%d] should fail", i)
		}
	}
}

func TestDelete(t *testing.T) {
	var got string
	f := &fakeClient{deleteFn: func(expr string) error { got = expr; return nil }}
	if err := NewStoreForTest(f, Config{}).Delete(context.Background(), []string{"1", "x", "3"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got != "id in [1,3]" {
		t.Errorf("expr = %q", got)
	}
}

func TestFetch(t *testing.T) {
	f := &fakeClient{queryFn: func(expr string, _ []string) (mclient.ResultSet, error) {
		if expr != "id in [9]" {
			t.Errorf("expr = %q", expr)
		}
		return resultSet([]int64{9}, "t"), nil
	}}
	recs, err := NewStoreForTest(f, Config{}).Fetch(context.Background(), []string{"9"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "9" || len(recs[0].Vector) != 2 {
		t.Errorf("recs = %+v", recs)
	}
}

func TestScopeExpr_TimeRange(t *testing.T) {
	after := time.UnixMilli(1000)
	before := time.UnixMilli(2000)
	got := scopeExpr(record.Scope{CreatedAfter: after, CreatedBefore: before})
	if got != "(createTime >= 1000) and (createTime <= 2000)" {
		t.Errorf("expr = %q", got)
	}
	if scopeExpr(record.Scope{}) != "" {
		t.Error("zero scope must render empty")
	}
}

func TestTargetID(t *testing.T) {
	if TargetID("12") != 12 {
		t.Error("numeric id not kept")
	}
	a, b := TargetID("abc"), TargetID("abc")
	if a != b {
		t.Error("hashed id must be stable")
	}
	if a < 1_000_000_000_000_000 || a >= 10_000_000_000_000_000 {
		t.Errorf("hashed id %d is not 16 digits", a)
	}
	if TargetID("-5") == -5 {
		t.Error("non-positive ids are not kept")
	}
}

func TestSchemaAutoID(t *testing.T) {
	s := NewStoreForTest(&fakeClient{}, Config{AutoID: true})
	sch := s.schema(768)
	if !schemaAutoID(sch) {
		t.Error("schema should carry auto id")
	}
	if sch.Fields[1].TypeParams[entity.TypeParamDim] != "768" {
		t.Errorf("dim = %v", sch.Fields[1].TypeParams)
	}
}

func TestClose(t *testing.T) {
	f := &fakeClient{}
	if err := NewStoreForTest(f, Config{}).Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !f.closed {
		t.Error("client not closed")
	}
}
