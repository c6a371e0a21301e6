package idmap

import (
	"context"
	"errors"
	"testing"

	"github.com/kailas-cloud/vecmigrate/internal/domain/migration"
)

type mockHash struct {
	data   map[string]map[string]string
	setErr error
	calls  int
}

func newMockHash() *mockHash {
	return &mockHash{data: map[string]map[string]string{}}
}

func (m *mockHash) HSet(_ context.Context, key string, fields map[string]string) error {
	m.calls++
	if m.setErr != nil {
		return m.setErr
	}
	if m.data[key] == nil {
		m.data[key] = map[string]string{}
	}
	for k, v := range fields {
		m.data[key][k] = v
	}
	return nil
}

func (m *mockHash) HGetAll(_ context.Context, key string) (map[string]string, error) {
	out := map[string]string{}
	for k, v := range m.data[key] {
		out[k] = v
	}
	return out, nil
}

func (m *mockHash) HLen(_ context.Context, key string) (int64, error) {
	return int64(len(m.data[key])), nil
}

func (m *mockHash) Del(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func TestAppendAndLoad(t *testing.T) {
	h := newMockHash()
	s := New(h, "vecmigrate:")
	ctx := context.Background()

	if err := s.Append(ctx, "run1", migration.IDMapping{"1": "101", "2": "102"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(ctx, "run1", migration.IDMapping{"3": "103"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, ok := h.data["vecmigrate:idmap:run1"]; !ok {
		t.Fatalf("unexpected keys: %v", h.data)
	}

	m, err := s.Load(ctx, "run1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(m) != 3 || m["3"] != "103" {
		t.Errorf("mapping = %v", m)
	}
	n, err := s.Len(ctx, "run1")
	if err != nil || n != 3 {
		t.Errorf("Len = %d, %v", n, err)
	}

	if err := s.Delete(ctx, "run1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if m, _ := s.Load(ctx, "run1"); len(m) != 0 {
		t.Errorf("mapping after Delete = %v", m)
	}
}

func TestAppend_EmptySkipsStore(t *testing.T) {
	h := newMockHash()
	if err := New(h, "").Append(context.Background(), "run", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if h.calls != 0 {
		t.Errorf("store called %d times", h.calls)
	}
}

func TestAppend_Error(t *testing.T) {
	h := newMockHash()
	h.setErr = errors.New("readonly replica")
	err := New(h, "").Append(context.Background(), "run", migration.IDMapping{"a": "1"})
	if !errors.Is(err, h.setErr) {
		t.Errorf("err = %v", err)
	}
}
