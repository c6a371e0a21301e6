package idmap

import (
	"context"
	"os"
	"testing"

	"github.com/kailas-cloud/vecmigrate/internal/domain/migration"
)

func TestFileStore_AppendAndLoad(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	if err := s.Append(ctx, "run1", migration.IDMapping{"1": "101", "2": "102"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(ctx, "run1", migration.IDMapping{"2": "202", "3": "103"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// A second store over the same directory sees what the first wrote.
	again, err := NewFileStore(s.dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	m, err := again.Load(ctx, "run1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := migration.IDMapping{"1": "101", "2": "202", "3": "103"}
	if len(m) != len(want) {
		t.Fatalf("mapping = %v, want %v", m, want)
	}
	for k, v := range want {
		if m[k] != v {
			t.Errorf("m[%s] = %q, want %q", k, m[k], v)
		}
	}

	if err := s.Delete(ctx, "run1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if m, err := s.Load(ctx, "run1"); err != nil || len(m) != 0 {
		t.Errorf("after Delete = %v, %v", m, err)
	}
}

func TestFileStore_LoadMissing(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	m, err := s.Load(context.Background(), "nope")
	if err != nil || len(m) != 0 {
		t.Errorf("Load = %v, %v", m, err)
	}
	if err := s.Delete(context.Background(), "nope"); err != nil {
		t.Errorf("Delete missing: %v", err)
	}
}

func TestFileStore_TornLines(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
		wantErr bool
	}{
		{"torn tail skipped", "{\"1\":\"101\"}\n{\"2\":\"10", 1, false},
		{"corrupt middle", "{\"1\":\"101\"}\nnot json\n{\"3\":\"103\"}\n", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewFileStore(t.TempDir())
			if err != nil {
				t.Fatalf("NewFileStore: %v", err)
			}
			if err := os.WriteFile(s.Path("run"), []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			m, err := s.Load(context.Background(), "run")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && len(m) != tt.want {
				t.Errorf("mapping = %v, want %d pairs", m, tt.want)
			}
		})
	}
}
