package backend

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kailas-cloud/vecmigrate/internal/db"
	"github.com/kailas-cloud/vecmigrate/internal/db/memory"
	"github.com/kailas-cloud/vecmigrate/internal/domain"
	"github.com/kailas-cloud/vecmigrate/internal/domain/migration"
)

func TestOpen_UnknownKind(t *testing.T) {
	r := New(nil)
	_, err := r.Open(context.Background(), Request{Config: migration.BackendConfig{Kind: "mongo"}})
	if !errors.Is(err, domain.ErrUnknownBackend) {
		t.Errorf("err = %v, want ErrUnknownBackend", err)
	}
}

func TestOpen_RegisteredOpener(t *testing.T) {
	r := New(nil)
	mem := memory.New(memory.Config{})
	var got Request
	r.Register("memory", func(_ context.Context, req Request) (db.Store, error) {
		got = req
		return mem, nil
	})

	req := Request{
		Config:      migration.BackendConfig{Kind: "memory", Table: "t"},
		Role:        migration.RoleTarget,
		PreserveIDs: true,
	}
	s, err := r.Open(context.Background(), req)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s != mem {
		t.Error("opener result not returned")
	}
	if got != req {
		t.Errorf("opener got %+v", got)
	}
}

func TestOpen_OpenerErrorNamesEndpoint(t *testing.T) {
	r := New(nil)
	r.Register("memory", func(context.Context, Request) (db.Store, error) {
		return nil, errors.New("refused")
	})
	_, err := r.Open(context.Background(), Request{
		Config: migration.BackendConfig{Kind: "memory", Address: "h:1"},
		Role:   migration.RoleSource,
	})
	if err == nil || !strings.Contains(err.Error(), "source memory://h:1") {
		t.Errorf("err = %v", err)
	}
}

func TestAddress_EnvFallback(t *testing.T) {
	r := New(nil)
	r.getenv = func(k string) string {
		if k == "PG_URL" {
			return "postgres://env"
		}
		return ""
	}
	if got := r.address(migration.BackendConfig{}, "PG_URL"); got != "postgres://env" {
		t.Errorf("address = %q", got)
	}
	if got := r.address(migration.BackendConfig{Address: "postgres://cfg"}, "PG_URL"); got != "postgres://cfg" {
		t.Errorf("address = %q", got)
	}
}

func TestOpen_PostgresWithoutDSN(t *testing.T) {
	r := New(nil)
	r.getenv = func(string) string { return "" }
	_, err := r.Open(context.Background(), Request{Config: migration.BackendConfig{Kind: migration.KindPostgres}})
	if err == nil || !strings.Contains(err.Error(), "PG_URL") {
		t.Errorf("err = %v", err)
	}
}
