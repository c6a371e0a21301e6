package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kailas-cloud/vecmigrate/internal/domain/migration"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadFile_YAML(t *testing.T) {
	t.Setenv("VM_TARGET_TOKEN", "root:Milvus")
	path := writeFile(t, "local.yaml", `
logging:
  level: debug
source:
  kind: pg
  address: ${VM_PG_URL:-postgres://localhost:5432/fastgpt}
target:
  kind: milvus
  address: localhost:19530
  token: ${VM_TARGET_TOKEN}
migration:
  batch_size: 500
  validate: false
  rate_limit: 2000
  write_timeout_sec: 30
checkpoint:
  driver: file
  path: /tmp/vm
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Source.Address != "postgres://localhost:5432/fastgpt" {
		t.Errorf("source.address = %q", cfg.Source.Address)
	}
	if cfg.Target.Kind != migration.KindMilvus || cfg.Target.Token != "root:Milvus" {
		t.Errorf("target = %+v", cfg.Target)
	}

	opts := cfg.Options()
	if opts.BatchSize != 500 || opts.Validate || opts.RateLimit != 2000 {
		t.Errorf("options = %+v", opts)
	}
	if opts.Concurrency != migration.DefaultConcurrency {
		t.Errorf("concurrency default not applied: %d", opts.Concurrency)
	}
	if opts.WriteTimeout != 30*time.Second {
		t.Errorf("write timeout = %v", opts.WriteTimeout)
	}
	if cfg.Checkpoint.SaveEvery != 10000 || cfg.Checkpoint.KeyPrefix != "vecmigrate:" {
		t.Errorf("checkpoint defaults = %+v", cfg.Checkpoint)
	}
}

func TestLoadFile_TOML(t *testing.T) {
	path := writeFile(t, "run.toml", `
[source]
kind = "oceanbase"
address = "root@tcp(ob:2881)/fastgpt"

[target]
kind = "pg"
address = "postgres://pg:5432/fastgpt"

[migration]
concurrency = 8
preserve_ids = true

[report]
driver = "minio"
endpoint = "minio:9000"
bucket = "reports"
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Source.Kind != migration.KindOceanBase || cfg.Target.Kind != migration.KindPostgres {
		t.Errorf("kinds = %s -> %s", cfg.Source.Kind, cfg.Target.Kind)
	}
	opts := cfg.Options()
	if opts.Concurrency != 8 || !opts.PreserveIDs || !opts.Validate {
		t.Errorf("options = %+v", opts)
	}
	if cfg.Report.Bucket != "reports" {
		t.Errorf("report = %+v", cfg.Report)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("err = %v, want not-exist", err)
	}
}

func TestLoadFile_Invalid(t *testing.T) {
	path := writeFile(t, "bad.yaml", "checkpoint:\n  driver: redis\n")
	_, err := LoadFile(path)
	if err == nil || !strings.Contains(err.Error(), "redis.addrs is required") {
		t.Errorf("err = %v", err)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.Source.Kind != migration.KindPostgres {
		t.Errorf("source kind = %q", cfg.Source.Kind)
	}
	if !cfg.Options().Validate {
		t.Error("validation must default to on")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", func(*Config) {}, ""},
		{"unknown source", func(c *Config) { c.Source.Kind = "mongo" }, "source.kind"},
		{"unknown target", func(c *Config) { c.Target.Kind = "qdrant" }, "target.kind"},
		{"negative rate", func(c *Config) { c.Migration.RateLimit = -1 }, "rate_limit"},
		{"negative timeout", func(c *Config) { c.Migration.WriteTimeoutSec = -1 }, "write_timeout_sec"},
		{"checkpoint driver", func(c *Config) { c.Checkpoint.Driver = "s3" }, "checkpoint.driver"},
		{"redis without addrs", func(c *Config) { c.Checkpoint.Driver = DriverRedis }, "redis.addrs"},
		{"report driver", func(c *Config) { c.Report.Driver = "gcs" }, "report.driver"},
		{"minio without bucket", func(c *Config) {
			c.Report.Driver = DriverMinio
			c.Report.Endpoint = "minio:9000"
		}, "report.bucket"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("VM_SET", "value")
	got := string(expandEnvVars([]byte("a=${VM_SET} b=${VM_UNSET:-fallback} c=${VM_UNSET}")))
	if got != "a=value b=fallback c=" {
		t.Errorf("got %q", got)
	}
}
