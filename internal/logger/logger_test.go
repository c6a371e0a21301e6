package logger

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		env, level string
		wantErr    bool
		debug      bool
		json       bool
	}{
		{"prod", "", false, false, true},
		{"local", "", false, true, false},
		{"docker", "warn", false, false, false},
		{"prod", "debug", false, true, true},
		{"staging", "", true, false, false},
		{"prod", "loud", true, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.env+"/"+tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			l, closeLog, err := New(Config{Env: tt.env, Level: tt.level, Output: &buf})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := l.Core().Enabled(zapcore.DebugLevel); got != tt.debug {
				t.Errorf("debug enabled = %v, want %v", got, tt.debug)
			}

			l.Error("checkpoint_save_failed", zap.String("key", "abc"))
			closeLog()
			out := buf.String()
			if !strings.Contains(out, "checkpoint_save_failed") {
				t.Fatalf("output = %q", out)
			}
			if got := strings.HasPrefix(out, "{"); got != tt.json {
				t.Errorf("json output = %v, want %v: %q", got, tt.json, out)
			}
		})
	}
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vecmigrate.log")
	var console bytes.Buffer
	l, closeLog, err := New(Config{
		Env:    "prod",
		Output: &console,
		File:   FileConfig{Path: path, MaxSizeMB: 1},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	l.Info("batch_written", zap.Int("size", 1000))
	l.Debug("below_level")
	closeLog()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"msg":"batch_written"`) || !strings.Contains(out, `"size":1000`) {
		t.Errorf("log file = %s", out)
	}
	if strings.Contains(out, "below_level") {
		t.Error("file sink must follow the console level")
	}
	if !strings.Contains(console.String(), "batch_written") {
		t.Errorf("console = %q", console.String())
	}
}

func TestWith(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("missing logger must fall back to nop")
	}

	var buf bytes.Buffer
	base := zap.New(zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(&buf), zapcore.InfoLevel,
	))
	ctx, l := With(WithLogger(context.Background(), base), zap.String("migration_id", "m-1"))
	if FromContext(ctx) != l {
		t.Fatal("scoped logger not stored in context")
	}

	_, wl := With(ctx, zap.Int("worker", 2))
	wl.Info("batch_written")
	_ = wl.Sync()
	out := buf.String()
	if !strings.Contains(out, `"migration_id":"m-1"`) || !strings.Contains(out, `"worker":2`) {
		t.Errorf("fields not carried: %s", out)
	}
}
