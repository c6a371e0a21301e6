package logger

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the encoding, level and sinks of the process logger.
type Config struct {
	// Env is prod for JSON output; local, dev and docker use colored console output.
	Env string
	// Level overrides the env default: debug, info, warn, error.
	Level string
	// Output receives the log stream. Defaults to stderr so stdout stays free for the run summary.
	Output io.Writer
	// File, when File.Path is set, also writes JSON logs to a rotated file.
	File FileConfig
}

// New builds the process logger. The returned func flushes it and releases the log file.
func New(cfg Config) (*zap.Logger, func(), error) {
	var zc zap.Config
	switch cfg.Env {
	case "prod":
		zc = zap.NewProductionConfig()
	case "local", "dev", "docker":
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, nil, fmt.Errorf("unknown environment %q for logger", cfg.Env)
	}

	if cfg.Level != "" {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	sink := zapcore.Lock(zapcore.AddSync(out))

	var enc zapcore.Encoder
	if zc.Encoding == "json" {
		enc = zapcore.NewJSONEncoder(zc.EncoderConfig)
	} else {
		enc = zapcore.NewConsoleEncoder(zc.EncoderConfig)
	}
	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel), zap.ErrorOutput(sink)}
	if zc.Development {
		opts = append(opts, zap.Development())
	}
	l := zap.New(zapcore.NewCore(enc, sink, zc.Level), opts...)

	if cfg.File.Path == "" {
		return l, func() { _ = l.Sync() }, nil
	}
	l, file := WithFile(l, cfg.File)
	return l, func() {
		_ = l.Sync()
		_ = file.Close()
	}, nil
}
