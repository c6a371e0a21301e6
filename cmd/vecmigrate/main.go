package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecmigrate/internal/backend"
	"github.com/kailas-cloud/vecmigrate/internal/config"
	dbRedis "github.com/kailas-cloud/vecmigrate/internal/db/redis"
	"github.com/kailas-cloud/vecmigrate/internal/domain/migration"
	logpkg "github.com/kailas-cloud/vecmigrate/internal/logger"
	"github.com/kailas-cloud/vecmigrate/internal/metrics"
	"github.com/kailas-cloud/vecmigrate/internal/repository/checkpoint"
	"github.com/kailas-cloud/vecmigrate/internal/repository/idmap"
	"github.com/kailas-cloud/vecmigrate/internal/repository/report"
	chiTransport "github.com/kailas-cloud/vecmigrate/internal/transport/chi"
	healthuc "github.com/kailas-cloud/vecmigrate/internal/usecase/health"
	miguc "github.com/kailas-cloud/vecmigrate/internal/usecase/migration"
	"github.com/kailas-cloud/vecmigrate/internal/version"
)

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type reportSink interface {
	Put(ctx context.Context, res migration.Result) (string, error)
}

func run(args []string, stdout, stderr io.Writer) int {
	flags, err := parseFlags(args, stderr)
	if err != nil {
		return exitUsage
	}
	if flags.showVersion {
		_, _ = fmt.Fprintln(stdout, version.String())
		return exitOK
	}

	env := config.GetEnv()
	cfg, err := loadConfig(env, flags.configPath)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "failed to load config:", err)
		return exitUsage
	}
	if err := flags.apply(&cfg); err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return exitUsage
	}
	scope, err := flags.scope()
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return exitUsage
	}

	logger, closeLog, err := logpkg.New(logpkg.Config{
		Env:    env,
		Level:  cfg.Logging.Level,
		Output: stderr,
		File: logpkg.FileConfig{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
		},
	})
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "failed to create logger:", err)
		return exitUsage
	}
	defer closeLog()

	logger.Info("vecmigrate starting",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Stringer("source", cfg.Source),
		zap.Stringer("target", cfg.Target),
		zap.Stringer("scope", scope),
		zap.String("checkpoint_driver", cfg.Checkpoint.Driver),
		zap.String("report_driver", cfg.Report.Driver),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logpkg.WithLogger(ctx, logger)

	// Register metrics explicitly (no init())
	metrics.RegisterMigrationMetrics()

	svc := miguc.New(backend.New(logger))
	health := healthuc.New().Register("migration", healthuc.PingFunc(svc.Health))
	closeState, err := wireState(ctx, svc, health, cfg, logger)
	if err != nil {
		logger.Error("state store unavailable", zap.Error(err))
		return exitFailed
	}
	defer closeState()

	sink, err := buildReportSink(cfg.Report)
	if err != nil {
		logger.Error("report sink unavailable", zap.Error(err))
		return exitFailed
	}

	if cfg.Status.Addr != "" {
		srv := chiTransport.NewServer(cfg.Status.Addr, chiTransport.NewRouter(svc, health, cfg.Status.APIKeys, logger), logger)
		if err := srv.Start(); err != nil {
			logger.Error("status server failed to start", zap.Error(err))
			return exitFailed
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Status.ShutdownSec)*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("status server shutdown", zap.Error(err))
			}
		}()
	}

	spec := &migration.Spec{
		Mode:    migration.ModeOffline,
		Source:  cfg.Source,
		Target:  cfg.Target,
		Options: cfg.Options(),
	}
	res, err := svc.Run(ctx, spec, migration.RunContext{
		Scope:      scope,
		OnProgress: progressPrinter(stderr),
		OnState: func(s migration.State) {
			logger.Info("migration_state", zap.String("state", string(s)))
		},
	})
	if err != nil {
		logger.Error("migration could not start", zap.Error(err))
		return exitFailed
	}

	location := ""
	if sink != nil {
		if location, err = sink.Put(context.WithoutCancel(ctx), res); err != nil {
			logger.Error("report export failed", zap.Error(err))
		}
	}

	printSummary(stdout, res, location)
	if !res.Success {
		return exitFailed
	}
	return exitOK
}

// loadConfig reads the explicit path, or config/<env>.yaml when present, or falls back to defaults.
func loadConfig(env, path string) (config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	cfg, err := config.Load(env)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

// wireState attaches checkpoint and id-mapping stores to svc according to cfg.
func wireState(
	ctx context.Context,
	svc *miguc.Service,
	health *healthuc.Service,
	cfg config.Config,
	logger *zap.Logger,
) (func(), error) {
	noop := func() {}

	switch cfg.Checkpoint.Driver {
	case config.DriverFile:
		fstore, err := checkpoint.NewFileStore(cfg.Checkpoint.Path)
		if err != nil {
			return noop, err
		}
		mstore, err := idmap.NewFileStore(cfg.Checkpoint.Path)
		if err != nil {
			return noop, err
		}
		svc.WithCheckpoints(fstore, cfg.Checkpoint.SaveEvery).WithMappings(mstore)
		return noop, nil

	case config.DriverRedis:
		store, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Redis.Addrs,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return noop, fmt.Errorf("redis: %w", err)
		}
		timeout := time.Duration(cfg.Redis.ReadinessTimeout) * time.Second
		if err := store.WaitForReady(ctx, timeout); err != nil {
			store.Close()
			return noop, fmt.Errorf("redis not ready: %w", err)
		}
		logger.Info("Connected to redis", zap.Strings("addrs", cfg.Redis.Addrs))
		health.Register("state", store)

		ttl := time.Duration(cfg.Checkpoint.TTLHours) * time.Hour
		svc.WithCheckpoints(checkpoint.NewRedisStore(store, cfg.Checkpoint.KeyPrefix, ttl), cfg.Checkpoint.SaveEvery).
			WithMappings(idmap.New(store, cfg.Checkpoint.KeyPrefix))
		return store.Close, nil
	}
	return noop, nil
}

// buildReportSink returns a nil interface (not a typed nil pointer) when export is off.
func buildReportSink(rc config.ReportConfig) (reportSink, error) {
	switch rc.Driver {
	case config.DriverFile:
		return report.NewFileSink(rc.Path), nil
	case config.DriverMinio:
		sink, err := report.NewMinioSink(report.MinioConfig{
			Endpoint:  rc.Endpoint,
			AccessKey: rc.AccessKey,
			SecretKey: rc.SecretKey,
			Bucket:    rc.Bucket,
			Prefix:    rc.Prefix,
			Secure:    rc.Secure,
			Region:    rc.Region,
		})
		if err != nil {
			return nil, err
		}
		return sink, nil
	}
	return nil, nil
}
