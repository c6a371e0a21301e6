package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/kailas-cloud/vecmigrate/internal/config"
	"github.com/kailas-cloud/vecmigrate/internal/domain/migration"
	"github.com/kailas-cloud/vecmigrate/internal/domain/record"
)

var errUsage = errors.New("usage error")

type cliFlags struct {
	configPath string

	source, sourceAddr, sourceToken, sourceTable string
	target, targetAddr, targetToken, targetTable string

	batchSize, concurrency, sampleSize, dimension int
	rateLimit                                     float64

	teamID, datasetID           string
	createdAfter, createdBefore string

	noValidate, preserveIDs, cleanupOnAbort bool
	statusAddr                              string
	showVersion                             bool

	set map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (cliFlags, error) {
	var f cliFlags
	fs := flag.NewFlagSet("vecmigrate", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&f.configPath, "config", "", "config file (.yaml or .toml); default config/$ENV.yaml")
	fs.StringVar(&f.source, "source", "", "source backend: pg, oceanbase, milvus")
	fs.StringVar(&f.sourceAddr, "source-address", "", "source address or DSN (pg/oceanbase fall back to PG_URL/OCEANBASE_URL)")
	fs.StringVar(&f.sourceToken, "source-token", "", "source auth token")
	fs.StringVar(&f.sourceTable, "source-table", "", "source table or collection")
	fs.StringVar(&f.target, "target", "", "target backend: pg, oceanbase, milvus (required)")
	fs.StringVar(&f.targetAddr, "target-address", "", "target address or DSN (required)")
	fs.StringVar(&f.targetToken, "target-token", "", "target auth token")
	fs.StringVar(&f.targetTable, "target-table", "", "target table or collection")
	fs.IntVar(&f.batchSize, "batch-size", 0, "records per batch")
	fs.IntVar(&f.concurrency, "concurrency", 0, "batches written in parallel")
	fs.IntVar(&f.sampleSize, "sample-size", 0, "records to hash-compare during validation")
	fs.IntVar(&f.dimension, "dimension", 0, "expected vector dimension (0 = detect)")
	fs.Float64Var(&f.rateLimit, "rate-limit", 0, "max records written per second (0 = unlimited)")
	fs.StringVar(&f.teamID, "team-id", "", "migrate only this team")
	fs.StringVar(&f.datasetID, "dataset-id", "", "migrate only this dataset")
	fs.StringVar(&f.createdAfter, "created-after", "", "migrate records created at or after this RFC3339 time")
	fs.StringVar(&f.createdBefore, "created-before", "", "migrate records created at or before this RFC3339 time")
	fs.BoolVar(&f.noValidate, "no-validate", false, "skip post-migration validation")
	fs.BoolVar(&f.preserveIDs, "preserve-ids", false, "keep source ids on the target")
	fs.BoolVar(&f.cleanupOnAbort, "cleanup-on-abort", false, "delete written records when the run aborts")
	fs.StringVar(&f.statusAddr, "status-addr", "", "serve /healthz, /progress and /metrics on this address")
	fs.BoolVar(&f.showVersion, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return cliFlags{}, fmt.Errorf("%w: %w", errUsage, err)
	}
	if fs.NArg() > 0 {
		return cliFlags{}, fmt.Errorf("%w: unexpected arguments %v", errUsage, fs.Args())
	}

	f.set = make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	return f, nil
}

// apply overrides file configuration with explicitly set flags and checks the required endpoint.
func (f cliFlags) apply(cfg *config.Config) error {
	if f.set["source"] {
		k, err := migration.ParseKind(f.source)
		if err != nil {
			return fmt.Errorf("%w: --source: %w", errUsage, err)
		}
		cfg.Source.Kind = k
	}
	if f.set["target"] {
		k, err := migration.ParseKind(f.target)
		if err != nil {
			return fmt.Errorf("%w: --target: %w", errUsage, err)
		}
		cfg.Target.Kind = k
	}
	setString(f.set["source-address"], &cfg.Source.Address, f.sourceAddr)
	setString(f.set["source-token"], &cfg.Source.Token, f.sourceToken)
	setString(f.set["source-table"], &cfg.Source.Table, f.sourceTable)
	setString(f.set["target-address"], &cfg.Target.Address, f.targetAddr)
	setString(f.set["target-token"], &cfg.Target.Token, f.targetToken)
	setString(f.set["target-table"], &cfg.Target.Table, f.targetTable)
	setString(f.set["status-addr"], &cfg.Status.Addr, f.statusAddr)

	m := &cfg.Migration
	if f.set["batch-size"] {
		m.BatchSize = f.batchSize
	}
	if f.set["concurrency"] {
		m.Concurrency = f.concurrency
	}
	if f.set["sample-size"] {
		m.SampleSize = f.sampleSize
	}
	if f.set["dimension"] {
		m.Dimension = f.dimension
	}
	if f.set["rate-limit"] {
		m.RateLimit = f.rateLimit
	}
	if f.noValidate {
		v := false
		m.Validate = &v
	}
	if f.preserveIDs {
		m.PreserveIDs = true
	}
	if f.cleanupOnAbort {
		m.CleanupOnAbort = true
	}

	if cfg.Target.Kind == "" || cfg.Target.Address == "" {
		return fmt.Errorf("%w: --target and --target-address are required", errUsage)
	}
	if err := cfg.Options().Check(); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	return nil
}

func (f cliFlags) scope() (record.Scope, error) {
	s := record.Scope{TeamID: f.teamID, DatasetID: f.datasetID}
	var err error
	if f.createdAfter != "" {
		if s.CreatedAfter, err = time.Parse(time.RFC3339, f.createdAfter); err != nil {
			return record.Scope{}, fmt.Errorf("%w: --created-after: %w", errUsage, err)
		}
	}
	if f.createdBefore != "" {
		if s.CreatedBefore, err = time.Parse(time.RFC3339, f.createdBefore); err != nil {
			return record.Scope{}, fmt.Errorf("%w: --created-before: %w", errUsage, err)
		}
	}
	return s, nil
}

func setString(set bool, dst *string, v string) {
	if set {
		*dst = v
	}
}
