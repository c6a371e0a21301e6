package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/vecmigrate/internal/domain/migration"
)

// Checkpoint and report drivers.
const (
	DriverNone  = "none"
	DriverFile  = "file"
	DriverRedis = "redis"
	DriverMinio = "minio"
)

// Config holds the vecmigrate configuration.
type Config struct {
	Logging    LoggingConfig           `yaml:"logging" toml:"logging"`
	Source     migration.BackendConfig `yaml:"source" toml:"source"`
	Target     migration.BackendConfig `yaml:"target" toml:"target"`
	Migration  MigrationConfig         `yaml:"migration" toml:"migration"`
	Checkpoint CheckpointConfig        `yaml:"checkpoint" toml:"checkpoint"`
	Redis      RedisConfig             `yaml:"redis" toml:"redis"`
	Report     ReportConfig            `yaml:"report" toml:"report"`
	Status     StatusConfig            `yaml:"status" toml:"status"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"` // debug, info, warn, error (default: determined by env)
	// File, when set, also writes JSON logs to a rotated file.
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
}

// MigrationConfig holds the run options.
type MigrationConfig struct {
	BatchSize       int     `yaml:"batch_size" toml:"batch_size"`
	Concurrency     int     `yaml:"concurrency" toml:"concurrency"`
	Validate        *bool   `yaml:"validate" toml:"validate"`
	PreserveIDs     bool    `yaml:"preserve_ids" toml:"preserve_ids"`
	SampleSize      int     `yaml:"sample_size" toml:"sample_size"`
	RateLimit       float64 `yaml:"rate_limit" toml:"rate_limit"` // records/sec, 0 = unlimited
	Dimension       int     `yaml:"dimension" toml:"dimension"`
	CleanupOnAbort  bool    `yaml:"cleanup_on_abort" toml:"cleanup_on_abort"`
	WriteTimeoutSec int     `yaml:"write_timeout_sec" toml:"write_timeout_sec"`
}

// CheckpointConfig holds resume checkpoint settings.
type CheckpointConfig struct {
	Driver    string `yaml:"driver" toml:"driver"` // none, file, redis (default: none)
	Path      string `yaml:"path" toml:"path"`
	KeyPrefix string `yaml:"key_prefix" toml:"key_prefix"`
	SaveEvery int64  `yaml:"save_every" toml:"save_every"`
	TTLHours  int    `yaml:"ttl_hours" toml:"ttl_hours"`
}

// RedisConfig holds connection settings for the checkpoint and id-mapping store.
type RedisConfig struct {
	Addrs            []string `yaml:"addrs" toml:"addrs"`
	Username         string   `yaml:"username" toml:"username"`
	Password         string   `yaml:"password" toml:"password"`
	DB               int      `yaml:"db" toml:"db"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec" toml:"readiness_timeout_sec"`
}

// ReportConfig holds result export settings.
type ReportConfig struct {
	Driver    string `yaml:"driver" toml:"driver"` // none, file, minio (default: none)
	Path      string `yaml:"path" toml:"path"`
	Endpoint  string `yaml:"endpoint" toml:"endpoint"`
	Bucket    string `yaml:"bucket" toml:"bucket"`
	Prefix    string `yaml:"prefix" toml:"prefix"`
	AccessKey string `yaml:"access_key" toml:"access_key"`
	SecretKey string `yaml:"secret_key" toml:"secret_key"`
	Region    string `yaml:"region" toml:"region"`
	Secure    bool   `yaml:"secure" toml:"secure"`
}

// StatusConfig holds the status server settings. An empty Addr disables it.
type StatusConfig struct {
	Addr        string   `yaml:"addr" toml:"addr"`
	APIKeys     []string `yaml:"api_keys" toml:"api_keys"` // guards /progress; empty = open
	ShutdownSec int      `yaml:"shutdown_timeout_sec" toml:"shutdown_timeout_sec"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from path. Files ending in .toml are decoded as TOML, anything else as YAML.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Default returns the configuration used when no file exists.
func Default() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Source.Kind == "" {
		c.Source.Kind = migration.KindPostgres
	}
	if c.Migration.BatchSize <= 0 {
		c.Migration.BatchSize = migration.DefaultBatchSize
	}
	if c.Migration.Concurrency <= 0 {
		c.Migration.Concurrency = migration.DefaultConcurrency
	}
	if c.Migration.Validate == nil {
		v := true
		c.Migration.Validate = &v
	}
	if c.Checkpoint.Driver == "" {
		c.Checkpoint.Driver = DriverNone
	}
	if c.Checkpoint.Path == "" {
		c.Checkpoint.Path = ".vecmigrate"
	}
	if c.Checkpoint.KeyPrefix == "" {
		c.Checkpoint.KeyPrefix = "vecmigrate:"
	}
	if c.Checkpoint.SaveEvery <= 0 {
		c.Checkpoint.SaveEvery = 10000
	}
	if c.Checkpoint.TTLHours <= 0 {
		c.Checkpoint.TTLHours = 7 * 24
	}
	if c.Redis.ReadinessTimeout <= 0 {
		c.Redis.ReadinessTimeout = 10
	}
	if c.Report.Driver == "" {
		c.Report.Driver = DriverNone
	}
	if c.Report.Path == "" {
		c.Report.Path = "reports"
	}
	if c.Status.ShutdownSec <= 0 {
		c.Status.ShutdownSec = 5
	}
}

// Validate checks the configuration for correctness.
// The target endpoint is not required here: flags may still supply it.
func (c *Config) Validate() error {
	if _, err := migration.ParseKind(string(c.Source.Kind)); err != nil {
		return fmt.Errorf("source.kind: %w", err)
	}
	if c.Target.Kind != "" {
		if _, err := migration.ParseKind(string(c.Target.Kind)); err != nil {
			return fmt.Errorf("target.kind: %w", err)
		}
	}
	if err := c.Options().Check(); err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	if c.Migration.WriteTimeoutSec < 0 {
		return fmt.Errorf("migration.write_timeout_sec must be >= 0, got %d", c.Migration.WriteTimeoutSec)
	}

	switch c.Checkpoint.Driver {
	case DriverNone, DriverFile:
	case DriverRedis:
		if len(c.Redis.Addrs) == 0 {
			return fmt.Errorf("redis.addrs is required for checkpoint.driver %q", DriverRedis)
		}
	default:
		return fmt.Errorf("checkpoint.driver must be none, file or redis, got %q", c.Checkpoint.Driver)
	}

	switch c.Report.Driver {
	case DriverNone, DriverFile:
	case DriverMinio:
		if c.Report.Endpoint == "" || c.Report.Bucket == "" {
			return fmt.Errorf("report.endpoint and report.bucket are required for report.driver %q", DriverMinio)
		}
	default:
		return fmt.Errorf("report.driver must be none, file or minio, got %q", c.Report.Driver)
	}
	return nil
}

// Options converts the migration section into run options.
func (c *Config) Options() migration.Options {
	validate := c.Migration.Validate == nil || *c.Migration.Validate
	return migration.Options{
		BatchSize:      c.Migration.BatchSize,
		Concurrency:    c.Migration.Concurrency,
		Validate:       validate,
		PreserveIDs:    c.Migration.PreserveIDs,
		SampleSize:     c.Migration.SampleSize,
		RateLimit:      c.Migration.RateLimit,
		Dimension:      c.Migration.Dimension,
		CleanupOnAbort: c.Migration.CleanupOnAbort,
		WriteTimeout:   time.Duration(c.Migration.WriteTimeoutSec) * time.Second,
	}
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
