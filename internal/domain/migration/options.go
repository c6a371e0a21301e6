package migration

import (
	"fmt"
	"time"

	"github.com/kailas-cloud/vecmigrate/internal/domain"
)

// Option defaults and ceilings.
const (
	DefaultBatchSize   = 1000
	DefaultConcurrency = 3
	MaxBatchSize       = 16384 // Milvus query window (offset+limit) ceiling
	MaxConcurrency     = 64
)

// Options tunes one run.
type Options struct {
	BatchSize   int  `json:"batch_size"`
	Concurrency int  `json:"concurrency"`
	Validate    bool `json:"validate"`
	PreserveIDs bool `json:"preserve_ids"`

	// SampleSize > 0 adds a content-hash spot check to validation.
	SampleSize int `json:"sample_size,omitempty"`
	// RateLimit caps target writes in records per second. 0 = unlimited.
	RateLimit float64 `json:"rate_limit,omitempty"`
	// Dimension fixes the expected vector length. 0 = taken from the first record.
	Dimension int `json:"dimension,omitempty"`
	// CleanupOnAbort deletes records written by an aborted run.
	CleanupOnAbort bool `json:"cleanup_on_abort,omitempty"`
	// WriteTimeout bounds a single batch write. 0 = none.
	WriteTimeout time.Duration `json:"write_timeout,omitempty"`
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		BatchSize:   DefaultBatchSize,
		Concurrency: DefaultConcurrency,
		Validate:    true,
	}
}

// Normalize clamps sizes into their valid range. Non-positive values take the default.
func (o Options) Normalize() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.BatchSize > MaxBatchSize {
		o.BatchSize = MaxBatchSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.Concurrency > MaxConcurrency {
		o.Concurrency = MaxConcurrency
	}
	if o.SampleSize < 0 {
		o.SampleSize = 0
	}
	if o.RateLimit < 0 {
		o.RateLimit = 0
	}
	if o.Dimension < 0 {
		o.Dimension = 0
	}
	return o
}

// Check rejects values a config file should never contain.
// The orchestrator clamps instead; this is for user-supplied configuration.
func (o Options) Check() error {
	if o.BatchSize < 0 {
		return fmt.Errorf("%w: batch_size must be >= 1, got %d", domain.ErrInvalidOptions, o.BatchSize)
	}
	if o.Concurrency < 0 {
		return fmt.Errorf("%w: concurrency must be >= 1, got %d", domain.ErrInvalidOptions, o.Concurrency)
	}
	if o.RateLimit < 0 {
		return fmt.Errorf("%w: rate_limit must be >= 0, got %v", domain.ErrInvalidOptions, o.RateLimit)
	}
	if o.SampleSize < 0 {
		return fmt.Errorf("%w: sample_size must be >= 0, got %d", domain.ErrInvalidOptions, o.SampleSize)
	}
	return nil
}
