package metrics

import "github.com/prometheus/client_golang/prometheus"

// Batch outcome labels.
const (
	BatchOK      = "ok"
	BatchPartial = "partial"
	BatchFailed  = "failed"
)

// Migration Prometheus metrics.
var (
	RecordsMigratedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vecmigrate",
			Name:      "records_migrated_total",
			Help:      "Records written to the target",
		},
	)

	RecordsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vecmigrate",
			Name:      "records_failed_total",
			Help:      "Records that did not reach the target",
		},
		[]string{"kind"}, // write / transform
	)

	BatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vecmigrate",
			Name:      "batches_total",
			Help:      "Batches processed by outcome",
		},
		[]string{"status"},
	)

	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vecmigrate",
			Name:      "batch_duration_seconds",
			Help:      "Target write duration per batch",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	IDRemapsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vecmigrate",
			Name:      "id_remaps_total",
			Help:      "Records stored under a different id than the source id",
		},
	)

	IDMapPersistErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vecmigrate",
			Name:      "idmap_persist_errors_total",
			Help:      "Failed attempts to persist id mappings",
		},
	)

	CheckpointSavesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vecmigrate",
			Name:      "checkpoint_saves_total",
			Help:      "Checkpoint writes by outcome",
		},
		[]string{"status"},
	)

	ProgressRatio = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vecmigrate",
			Name:      "migration_progress_ratio",
			Help:      "Processed records over the pre-counted total, 0..1",
		},
	)

	MigrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vecmigrate",
			Name:      "migrations_total",
			Help:      "Finished runs by terminal state",
		},
		[]string{"state"},
	)
)

var migrationMetricsRegistered bool

// RegisterMigrationMetrics registers the migration and status server metrics. Must be called once from main.
func RegisterMigrationMetrics() {
	if migrationMetricsRegistered {
		return
	}
	prometheus.MustRegister(RecordsMigratedTotal)
	prometheus.MustRegister(RecordsFailedTotal)
	prometheus.MustRegister(BatchesTotal)
	prometheus.MustRegister(BatchDuration)
	prometheus.MustRegister(IDRemapsTotal)
	prometheus.MustRegister(IDMapPersistErrorsTotal)
	prometheus.MustRegister(CheckpointSavesTotal)
	prometheus.MustRegister(ProgressRatio)
	prometheus.MustRegister(MigrationsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(httpRequestsTotal)
	migrationMetricsRegistered = true
}

// BatchStatus labels a batch by how many of its records failed.
func BatchStatus(size, failed int) string {
	switch {
	case failed == 0:
		return BatchOK
	case failed >= size:
		return BatchFailed
	default:
		return BatchPartial
	}
}
