package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initRetentionMetrics initializes retention-cleaner metrics.
func (m *Manager) initRetentionMetrics(cfg Config) {
	m.retentionRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retention_runs_total",
			Help: "Total number of retention cleanup runs by final status",
		},
		[]string{"status"},
	)

	m.retentionDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retention_deleted_rows_total",
			Help: "Total number of rows deleted by retention, per table",
		},
		[]string{"table"},
	)

	m.retentionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "retention_run_duration_seconds",
			Help:    "Retention cleanup run duration in seconds",
			Buckets: cfg.RetentionRunBuckets,
		},
	)

	m.registry.MustRegister(m.retentionRuns)
	m.registry.MustRegister(m.retentionDeleted)
	m.registry.MustRegister(m.retentionDuration)
}

// RecordRetentionRun records the outcome of one cleanup run.
func (m *Manager) RecordRetentionRun(status string, elapsed time.Duration, deletedByTable map[string]int) {
	if !m.enabled {
		return
	}
	m.retentionRuns.WithLabelValues(status).Inc()
	m.retentionDuration.Observe(elapsed.Seconds())
	for table, count := range deletedByTable {
		m.retentionDeleted.WithLabelValues(table).Add(float64(count))
	}
}
