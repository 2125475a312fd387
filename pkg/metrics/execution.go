package metrics

import "github.com/prometheus/client_golang/prometheus"

// initExecutionMetrics initializes pipeline-execution metrics.
func (m *Manager) initExecutionMetrics(cfg Config) {
	m.executionStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "execution_starts_total",
			Help: "Total number of pipeline executions started",
		},
	)

	m.executionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "execution_duration_seconds",
			Help:    "Pipeline execution duration in seconds",
			Buckets: cfg.ExecutionDurationBuckets,
		},
		[]string{"status"},
	)

	m.executionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "executions_active",
			Help: "Current number of running pipeline executions",
		},
	)

	m.registry.MustRegister(m.executionStarts)
	m.registry.MustRegister(m.executionDuration)
	m.registry.MustRegister(m.executionsActive)
}

// RecordExecutionStarted counts a new pipeline execution.
func (m *Manager) RecordExecutionStarted() {
	if !m.enabled {
		return
	}
	m.executionStarts.Inc()
	m.executionsActive.Inc()
}

// RecordExecutionFinished records a terminal execution with its duration.
func (m *Manager) RecordExecutionFinished(status string, seconds float64) {
	if !m.enabled {
		return
	}
	m.executionDuration.WithLabelValues(status).Observe(seconds)
	m.executionsActive.Dec()
}
