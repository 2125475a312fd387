package metrics

import "github.com/prometheus/client_golang/prometheus"

// initStepMetrics initializes step execution metrics.
func (m *Manager) initStepMetrics(cfg Config) {
	m.stepCompletions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "step_completions_total",
			Help: "Total number of step executions reaching a terminal status",
		},
		[]string{"status"},
	)

	m.stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "step_duration_seconds",
			Help:    "Step execution duration in seconds",
			Buckets: cfg.StepDurationBuckets,
		},
		[]string{"status"},
	)

	m.eventDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "step_event_deliveries_total",
			Help: "Total number of events delivered to suspended steps by result",
		},
		[]string{"result"},
	)

	m.registry.MustRegister(m.stepCompletions)
	m.registry.MustRegister(m.stepDuration)
	m.registry.MustRegister(m.eventDeliveries)
}

// RecordStepFinished records a step reaching a terminal status.
func (m *Manager) RecordStepFinished(status string, seconds float64) {
	if !m.enabled {
		return
	}
	m.stepCompletions.WithLabelValues(status).Inc()
	m.stepDuration.WithLabelValues(status).Observe(seconds)
}

// RecordEventDelivered records the outcome of one event delivery to a
// suspended step.
func (m *Manager) RecordEventDelivered(result string) {
	if !m.enabled {
		return
	}
	m.eventDeliveries.WithLabelValues(result).Inc()
}
