package metrics

import "github.com/prometheus/client_golang/prometheus"

// initBusMetrics initializes event-bus publish metrics. The Manager
// implements eventbus.Telemetry.
func (m *Manager) initBusMetrics() {
	m.busPublishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventbus_publishes_total",
			Help: "Total number of lifecycle event publishes by status",
		},
		[]string{"status"},
	)

	m.busRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "eventbus_publish_retries_total",
			Help: "Total number of publish retry attempts",
		},
	)

	m.busDegraded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventbus_degraded",
			Help: "Whether the event bus is in degraded mode (1) or healthy (0)",
		},
	)

	m.registry.MustRegister(m.busPublishes)
	m.registry.MustRegister(m.busRetries)
	m.registry.MustRegister(m.busDegraded)
}

// RecordPublish records one publish attempt outcome.
func (m *Manager) RecordPublish(status string) {
	if !m.enabled {
		return
	}
	m.busPublishes.WithLabelValues(status).Inc()
}

// RecordRetry records one publish retry.
func (m *Manager) RecordRetry() {
	if !m.enabled {
		return
	}
	m.busRetries.Inc()
}

// SetDegradedMode flags the bus as degraded or recovered.
func (m *Manager) SetDegradedMode(active bool) {
	if !m.enabled {
		return
	}
	if active {
		m.busDegraded.Set(1)
		return
	}
	m.busDegraded.Set(0)
}
