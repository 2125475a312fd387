package metrics

import "github.com/prometheus/client_golang/prometheus"

// initSchedulerMetrics initializes schedule-poller metrics.
func (m *Manager) initSchedulerMetrics() {
	m.scheduleSweeps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "schedule_sweeps_total",
			Help: "Total number of schedule poll sweeps",
		},
	)

	m.scheduleTriggers = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "schedule_triggers_total",
			Help: "Total number of executions triggered by schedules",
		},
	)

	m.scheduleErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "schedule_errors_total",
			Help: "Total number of per-schedule errors during sweeps",
		},
	)

	m.scheduleDue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "schedule_due_last_sweep",
			Help: "Number of schedules found due in the most recent sweep",
		},
	)

	m.registry.MustRegister(m.scheduleSweeps)
	m.registry.MustRegister(m.scheduleTriggers)
	m.registry.MustRegister(m.scheduleErrors)
	m.registry.MustRegister(m.scheduleDue)
}

// RecordSweep records the outcome of one schedule poll sweep.
func (m *Manager) RecordSweep(due, triggered, errors int) {
	if !m.enabled {
		return
	}
	m.scheduleSweeps.Inc()
	m.scheduleTriggers.Add(float64(triggered))
	m.scheduleErrors.Add(float64(errors))
	m.scheduleDue.Set(float64(due))
}
