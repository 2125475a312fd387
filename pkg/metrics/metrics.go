// Package metrics provides Prometheus instrumentation for FlowForge.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager manages all Prometheus metrics for FlowForge.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	// Execution metrics
	executionStarts   prometheus.Counter
	executionDuration *prometheus.HistogramVec
	executionsActive  prometheus.Gauge

	// Step metrics
	stepCompletions *prometheus.CounterVec
	stepDuration    *prometheus.HistogramVec
	eventDeliveries *prometheus.CounterVec

	// Scheduler metrics
	scheduleSweeps   prometheus.Counter
	scheduleTriggers prometheus.Counter
	scheduleErrors   prometheus.Counter
	scheduleDue      prometheus.Gauge

	// Retention metrics
	retentionRuns     *prometheus.CounterVec
	retentionDeleted  *prometheus.CounterVec
	retentionDuration prometheus.Histogram

	// Event bus metrics
	busPublishes *prometheus.CounterVec
	busRetries   prometheus.Counter
	busDegraded  prometheus.Gauge

	// HTTP metrics
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	httpConnections prometheus.Gauge
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Port    int
	Path    string

	// Histogram bucket configurations
	ExecutionDurationBuckets []float64
	StepDurationBuckets      []float64
	RetentionRunBuckets      []float64
	HTTPDurationBuckets      []float64
}

// DefaultConfig returns default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:                  true,
		Port:                     9091,
		Path:                     "/metrics",
		ExecutionDurationBuckets: []float64{0.1, 0.5, 1, 5, 30, 60, 300, 1800, 7200, 43200},
		StepDurationBuckets:      []float64{0.01, 0.1, 0.5, 1, 5, 30, 60, 300, 1800},
		RetentionRunBuckets:      []float64{0.01, 0.1, 0.5, 1, 5, 30, 120},
		HTTPDurationBuckets:      []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}
}

// NewManager creates a new metrics manager.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return &Manager{enabled: false}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Manager{
		registry: registry,
		enabled:  true,
	}

	m.initExecutionMetrics(cfg)
	m.initStepMetrics(cfg)
	m.initSchedulerMetrics()
	m.initRetentionMetrics(cfg)
	m.initBusMetrics()
	m.initHTTPMetrics(cfg)

	return m
}

// NoOpManager returns a no-op metrics manager for when metrics are disabled.
func NoOpManager() *Manager {
	return &Manager{enabled: false}
}

// Enabled returns whether metrics collection is enabled.
func (m *Manager) Enabled() bool {
	return m.enabled
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Manager) Handler() http.Handler {
	if !m.enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server on the configured port.
func (m *Manager) StartServer(ctx context.Context, port int, path string) error {
	if !m.enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return server.ListenAndServe()
}
