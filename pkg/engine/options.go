package engine

import (
	"time"

	"github.com/flowforge/flowforge/pkg/logger"
)

// Option is a functional option for configuring the Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log logger.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithMetrics sets the metrics recorder for the engine.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(e *Engine) {
		if metrics != nil {
			e.metrics = metrics
		}
	}
}

// WithDeadlines sets the deadline registry used for suspended steps. Without
// one, suspended steps wait for a genuine event and never time out.
func WithDeadlines(deadlines DeadlineRegistry) Option {
	return func(e *Engine) {
		if deadlines != nil {
			e.deadlines = deadlines
		}
	}
}

// WithRetryBackoff sets the pause between a step's retry attempts.
func WithRetryBackoff(backoff time.Duration) Option {
	return func(e *Engine) {
		if backoff > 0 {
			e.retryBackoff = backoff
		}
	}
}

// WithClock overrides the engine clock, used in tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}
