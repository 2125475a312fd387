package engine

// MetricsRecorder receives execution lifecycle measurements. The engine calls
// it on the hot path, so implementations must not block.
type MetricsRecorder interface {
	RecordExecutionStarted()
	RecordExecutionFinished(status string, seconds float64)
	RecordStepFinished(status string, seconds float64)
	RecordEventDelivered(result string)
}

type nopMetrics struct{}

func (nopMetrics) RecordExecutionStarted()                 {}
func (nopMetrics) RecordExecutionFinished(string, float64) {}
func (nopMetrics) RecordStepFinished(string, float64)      {}
func (nopMetrics) RecordEventDelivered(string)             {}
