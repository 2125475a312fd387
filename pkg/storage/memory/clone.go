package memory

import (
	"time"

	"github.com/flowforge/flowforge/pkg/dag"
	"github.com/flowforge/flowforge/pkg/storage"
)

// Deep copies keep callers from mutating stored rows through shared maps.

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneSteps(src []*dag.Step) []*dag.Step {
	if src == nil {
		return nil
	}
	dst := make([]*dag.Step, len(src))
	for i, step := range src {
		dst[i] = step.Clone()
	}
	return dst
}

func cloneTime(src *time.Time) *time.Time {
	if src == nil {
		return nil
	}
	t := *src
	return &t
}

func cloneFloat(src *float64) *float64 {
	if src == nil {
		return nil
	}
	f := *src
	return &f
}

func cloneDefinition(src *storage.WorkflowDefinition) *storage.WorkflowDefinition {
	copied := *src
	copied.Steps = cloneSteps(src.Steps)
	copied.Params = cloneMap(src.Params)
	return &copied
}

func cloneExecution(src *storage.PipelineExecution) *storage.PipelineExecution {
	copied := *src
	copied.Steps = cloneSteps(src.Steps)
	copied.Params = cloneMap(src.Params)
	copied.FinalOutputs = cloneMap(src.FinalOutputs)
	copied.StartedAt = cloneTime(src.StartedAt)
	copied.CompletedAt = cloneTime(src.CompletedAt)
	return &copied
}

func cloneStep(src *storage.StepExecution) *storage.StepExecution {
	copied := *src
	copied.Outputs = cloneMap(src.Outputs)
	copied.StartTime = cloneTime(src.StartTime)
	copied.EndTime = cloneTime(src.EndTime)
	copied.TimeoutDeadline = cloneTime(src.TimeoutDeadline)
	return &copied
}

func cloneEvent(src *storage.ProgressEvent) *storage.ProgressEvent {
	copied := *src
	copied.Payload = cloneMap(src.Payload)
	copied.ETASeconds = cloneFloat(src.ETASeconds)
	return &copied
}

func cloneSchedule(src *storage.Schedule) *storage.Schedule {
	copied := *src
	copied.Params = cloneMap(src.Params)
	copied.NextRunAt = cloneTime(src.NextRunAt)
	copied.ExpiresAt = cloneTime(src.ExpiresAt)
	copied.LastRunAt = cloneTime(src.LastRunAt)
	return &copied
}
