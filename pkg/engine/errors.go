package engine

import (
	"fmt"

	"github.com/flowforge/flowforge/pkg/storage"
)

// PipelineValidationError is returned when a stored definition fails DAG
// validation at trigger time.
type PipelineValidationError struct {
	WorkflowID string
	Cause      error
}

func (e *PipelineValidationError) Error() string {
	return fmt.Sprintf("workflow %q validation error: %v", e.WorkflowID, e.Cause)
}

func (e *PipelineValidationError) Unwrap() error { return e.Cause }

// StepTransitionError is returned when a step status change is not allowed
// by the transition table.
type StepTransitionError struct {
	StepID string
	From   storage.StepStatus
	To     storage.StepStatus
}

func (e *StepTransitionError) Error() string {
	return fmt.Sprintf("step %q: illegal transition %s -> %s", e.StepID, e.From, e.To)
}

// ExecutionTransitionError is returned when an execution status change is not
// allowed by the transition table.
type ExecutionTransitionError struct {
	ExecutionID string
	From        storage.ExecutionStatus
	To          storage.ExecutionStatus
}

func (e *ExecutionTransitionError) Error() string {
	return fmt.Sprintf("execution %q: illegal transition %s -> %s", e.ExecutionID, e.From, e.To)
}

// TemplateError is returned when a step parameter references a value that
// does not exist at resolution time.
type TemplateError struct {
	StepID     string
	Expression string
	Reason     string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("step %q: template %q: %s", e.StepID, e.Expression, e.Reason)
}

// ExecutionNotRunningError is returned when an interrupt targets an
// execution that is not in a running state.
type ExecutionNotRunningError struct {
	ExecutionID string
	Status      storage.ExecutionStatus
}

func (e *ExecutionNotRunningError) Error() string {
	return fmt.Sprintf("execution %q is %s, not running", e.ExecutionID, e.Status)
}
