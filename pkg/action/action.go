// Package action defines the execution contract between the pipeline engine
// and action implementations, and the static registry that resolves them.
package action

import "context"

// ResultAction tells the engine what to do with an event delivered to a
// suspended step.
type ResultAction string

const (
	// ResultComplete terminates the step with the carried status.
	ResultComplete ResultAction = "COMPLETE"
	// ResultIgnore leaves the step suspended; used for event types the
	// action does not care about.
	ResultIgnore ResultAction = "IGNORE"
)

// EventTypeTimeout is the synthetic event type delivered when a suspended
// step's deadline elapses before a genuine external event arrives.
const EventTypeTimeout = "timeout"

// Context carries everything an action needs to execute one step.
type Context struct {
	StepID      string
	ExecutionID string

	// Params are the step's parameters with templates already resolved.
	Params map[string]any

	// WorkflowParams are the pipeline-level trigger parameters.
	WorkflowParams map[string]any

	// StepOutputs maps prior step IDs to their outputs.
	StepOutputs map[string]map[string]any
}

// Result is the outcome of Execute. Actions that cannot finish synchronously
// set AwaitingEvent together with a durable correlation ID and a deadline.
type Result struct {
	Success bool
	Outputs map[string]any
	Error   string

	// AwaitingEvent suspends the step until an external event or timeout.
	AwaitingEvent      bool
	ExternalWorkflowID string
	TimeoutSeconds     int
}

// EventContext carries an external or synthetic event back to a suspended
// step.
type EventContext struct {
	StepExecutionID    string
	ExecutionID        string
	ExternalWorkflowID string

	// EventType is the event discriminator; EventTypeTimeout marks the
	// synthetic deadline event.
	EventType string
	EventData map[string]any

	// StepOutputs maps prior step IDs to their outputs.
	StepOutputs map[string]map[string]any
}

// EventResult is the outcome of OnEvent. A COMPLETE result carries the
// terminal status and final outputs; the engine imposes no judgment on the
// event type, only the action decides whether a timeout means success or
// failure.
type EventResult struct {
	Action  ResultAction
	Status  string // "COMPLETED" or "FAILED" when Action is COMPLETE
	Outputs map[string]any
	Error   string
}

// Action is the capability set of one action type. Implementations are
// registered explicitly at process start; there is no runtime discovery.
type Action interface {
	// Execute runs the step. Blocking work must honor ctx cancellation.
	Execute(ctx context.Context, actx *Context) (*Result, error)

	// OnEvent resumes a suspended step with a genuine external event or a
	// synthetic timeout event.
	OnEvent(ctx context.Context, ectx *EventContext) (*EventResult, error)

	// ValidateParams checks parameters before dispatch; a non-empty list
	// fails the step without ever calling Execute.
	ValidateParams(params map[string]any) []string
}

// Retryable is implemented by actions that are safe to re-execute. Actions
// without it are never retried automatically.
type Retryable interface {
	Retryable() bool
}

// IsRetryable reports whether the action declares itself safe to retry.
func IsRetryable(a Action) bool {
	r, ok := a.(Retryable)
	return ok && r.Retryable()
}
