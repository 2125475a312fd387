package storage

import (
	"time"

	"github.com/flowforge/flowforge/pkg/dag"
)

// ExecutionStatus is the lifecycle state of a pipeline execution.
type ExecutionStatus string

const (
	ExecutionPending     ExecutionStatus = "PENDING"
	ExecutionRunning     ExecutionStatus = "RUNNING"
	ExecutionCompleted   ExecutionStatus = "COMPLETED"
	ExecutionFailed      ExecutionStatus = "FAILED"
	ExecutionInterrupted ExecutionStatus = "INTERRUPTED"
)

// Terminal reports whether the status is final.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionInterrupted
}

// StepStatus is the lifecycle state of a step execution.
type StepStatus string

const (
	StepPending   StepStatus = "PENDING"
	StepRunning   StepStatus = "RUNNING"
	StepRetrying  StepStatus = "RETRYING"
	StepCompleted StepStatus = "COMPLETED"
	StepFailed    StepStatus = "FAILED"
	StepSkipped   StepStatus = "SKIPPED"
)

// Terminal reports whether the status is final.
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepSkipped
}

// ExecutionSettings are pipeline-level execution knobs, snapshotted with the
// definition.
type ExecutionSettings struct {
	// MaxParallelism bounds concurrent steps within one batch. Zero means
	// unbounded.
	MaxParallelism int `json:"max_parallelism,omitempty"`

	// FailFast stops scheduling further batches after the first aborting
	// step failure; without it, branches unaffected by the failure keep
	// running.
	FailFast bool `json:"fail_fast,omitempty"`
}

// WorkflowDefinition is a stored pipeline definition: an ordered DAG of
// steps plus declared parameters and settings.
type WorkflowDefinition struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Version   int               `json:"version"`
	Steps     []*dag.Step       `json:"steps"`
	Params    map[string]any    `json:"params,omitempty"`
	Settings  ExecutionSettings `json:"settings"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// PipelineExecution is one run of a workflow definition. The step list is
// snapshotted at trigger time so later definition edits cannot change a
// running execution.
type PipelineExecution struct {
	ID           string          `json:"id"`
	WorkflowID   string          `json:"workflow_id"`
	WorkflowName string          `json:"workflow_name"`
	Steps        []*dag.Step     `json:"steps"`
	Settings     ExecutionSettings `json:"settings"`
	Status       ExecutionStatus `json:"status"`
	Params       map[string]any  `json:"params,omitempty"`

	// ProgressPercentage is 0.00-100.00 and monotonic for the lifetime of
	// the execution.
	ProgressPercentage float64 `json:"progress_percentage"`

	FinalOutputs map[string]any `json:"final_outputs,omitempty"`
	ErrorInfo    string         `json:"error_info,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Version is the optimistic-concurrency counter; writes with a stale
	// version are rejected with VersionConflictError.
	Version int64 `json:"version"`
}

// StepExecution is one step's run within a pipeline execution.
type StepExecution struct {
	ID          string     `json:"id"`
	ExecutionID string     `json:"execution_id"`
	StepID      string     `json:"step_id"`
	Status      StepStatus `json:"status"`

	ProgressPercentage float64        `json:"progress_percentage"`
	Outputs            map[string]any `json:"outputs,omitempty"`
	Error              string         `json:"error,omitempty"`

	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	// ExternalWorkflowID correlates a suspended step with the event that
	// will resume it; set only while the step awaits an event.
	ExternalWorkflowID string `json:"external_workflow_id,omitempty"`

	// TimeoutDeadline is the registered deadline of a suspended step,
	// persisted so deadlines survive a process restart.
	TimeoutDeadline *time.Time `json:"timeout_deadline,omitempty"`

	RetryCount int   `json:"retry_count"`
	Version    int64 `json:"version"`
}

// Suspended reports whether the step is awaiting an external event.
func (s *StepExecution) Suspended() bool {
	return s.Status == StepRunning && s.ExternalWorkflowID != ""
}

// Progress event types.
const (
	EventStepCompleted     = "step_completed"
	EventWorkflowProgress  = "workflow_progress"
	EventWorkflowCompleted = "workflow_completed"
)

// ProgressEvent is an append-only progress record. SequenceNumber defines
// the total order of events for one execution, independent of wall-clock
// time.
type ProgressEvent struct {
	ID                 string         `json:"id"`
	ExecutionID        string         `json:"execution_id"`
	SequenceNumber     int64          `json:"sequence_number"`
	EventType          string         `json:"event_type"`
	ProgressPercentage float64        `json:"progress_percentage"`
	ETASeconds         *float64       `json:"eta_seconds,omitempty"`
	Payload            map[string]any `json:"payload,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

// Subscription registers an external consumer for one execution's progress
// events. Deleted together with the execution by the retention cleaner.
type Subscription struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"execution_id"`
	Target      string    `json:"target"`
	CreatedAt   time.Time `json:"created_at"`
}

// ScheduleType discriminates how a schedule computes its next run.
type ScheduleType string

const (
	ScheduleOneTime  ScheduleType = "ONE_TIME"
	ScheduleCron     ScheduleType = "CRON"
	ScheduleInterval ScheduleType = "INTERVAL"
)

// Schedule statuses.
const (
	ScheduleStatusActive    = "active"
	ScheduleStatusExpired   = "expired"
	ScheduleStatusCompleted = "completed"
)

// Schedule triggers a workflow on a cron, interval or one-time basis.
type Schedule struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	WorkflowID string       `json:"workflow_id"`
	Type       ScheduleType `json:"schedule_type"`

	// Expression is the cron string (CRON), Go duration (INTERVAL) or
	// RFC 3339 timestamp (ONE_TIME).
	Expression string `json:"expression"`
	Timezone   string `json:"timezone,omitempty"`

	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	Enabled   bool       `json:"enabled"`
	Status    string     `json:"status"`

	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	MaxRuns   int        `json:"max_runs,omitempty"`
	RunCount  int        `json:"run_count"`

	Params map[string]any `json:"params,omitempty"`

	LastExecutionID string     `json:"last_execution_id,omitempty"`
	LastRunStatus   string     `json:"last_run_status,omitempty"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// ExecutionFilter selects executions for listing.
type ExecutionFilter struct {
	Status []ExecutionStatus `json:"status,omitempty"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

// CascadeCounts reports how many rows a cascade delete removed per table.
type CascadeCounts struct {
	ProgressEvents int `json:"progress_events"`
	Subscriptions  int `json:"subscriptions"`
	StepExecutions int `json:"step_executions"`
	Executions     int `json:"executions"`
}

// Add accumulates counts from another cascade.
func (c *CascadeCounts) Add(other CascadeCounts) {
	c.ProgressEvents += other.ProgressEvents
	c.Subscriptions += other.Subscriptions
	c.StepExecutions += other.StepExecutions
	c.Executions += other.Executions
}
