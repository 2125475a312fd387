// Package models defines API request/response data structures.
package models

import (
	"time"

	"github.com/flowforge/flowforge/pkg/dag"
	"github.com/flowforge/flowforge/pkg/storage"
)

// DefinitionRequest creates or replaces a workflow definition.
type DefinitionRequest struct {
	// ID is the workflow identifier. Optional on create; generated when
	// empty.
	ID string `json:"id,omitempty" validate:"omitempty,min=1,max=100"`

	// Name is the workflow name.
	Name string `json:"name" validate:"required,min=1,max=100"`

	// Steps is the pipeline DAG.
	Steps []*dag.Step `json:"steps" validate:"required,min=1"`

	// Params are default pipeline parameters, overridable per trigger.
	Params map[string]any `json:"params,omitempty"`

	// Settings are pipeline-level execution knobs.
	Settings storage.ExecutionSettings `json:"settings"`
}

// DefinitionResponse is a stored workflow definition.
type DefinitionResponse struct {
	ID        string                    `json:"id"`
	Name      string                    `json:"name"`
	Version   int                       `json:"version"`
	Steps     []*dag.Step               `json:"steps"`
	Params    map[string]any            `json:"params,omitempty"`
	Settings  storage.ExecutionSettings `json:"settings"`
	CreatedAt time.Time                 `json:"created_at"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

// TriggerRequest starts an execution of a workflow.
type TriggerRequest struct {
	// Params override the definition's default parameters.
	Params map[string]any `json:"params,omitempty"`
}

// ExecutionResponse is the full view of one pipeline execution.
type ExecutionResponse struct {
	ID                 string         `json:"id"`
	WorkflowID         string         `json:"workflow_id"`
	WorkflowName       string         `json:"workflow_name"`
	Status             string         `json:"status"`
	ProgressPercentage float64        `json:"progress_percentage"`
	ETASeconds         *float64       `json:"eta_seconds,omitempty"`
	Params             map[string]any `json:"params,omitempty"`
	FinalOutputs       map[string]any `json:"final_outputs,omitempty"`
	Error              string         `json:"error,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	StartedAt          *time.Time     `json:"started_at,omitempty"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
	Steps              []StepView     `json:"steps,omitempty"`
}

// StepView is the per-step state inside an execution response.
type StepView struct {
	StepID             string         `json:"step_id"`
	Status             string         `json:"status"`
	ProgressPercentage float64        `json:"progress_percentage"`
	Outputs            map[string]any `json:"outputs,omitempty"`
	Error              string         `json:"error,omitempty"`
	RetryCount         int            `json:"retry_count"`
	ExternalWorkflowID string         `json:"external_workflow_id,omitempty"`
	TimeoutDeadline    *time.Time     `json:"timeout_deadline,omitempty"`
	StartTime          *time.Time     `json:"start_time,omitempty"`
	EndTime            *time.Time     `json:"end_time,omitempty"`
}

// ExecutionSummary is the list-view projection of an execution.
type ExecutionSummary struct {
	ID                 string     `json:"id"`
	WorkflowID         string     `json:"workflow_id"`
	WorkflowName       string     `json:"workflow_name"`
	Status             string     `json:"status"`
	ProgressPercentage float64    `json:"progress_percentage"`
	CreatedAt          time.Time  `json:"created_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	StepCount          int        `json:"step_count"`
}

// ExecutionListResponse is a paginated list of executions.
type ExecutionListResponse struct {
	Executions []ExecutionSummary `json:"executions"`
	Total      int                `json:"total"`
	Limit      int                `json:"limit"`
	Offset     int                `json:"offset"`
}

// EventRequest delivers an external event to a suspended step.
type EventRequest struct {
	// EventType names the event, e.g. "approved" or "build_finished".
	EventType string `json:"event_type" validate:"required,min=1,max=100"`

	// Data is the event payload handed to the step's action.
	Data map[string]any `json:"data,omitempty"`
}

// ProgressEventView is one row of an execution's progress history.
type ProgressEventView struct {
	SequenceNumber     int64          `json:"sequence_number"`
	EventType          string         `json:"event_type"`
	ProgressPercentage float64        `json:"progress_percentage"`
	ETASeconds         *float64       `json:"eta_seconds,omitempty"`
	Payload            map[string]any `json:"payload,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}
