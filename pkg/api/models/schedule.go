package models

import "time"

// ScheduleRequest creates or updates a schedule.
type ScheduleRequest struct {
	Name       string `json:"name" validate:"required,min=1,max=100"`
	WorkflowID string `json:"workflow_id" validate:"required"`

	// Type is ONE_TIME, CRON or INTERVAL.
	Type string `json:"schedule_type" validate:"required,oneof=ONE_TIME CRON INTERVAL"`

	// Expression is the cron string (CRON), Go duration (INTERVAL) or
	// RFC 3339 timestamp (ONE_TIME).
	Expression string `json:"expression" validate:"required"`
	Timezone   string `json:"timezone,omitempty"`

	Enabled   bool           `json:"enabled"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	MaxRuns   int            `json:"max_runs,omitempty" validate:"min=0"`
	Params    map[string]any `json:"params,omitempty"`
}

// ScheduleResponse is a stored schedule.
type ScheduleResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	WorkflowID string `json:"workflow_id"`
	Type       string `json:"schedule_type"`
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
}

// ScheduleListResponse is the list of schedules.
type ScheduleListResponse struct {
	Schedules []ScheduleResponse `json:"schedules"`
	Total     int                `json:"total"`
}
