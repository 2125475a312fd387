// Package storage provides the persistence abstraction for workflow
// definitions, executions, step executions, progress events, subscriptions
// and schedules.
package storage

import (
	"context"
	"fmt"
	"time"
)

// Store is the persistence interface shared by all components. Execution,
// step and schedule writes are guarded by optimistic concurrency: an update
// whose Version does not match the stored row fails with
// VersionConflictError.
type Store interface {
	// Workflow definitions
	SaveDefinition(ctx context.Context, def *WorkflowDefinition) error
	GetDefinition(ctx context.Context, id string) (*WorkflowDefinition, error)
	ListDefinitions(ctx context.Context) ([]*WorkflowDefinition, error)
	DeleteDefinition(ctx context.Context, id string) error

	// Pipeline executions
	CreateExecution(ctx context.Context, exec *PipelineExecution) error
	UpdateExecution(ctx context.Context, exec *PipelineExecution) error
	GetExecution(ctx context.Context, id string) (*PipelineExecution, error)
	ListExecutions(ctx context.Context, filter *ExecutionFilter) ([]*PipelineExecution, int, error)

	// ListExecutionIDsBefore returns up to limit execution IDs with
	// created_at strictly before cutoff, oldest first.
	ListExecutionIDsBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error)

	// DeleteExecutionCascade removes an execution and everything owned by
	// it (progress events, subscriptions, step executions) atomically: a
	// failure rolls the whole cascade back.
	DeleteExecutionCascade(ctx context.Context, id string) (CascadeCounts, error)

	// Step executions
	CreateStepExecution(ctx context.Context, step *StepExecution) error
	UpdateStepExecution(ctx context.Context, step *StepExecution) error
	GetStepExecution(ctx context.Context, executionID, stepID string) (*StepExecution, error)
	ListStepExecutions(ctx context.Context, executionID string) ([]*StepExecution, error)

	// FindSuspendedStep resolves the step execution awaiting the given
	// external workflow ID.
	FindSuspendedStep(ctx context.Context, externalWorkflowID string) (*StepExecution, error)

	// ListSuspendedSteps returns every step currently awaiting an event,
	// used to re-register deadlines after a restart.
	ListSuspendedSteps(ctx context.Context) ([]*StepExecution, error)

	// Progress events (append-only)
	AppendProgressEvent(ctx context.Context, event *ProgressEvent) error
	ListProgressEvents(ctx context.Context, executionID string) ([]*ProgressEvent, error)
	MaxProgressSequence(ctx context.Context, executionID string) (int64, error)

	// Subscriptions
	CreateSubscription(ctx context.Context, sub *Subscription) error
	ListSubscriptions(ctx context.Context, executionID string) ([]*Subscription, error)

	// Schedules
	SaveSchedule(ctx context.Context, sched *Schedule) error
	GetSchedule(ctx context.Context, id string) (*Schedule, error)
	ListSchedules(ctx context.Context) ([]*Schedule, error)

	// ListDueSchedules returns schedules with next_run_at <= now, ordered
	// by next_run_at then ID for deterministic sweeps.
	ListDueSchedules(ctx context.Context, now time.Time) ([]*Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error

	// Lifecycle
	Close() error
}

// NotFoundError indicates that the requested entity was not found.
type NotFoundError struct {
	EntityType string
	ID         string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.EntityType, e.ID)
}

// DuplicateKeyError indicates that an entity with the given ID already
// exists.
type DuplicateKeyError struct {
	EntityType string
	ID         string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.EntityType, e.ID)
}

// VersionConflictError indicates that an optimistic-concurrency write lost
// the race: the row changed since it was read. Callers should re-read and
// retry.
type VersionConflictError struct {
	EntityType string
	ID         string
	Expected   int64
	Actual     int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("%s %s version conflict: expected %d, stored %d",
		e.EntityType, e.ID, e.Expected, e.Actual)
}

// StorageUnavailableError indicates that the storage backend is unavailable.
type StorageUnavailableError struct {
	Cause error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable: %v", e.Cause)
}

func (e *StorageUnavailableError) Unwrap() error { return e.Cause }

// SerializationError indicates a failure to (de)serialize a stored row.
type SerializationError struct {
	Operation string
	Cause     error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization error during %s: %v", e.Operation, e.Cause)
}

func (e *SerializationError) Unwrap() error { return e.Cause }
