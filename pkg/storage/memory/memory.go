// Package memory provides an in-memory implementation of the storage
// interface, used in tests and single-process development setups.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flowforge/flowforge/pkg/storage"
)

// Store implements storage.Store using in-memory maps.
type Store struct {
	mu            sync.RWMutex
	definitions   map[string]*storage.WorkflowDefinition
	executions    map[string]*storage.PipelineExecution
	steps         map[string]map[string]*storage.StepExecution // executionID -> stepID -> row
	events        map[string][]*storage.ProgressEvent          // executionID -> ordered events
	subscriptions map[string][]*storage.Subscription           // executionID -> subs
	schedules     map[string]*storage.Schedule
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		definitions:   make(map[string]*storage.WorkflowDefinition),
		executions:    make(map[string]*storage.PipelineExecution),
		steps:         make(map[string]map[string]*storage.StepExecution),
		events:        make(map[string][]*storage.ProgressEvent),
		subscriptions: make(map[string][]*storage.Subscription),
		schedules:     make(map[string]*storage.Schedule),
	}
}

// SaveDefinition creates or replaces a workflow definition.
func (m *Store) SaveDefinition(_ context.Context, def *storage.WorkflowDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := cloneDefinition(def)
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now().UTC()
	}
	copied.UpdatedAt = time.Now().UTC()
	m.definitions[copied.ID] = copied
	return nil
}

// GetDefinition retrieves a workflow definition by ID.
func (m *Store) GetDefinition(_ context.Context, id string) (*storage.WorkflowDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.definitions[id]
	if !ok {
		return nil, &storage.NotFoundError{EntityType: "workflow definition", ID: id}
	}
	return cloneDefinition(def), nil
}

// ListDefinitions returns all definitions sorted by ID.
func (m *Store) ListDefinitions(_ context.Context) ([]*storage.WorkflowDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	defs := make([]*storage.WorkflowDefinition, 0, len(m.definitions))
	for _, def := range m.definitions {
		defs = append(defs, cloneDefinition(def))
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs, nil
}

// DeleteDefinition removes a workflow definition.
func (m *Store) DeleteDefinition(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.definitions[id]; !ok {
		return &storage.NotFoundError{EntityType: "workflow definition", ID: id}
	}
	delete(m.definitions, id)
	return nil
}

// CreateExecution inserts a new execution with version 1.
func (m *Store) CreateExecution(_ context.Context, exec *storage.PipelineExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.executions[exec.ID]; exists {
		return &storage.DuplicateKeyError{EntityType: "execution", ID: exec.ID}
	}
	copied := cloneExecution(exec)
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now().UTC()
	}
	copied.Version = 1
	m.executions[copied.ID] = copied
	exec.Version = copied.Version
	exec.CreatedAt = copied.CreatedAt
	return nil
}

// UpdateExecution writes an execution; the caller's Version must match the
// stored row.
func (m *Store) UpdateExecution(_ context.Context, exec *storage.PipelineExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.executions[exec.ID]
	if !ok {
		return &storage.NotFoundError{EntityType: "execution", ID: exec.ID}
	}
	if current.Version != exec.Version {
		return &storage.VersionConflictError{
			EntityType: "execution", ID: exec.ID,
			Expected: exec.Version, Actual: current.Version,
		}
	}
	copied := cloneExecution(exec)
	copied.Version = current.Version + 1
	m.executions[copied.ID] = copied
	exec.Version = copied.Version
	return nil
}

// GetExecution retrieves an execution by ID.
func (m *Store) GetExecution(_ context.Context, id string) (*storage.PipelineExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	exec, ok := m.executions[id]
	if !ok {
		return nil, &storage.NotFoundError{EntityType: "execution", ID: id}
	}
	return cloneExecution(exec), nil
}

// ListExecutions lists executions newest first with optional status filter
// and pagination.
func (m *Store) ListExecutions(_ context.Context, filter *storage.ExecutionFilter) ([]*storage.PipelineExecution, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var filtered []*storage.PipelineExecution
	for _, exec := range m.executions {
		if filter != nil && len(filter.Status) > 0 && !containsStatus(filter.Status, exec.Status) {
			continue
		}
		filtered = append(filtered, exec)
	}
	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].CreatedAt.Equal(filtered[j].CreatedAt) {
			return filtered[i].ID < filtered[j].ID
		}
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	total := len(filtered)
	if filter != nil && filter.Limit > 0 {
		start := min(filter.Offset, len(filtered))
		end := min(start+filter.Limit, len(filtered))
		filtered = filtered[start:end]
	}

	result := make([]*storage.PipelineExecution, len(filtered))
	for i, exec := range filtered {
		result[i] = cloneExecution(exec)
	}
	return result, total, nil
}

// ListExecutionIDsBefore returns up to limit execution IDs created strictly
// before cutoff, oldest first.
func (m *Store) ListExecutionIDsBefore(_ context.Context, cutoff time.Time, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var aged []*storage.PipelineExecution
	for _, exec := range m.executions {
		if exec.CreatedAt.Before(cutoff) {
			aged = append(aged, exec)
		}
	}
	sort.Slice(aged, func(i, j int) bool {
		if aged[i].CreatedAt.Equal(aged[j].CreatedAt) {
			return aged[i].ID < aged[j].ID
		}
		return aged[i].CreatedAt.Before(aged[j].CreatedAt)
	})

	ids := make([]string, 0, min(limit, len(aged)))
	for _, exec := range aged {
		if limit > 0 && len(ids) >= limit {
			break
		}
		ids = append(ids, exec.ID)
	}
	return ids, nil
}

// DeleteExecutionCascade removes an execution with everything it owns.
func (m *Store) DeleteExecutionCascade(_ context.Context, id string) (storage.CascadeCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.executions[id]; !ok {
		return storage.CascadeCounts{}, &storage.NotFoundError{EntityType: "execution", ID: id}
	}

	counts := storage.CascadeCounts{
		ProgressEvents: len(m.events[id]),
		Subscriptions:  len(m.subscriptions[id]),
		StepExecutions: len(m.steps[id]),
		Executions:     1,
	}
	delete(m.events, id)
	delete(m.subscriptions, id)
	delete(m.steps, id)
	delete(m.executions, id)
	return counts, nil
}

// CreateStepExecution inserts a new step execution with version 1.
func (m *Store) CreateStepExecution(_ context.Context, step *storage.StepExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.steps[step.ExecutionID]
	if !ok {
		rows = make(map[string]*storage.StepExecution)
		m.steps[step.ExecutionID] = rows
	}
	if _, exists := rows[step.StepID]; exists {
		return &storage.DuplicateKeyError{EntityType: "step execution", ID: step.StepID}
	}
	copied := cloneStep(step)
	copied.Version = 1
	rows[copied.StepID] = copied
	step.Version = copied.Version
	return nil
}

// UpdateStepExecution writes a step row with an optimistic version check.
func (m *Store) UpdateStepExecution(_ context.Context, step *storage.StepExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.steps[step.ExecutionID]
	if !ok {
		return &storage.NotFoundError{EntityType: "step execution", ID: step.StepID}
	}
	current, ok := rows[step.StepID]
	if !ok {
		return &storage.NotFoundError{EntityType: "step execution", ID: step.StepID}
	}
	if current.Version != step.Version {
		return &storage.VersionConflictError{
			EntityType: "step execution", ID: step.StepID,
			Expected: step.Version, Actual: current.Version,
		}
	}
	copied := cloneStep(step)
	copied.Version = current.Version + 1
	rows[copied.StepID] = copied
	step.Version = copied.Version
	return nil
}

// GetStepExecution retrieves one step row.
func (m *Store) GetStepExecution(_ context.Context, executionID, stepID string) (*storage.StepExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows, ok := m.steps[executionID]
	if !ok {
		return nil, &storage.NotFoundError{EntityType: "step execution", ID: stepID}
	}
	step, ok := rows[stepID]
	if !ok {
		return nil, &storage.NotFoundError{EntityType: "step execution", ID: stepID}
	}
	return cloneStep(step), nil
}

// ListStepExecutions returns all step rows of an execution sorted by step ID.
func (m *Store) ListStepExecutions(_ context.Context, executionID string) ([]*storage.StepExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.steps[executionID]
	steps := make([]*storage.StepExecution, 0, len(rows))
	for _, step := range rows {
		steps = append(steps, cloneStep(step))
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepID < steps[j].StepID })
	return steps, nil
}

// FindSuspendedStep resolves the step awaiting the given correlation ID.
func (m *Store) FindSuspendedStep(_ context.Context, externalWorkflowID string) (*storage.StepExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rows := range m.steps {
		for _, step := range rows {
			if step.Suspended() && step.ExternalWorkflowID == externalWorkflowID {
				return cloneStep(step), nil
			}
		}
	}
	return nil, &storage.NotFoundError{EntityType: "suspended step", ID: externalWorkflowID}
}

// ListSuspendedSteps returns every suspended step, sorted by execution then
// step ID.
func (m *Store) ListSuspendedSteps(_ context.Context) ([]*storage.StepExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var suspended []*storage.StepExecution
	for _, rows := range m.steps {
		for _, step := range rows {
			if step.Suspended() {
				suspended = append(suspended, cloneStep(step))
			}
		}
	}
	sort.Slice(suspended, func(i, j int) bool {
		if suspended[i].ExecutionID == suspended[j].ExecutionID {
			return suspended[i].StepID < suspended[j].StepID
		}
		return suspended[i].ExecutionID < suspended[j].ExecutionID
	})
	return suspended, nil
}

// AppendProgressEvent appends an immutable progress event.
func (m *Store) AppendProgressEvent(_ context.Context, event *storage.ProgressEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := cloneEvent(event)
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now().UTC()
	}
	m.events[copied.ExecutionID] = append(m.events[copied.ExecutionID], copied)
	return nil
}

// ListProgressEvents returns an execution's events ordered by sequence
// number.
func (m *Store) ListProgressEvents(_ context.Context, executionID string) ([]*storage.ProgressEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := make([]*storage.ProgressEvent, 0, len(m.events[executionID]))
	for _, event := range m.events[executionID] {
		events = append(events, cloneEvent(event))
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].SequenceNumber < events[j].SequenceNumber
	})
	return events, nil
}

// MaxProgressSequence returns the highest sequence number recorded for the
// execution, or 0 when it has no events.
func (m *Store) MaxProgressSequence(_ context.Context, executionID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var max int64
	for _, event := range m.events[executionID] {
		if event.SequenceNumber > max {
			max = event.SequenceNumber
		}
	}
	return max, nil
}

// CreateSubscription registers an event consumer for an execution.
func (m *Store) CreateSubscription(_ context.Context, sub *storage.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *sub
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now().UTC()
	}
	m.subscriptions[copied.ExecutionID] = append(m.subscriptions[copied.ExecutionID], &copied)
	return nil
}

// ListSubscriptions returns an execution's subscriptions.
func (m *Store) ListSubscriptions(_ context.Context, executionID string) ([]*storage.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	subs := make([]*storage.Subscription, 0, len(m.subscriptions[executionID]))
	for _, sub := range m.subscriptions[executionID] {
		copied := *sub
		subs = append(subs, &copied)
	}
	return subs, nil
}

// SaveSchedule creates a schedule or updates it with a version check.
func (m *Store) SaveSchedule(_ context.Context, sched *storage.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, exists := m.schedules[sched.ID]
	if exists && current.Version != sched.Version {
		return &storage.VersionConflictError{
			EntityType: "schedule", ID: sched.ID,
			Expected: sched.Version, Actual: current.Version,
		}
	}
	copied := cloneSchedule(sched)
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now().UTC()
	}
	copied.UpdatedAt = time.Now().UTC()
	copied.Version = sched.Version + 1
	m.schedules[copied.ID] = copied
	sched.Version = copied.Version
	return nil
}

// GetSchedule retrieves a schedule by ID.
func (m *Store) GetSchedule(_ context.Context, id string) (*storage.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sched, ok := m.schedules[id]
	if !ok {
		return nil, &storage.NotFoundError{EntityType: "schedule", ID: id}
	}
	return cloneSchedule(sched), nil
}

// ListSchedules returns all schedules sorted by ID.
func (m *Store) ListSchedules(_ context.Context) ([]*storage.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	scheds := make([]*storage.Schedule, 0, len(m.schedules))
	for _, sched := range m.schedules {
		scheds = append(scheds, cloneSchedule(sched))
	}
	sort.Slice(scheds, func(i, j int) bool { return scheds[i].ID < scheds[j].ID })
	return scheds, nil
}

// ListDueSchedules returns schedules due at now, ordered by next_run_at then
// ID.
func (m *Store) ListDueSchedules(_ context.Context, now time.Time) ([]*storage.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var due []*storage.Schedule
	for _, sched := range m.schedules {
		if sched.NextRunAt != nil && !sched.NextRunAt.After(now) {
			due = append(due, cloneSchedule(sched))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].NextRunAt.Equal(*due[j].NextRunAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].NextRunAt.Before(*due[j].NextRunAt)
	})
	return due, nil
}

// DeleteSchedule removes a schedule.
func (m *Store) DeleteSchedule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[id]; !ok {
		return &storage.NotFoundError{EntityType: "schedule", ID: id}
	}
	delete(m.schedules, id)
	return nil
}

// Close is a no-op for the in-memory store.
func (m *Store) Close() error {
	return nil
}

func containsStatus(statuses []storage.ExecutionStatus, s storage.ExecutionStatus) bool {
	for _, status := range statuses {
		if status == s {
			return true
		}
	}
	return false
}
