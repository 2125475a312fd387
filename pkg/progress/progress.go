// Package progress aggregates step states into execution-level progress
// and appends the corresponding progress event stream.
package progress

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowforge/flowforge/pkg/eventbus"
	"github.com/flowforge/flowforge/pkg/logger"
	"github.com/flowforge/flowforge/pkg/storage"
)

// Snapshot is the aggregated progress of one execution.
type Snapshot struct {
	ExecutionID    string   `json:"execution_id"`
	Percentage     float64  `json:"percentage"`
	ETASeconds     *float64 `json:"eta_seconds,omitempty"`
	CompletedSteps int      `json:"completed_steps"`
	TotalSteps     int      `json:"total_steps"`
}

// executionState is the per-execution cache entry. lastPercent enforces
// monotonicity; lastSeq numbers the event stream.
type executionState struct {
	lastPercent float64
	lastSeq     int64
	seeded      bool
}

// Option configures the Aggregator.
type Option func(*Aggregator)

// WithPublisher attaches a lifecycle event publisher; progress records are
// then mirrored onto the event bus.
func WithPublisher(pub *eventbus.Publisher) Option {
	return func(a *Aggregator) { a.publisher = pub }
}

// WithLogger sets the aggregator logger.
func WithLogger(log logger.Logger) Option {
	return func(a *Aggregator) { a.log = log }
}

// WithClock overrides the wall clock, used in tests.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// Aggregator computes execution progress from step rows and appends
// append-only progress events with per-execution sequence numbers.
type Aggregator struct {
	store     storage.Store
	publisher *eventbus.Publisher
	log       logger.Logger
	now       func() time.Time

	mu    sync.Mutex
	cache map[string]*executionState
}

// NewAggregator creates a progress aggregator.
func NewAggregator(store storage.Store, opts ...Option) (*Aggregator, error) {
	if store == nil {
		return nil, fmt.Errorf("progress: store cannot be nil")
	}
	a := &Aggregator{
		store: store,
		log:   logger.Global(),
		now:   time.Now,
		cache: make(map[string]*executionState),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Compute aggregates the execution's step rows into a Snapshot. The
// returned percentage never decreases for the lifetime of the execution:
// a recomputation that lands below an earlier value returns the cached one.
func (a *Aggregator) Compute(ctx context.Context, executionID string) (*Snapshot, error) {
	steps, err := a.store.ListStepExecutions(ctx, executionID)
	if err != nil {
		return nil, err
	}

	snapshot := &Snapshot{ExecutionID: executionID, TotalSteps: len(steps)}
	if len(steps) == 0 {
		return snapshot, nil
	}

	var sum float64
	for _, step := range steps {
		value := stepValue(step)
		sum += value
		if value >= 100 {
			snapshot.CompletedSteps++
		}
	}
	percent := round2(sum / float64(len(steps)))

	a.mu.Lock()
	state := a.state(executionID)
	if percent < state.lastPercent {
		percent = state.lastPercent
	} else {
		state.lastPercent = percent
	}
	a.mu.Unlock()

	snapshot.Percentage = percent
	snapshot.ETASeconds = a.estimateETA(steps)
	return snapshot, nil
}

// stepValue maps a step row to its progress contribution.
func stepValue(step *storage.StepExecution) float64 {
	switch step.Status {
	case storage.StepCompleted, storage.StepSkipped:
		return 100
	case storage.StepRunning, storage.StepFailed:
		return clampPercent(step.ProgressPercentage)
	default: // pending, retrying
		return 0
	}
}

// estimateETA projects remaining time from the average duration of completed
// steps. Returns nil when no completed step provides history.
func (a *Aggregator) estimateETA(steps []*storage.StepExecution) *float64 {
	var totalDuration time.Duration
	var completed int
	for _, step := range steps {
		if step.Status == storage.StepCompleted && step.StartTime != nil && step.EndTime != nil {
			totalDuration += step.EndTime.Sub(*step.StartTime)
			completed++
		}
	}
	if completed == 0 {
		return nil
	}
	avg := totalDuration.Seconds() / float64(completed)

	var remaining float64
	for _, step := range steps {
		switch step.Status {
		case storage.StepPending, storage.StepRetrying:
			remaining += avg
		case storage.StepRunning:
			remaining += avg * (1 - clampPercent(step.ProgressPercentage)/100)
		}
	}
	remaining = round2(remaining)
	return &remaining
}

// RecordStepStarted appends a workflow_progress event for a step entering
// the running state.
func (a *Aggregator) RecordStepStarted(ctx context.Context, executionID, stepID string) error {
	snapshot, err := a.Compute(ctx, executionID)
	if err != nil {
		return err
	}
	payload := map[string]any{
		"step_id":             stepID,
		"status":              string(storage.StepRunning),
		"progress_percentage": snapshot.Percentage,
	}
	return a.append(ctx, executionID, storage.EventWorkflowProgress, snapshot, payload)
}

// RecordStepCompleted appends a step_completed event carrying the step's
// terminal status and refreshed execution progress.
func (a *Aggregator) RecordStepCompleted(ctx context.Context, executionID, stepID string, status storage.StepStatus) error {
	snapshot, err := a.Compute(ctx, executionID)
	if err != nil {
		return err
	}
	payload := map[string]any{
		"step_id":             stepID,
		"status":              string(status),
		"progress_percentage": snapshot.Percentage,
	}
	return a.append(ctx, executionID, storage.EventStepCompleted, snapshot, payload)
}

// RecordWorkflowCompleted appends the terminal workflow event and evicts the
// execution's cached state.
func (a *Aggregator) RecordWorkflowCompleted(ctx context.Context, executionID string, status storage.ExecutionStatus) error {
	snapshot, err := a.Compute(ctx, executionID)
	if err != nil {
		return err
	}
	if status == storage.ExecutionCompleted {
		snapshot.Percentage = 100
	}
	payload := map[string]any{
		"status":              string(status),
		"progress_percentage": snapshot.Percentage,
	}
	err = a.append(ctx, executionID, storage.EventWorkflowCompleted, snapshot, payload)

	a.mu.Lock()
	delete(a.cache, executionID)
	a.mu.Unlock()
	return err
}

func (a *Aggregator) append(ctx context.Context, executionID, eventType string, snapshot *Snapshot, payload map[string]any) error {
	seq, err := a.nextSequence(ctx, executionID)
	if err != nil {
		return err
	}
	event := &storage.ProgressEvent{
		ID:                 uuid.NewString(),
		ExecutionID:        executionID,
		SequenceNumber:     seq,
		EventType:          eventType,
		ProgressPercentage: snapshot.Percentage,
		ETASeconds:         snapshot.ETASeconds,
		Payload:            payload,
		CreatedAt:          a.now().UTC(),
	}
	if err := a.store.AppendProgressEvent(ctx, event); err != nil {
		return err
	}
	a.publish(ctx, executionID, eventType, payload)
	return nil
}

// publish mirrors the event onto the bus. Publish failures are logged, not
// returned: the stored event stream is the source of truth.
func (a *Aggregator) publish(ctx context.Context, executionID, eventType string, payload map[string]any) {
	if a.publisher == nil {
		return
	}
	domain := eventbus.DomainExecution
	if eventType == storage.EventStepCompleted {
		domain = eventbus.DomainStep
	}
	if _, err := a.publisher.PublishLifecycleEvent(ctx, eventbus.LifecycleEvent{
		Domain:      domain,
		EventType:   eventType,
		ExecutionID: executionID,
		Payload:     payload,
	}); err != nil {
		a.log.WarnContext(ctx, "progress event publish failed",
			"execution_id", executionID, "event_type", eventType, "error", err)
	}
}

// nextSequence returns the next sequence number for the execution, seeding
// from storage on first use so sequences survive restarts.
func (a *Aggregator) nextSequence(ctx context.Context, executionID string) (int64, error) {
	a.mu.Lock()
	state := a.state(executionID)
	if !state.seeded {
		a.mu.Unlock()
		max, err := a.store.MaxProgressSequence(ctx, executionID)
		if err != nil {
			return 0, err
		}
		a.mu.Lock()
		state = a.state(executionID)
		if !state.seeded {
			state.lastSeq = max
			state.seeded = true
		}
	}
	state.lastSeq++
	seq := state.lastSeq
	a.mu.Unlock()
	return seq, nil
}

func (a *Aggregator) state(executionID string) *executionState {
	state, ok := a.cache[executionID]
	if !ok {
		state = &executionState{}
		a.cache[executionID] = state
	}
	return state
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
