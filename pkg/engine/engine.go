// Package engine runs pipeline executions: it snapshots a stored definition,
// validates the DAG up front, and drives every step through its lifecycle in
// dependency order with bounded parallelism.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowforge/flowforge/pkg/action"
	"github.com/flowforge/flowforge/pkg/dag"
	"github.com/flowforge/flowforge/pkg/logger"
	"github.com/flowforge/flowforge/pkg/progress"
	"github.com/flowforge/flowforge/pkg/storage"
)

const (
	defaultRetryBackoff  = 100 * time.Millisecond
	versionRetryAttempts = 3
)

// DeadlineRegistry arms and disarms timeout deadlines for suspended steps.
// The timer service implements it.
type DeadlineRegistry interface {
	Register(externalWorkflowID string, deadline time.Time) error
	Cancel(externalWorkflowID string)
}

// Engine executes pipelines against a storage backend and an action
// registry.
type Engine struct {
	store        storage.Store
	registry     *action.Registry
	progress     *progress.Aggregator
	deadlines    DeadlineRegistry
	metrics      MetricsRecorder
	log          logger.Logger
	now          func() time.Time
	retryBackoff time.Duration

	mu         sync.Mutex
	running    map[string]bool
	interrupts map[string]bool
	waiters    map[string]chan *storage.StepExecution
}

// New creates an engine. Store, registry and aggregator are required.
func New(store storage.Store, registry *action.Registry, aggregator *progress.Aggregator, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("action registry cannot be nil")
	}
	if aggregator == nil {
		return nil, fmt.Errorf("progress aggregator cannot be nil")
	}
	e := &Engine{
		store:        store,
		registry:     registry,
		progress:     aggregator,
		metrics:      nopMetrics{},
		log:          logger.Global(),
		now:          time.Now,
		retryBackoff: defaultRetryBackoff,
		running:      make(map[string]bool),
		interrupts:   make(map[string]bool),
		waiters:      make(map[string]chan *storage.StepExecution),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Execute triggers the workflow with the given parameters and runs it to a
// terminal state, returning the final execution row.
func (e *Engine) Execute(ctx context.Context, workflowID string, params map[string]any) (*storage.PipelineExecution, error) {
	exec, resolver, err := e.prepare(ctx, workflowID, params)
	if err != nil {
		return nil, err
	}
	e.run(ctx, exec, resolver)
	return e.store.GetExecution(ctx, exec.ID)
}

// Trigger starts the workflow in the background and returns as soon as the
// execution and step rows are persisted.
func (e *Engine) Trigger(ctx context.Context, workflowID string, params map[string]any) (*storage.PipelineExecution, error) {
	exec, resolver, err := e.prepare(ctx, workflowID, params)
	if err != nil {
		return nil, err
	}
	go e.run(context.Background(), exec, resolver)
	return exec, nil
}

// Interrupt requests that an execution stop at the next batch boundary. An
// execution with no live run in this process is marked INTERRUPTED directly.
func (e *Engine) Interrupt(ctx context.Context, executionID string) error {
	row, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if row.Status.Terminal() {
		return &ExecutionNotRunningError{ExecutionID: executionID, Status: row.Status}
	}

	e.mu.Lock()
	live := e.running[executionID]
	if live {
		e.interrupts[executionID] = true
	}
	e.mu.Unlock()

	if live {
		e.log.Info("interrupt requested", "execution_id", executionID)
		return nil
	}
	e.finish(ctx, row, storage.ExecutionInterrupted, "", nil)
	return nil
}

// prepare snapshots the definition into a new execution. DAG problems fail
// here, synchronously, before anything is persisted.
func (e *Engine) prepare(ctx context.Context, workflowID string, params map[string]any) (*storage.PipelineExecution, *dag.Resolver, error) {
	def, err := e.store.GetDefinition(ctx, workflowID)
	if err != nil {
		return nil, nil, err
	}

	steps := make([]*dag.Step, len(def.Steps))
	for i, s := range def.Steps {
		steps[i] = s.Clone()
	}
	resolver, err := dag.NewResolver(steps)
	if err != nil {
		return nil, nil, &PipelineValidationError{WorkflowID: workflowID, Cause: err}
	}
	if err := resolver.Validate(); err != nil {
		return nil, nil, &PipelineValidationError{WorkflowID: workflowID, Cause: err}
	}

	merged := make(map[string]any, len(def.Params)+len(params))
	for k, v := range def.Params {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}

	now := e.now().UTC()
	exec := &storage.PipelineExecution{
		ID:           uuid.NewString(),
		WorkflowID:   def.ID,
		WorkflowName: def.Name,
		Steps:        steps,
		Settings:     def.Settings,
		Status:       storage.ExecutionRunning,
		Params:       merged,
		CreatedAt:    now,
		StartedAt:    &now,
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return nil, nil, err
	}
	for _, s := range steps {
		row := &storage.StepExecution{
			ID:          uuid.NewString(),
			ExecutionID: exec.ID,
			StepID:      s.ID,
			Status:      storage.StepPending,
		}
		if err := e.store.CreateStepExecution(ctx, row); err != nil {
			return nil, nil, err
		}
	}

	e.metrics.RecordExecutionStarted()
	e.log.Info("execution started",
		"execution_id", exec.ID, "workflow_id", def.ID, "steps", len(steps))
	return exec, resolver, nil
}

// run drives the execution batch by batch until a terminal state.
func (e *Engine) run(ctx context.Context, exec *storage.PipelineExecution, resolver *dag.Resolver) {
	e.setRunning(exec.ID, true)
	defer e.setRunning(exec.ID, false)

	batches, err := resolver.ExecutionOrder()
	if err != nil {
		e.finish(ctx, exec, storage.ExecutionFailed, err.Error(), nil)
		return
	}

	outputs := make(map[string]map[string]any)
	skip := make(map[string]bool)
	aborted := false
	softFailed := false
	var firstErr string

	for _, batch := range batches {
		if ctx.Err() != nil || e.consumeInterrupt(exec.ID) {
			e.finish(ctx, exec, storage.ExecutionInterrupted, "", nil)
			return
		}

		limit := exec.Settings.MaxParallelism
		if limit <= 0 || limit > len(batch) {
			limit = len(batch)
		}
		sem := make(chan struct{}, limit)

		var wg sync.WaitGroup
		var batchMu sync.Mutex
		rows := make(map[string]*storage.StepExecution, len(batch))
		var runErr error

		for _, stepID := range batch {
			step, ok := resolver.Step(stepID)
			if !ok {
				continue
			}
			if skip[stepID] {
				if _, err := e.skipStep(ctx, exec.ID, stepID); err != nil {
					e.log.Error("skip persist failed",
						"execution_id", exec.ID, "step_id", stepID, "error", err)
				}
				continue
			}

			wg.Add(1)
			sem <- struct{}{}
			go func(step *dag.Step) {
				defer wg.Done()
				defer func() { <-sem }()
				row, err := e.runStep(ctx, exec, step, outputs)
				batchMu.Lock()
				defer batchMu.Unlock()
				if err != nil {
					if runErr == nil {
						runErr = err
					}
					return
				}
				rows[step.ID] = row
			}(step)
		}
		wg.Wait()

		if runErr != nil {
			if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
				e.finish(ctx, exec, storage.ExecutionInterrupted, "", nil)
				return
			}
			e.finish(ctx, exec, storage.ExecutionFailed, runErr.Error(), nil)
			return
		}

		for _, stepID := range batch {
			row := rows[stepID]
			if row == nil {
				continue
			}
			switch row.Status {
			case storage.StepCompleted:
				if row.Outputs != nil {
					outputs[stepID] = row.Outputs
				}
			case storage.StepFailed:
				step, _ := resolver.Step(stepID)
				if step.Policy() == dag.FailureAbort {
					aborted = true
					if firstErr == "" {
						firstErr = fmt.Sprintf("step %s: %s", stepID, row.Error)
					}
					deps, err := resolver.AllDependents(stepID)
					if err == nil {
						for _, dep := range deps {
							skip[dep] = true
						}
					}
				} else {
					softFailed = true
				}
			}
		}

		if aborted && exec.Settings.FailFast {
			e.skipPending(ctx, exec.ID)
			break
		}
	}

	status := storage.ExecutionCompleted
	errInfo := ""
	if aborted {
		status = storage.ExecutionFailed
		errInfo = firstErr
	} else if softFailed {
		errInfo = "one or more steps failed under on_failure=continue"
	}
	e.finish(ctx, exec, status, errInfo, leafOutputs(resolver, outputs))
}

// runStep takes one step from PENDING to a terminal state, suspending in the
// middle when the action awaits an external event.
func (e *Engine) runStep(ctx context.Context, exec *storage.PipelineExecution, step *dag.Step, outputs map[string]map[string]any) (*storage.StepExecution, error) {
	if step.Condition != "" {
		met, err := evaluateCondition(step.ID, step.Condition, exec.Params, outputs)
		if err != nil {
			return e.failStep(ctx, exec.ID, step.ID, err.Error())
		}
		if !met {
			e.log.Info("step condition not met, skipping",
				"execution_id", exec.ID, "step_id", step.ID)
			return e.skipStep(ctx, exec.ID, step.ID)
		}
	}

	act, err := e.registry.Get(step.Action)
	if err != nil {
		return e.failStep(ctx, exec.ID, step.ID, err.Error())
	}

	params, err := resolveParams(step.ID, step.Params, exec.Params, outputs)
	if err != nil {
		return e.failStep(ctx, exec.ID, step.ID, err.Error())
	}
	if err := e.registry.Validate(step.Action, params); err != nil {
		return e.failStep(ctx, exec.ID, step.ID, err.Error())
	}

	if _, err := e.markStepRunning(ctx, exec.ID, step.ID); err != nil {
		return nil, err
	}

	actx := &action.Context{
		StepID:         step.ID,
		ExecutionID:    exec.ID,
		Params:         params,
		WorkflowParams: exec.Params,
		StepOutputs:    outputs,
	}

	retryable := action.IsRetryable(act)
	for attempt := 0; ; attempt++ {
		res, execErr := act.Execute(ctx, actx)
		if execErr == nil && res != nil && res.AwaitingEvent {
			return e.suspendStep(ctx, exec.ID, step, res)
		}
		if execErr == nil && res != nil && res.Success {
			return e.completeStep(ctx, exec.ID, step.ID, res.Outputs)
		}

		reason := ""
		switch {
		case execErr != nil:
			reason = execErr.Error()
		case res == nil:
			reason = "action returned no result"
		default:
			reason = res.Error
			if reason == "" {
				reason = "action reported failure"
			}
		}

		if !retryable || attempt >= step.Retries || ctx.Err() != nil {
			return e.failStep(ctx, exec.ID, step.ID, reason)
		}

		if _, err := e.updateStep(ctx, exec.ID, step.ID, func(s *storage.StepExecution) error {
			if err := transitionStep(s, storage.StepRetrying); err != nil {
				return err
			}
			s.RetryCount++
			s.Error = reason
			return nil
		}); err != nil {
			return nil, err
		}
		e.log.Warn("step retrying",
			"execution_id", exec.ID, "step_id", step.ID, "attempt", attempt+1, "error", reason)

		select {
		case <-ctx.Done():
			return e.failStep(ctx, exec.ID, step.ID, ctx.Err().Error())
		case <-time.After(e.retryBackoff):
		}
		if _, err := e.markStepRunning(ctx, exec.ID, step.ID); err != nil {
			return nil, err
		}
	}
}

// suspendStep persists the suspension, arms the deadline and parks until the
// step is resumed or the run context ends. A cancelled wait leaves the
// suspension in storage; the step is data, not a goroutine.
func (e *Engine) suspendStep(ctx context.Context, executionID string, step *dag.Step, res *action.Result) (*storage.StepExecution, error) {
	extID := res.ExternalWorkflowID
	if extID == "" {
		return e.failStep(ctx, executionID, step.ID, "action awaited an event without an external workflow id")
	}

	var deadline *time.Time
	timeout := res.TimeoutSeconds
	if timeout <= 0 {
		timeout = step.TimeoutSeconds
	}
	if timeout > 0 {
		d := e.now().UTC().Add(time.Duration(timeout) * time.Second)
		deadline = &d
	}

	wait := e.addWaiter(extID)
	if _, err := e.updateStep(ctx, executionID, step.ID, func(s *storage.StepExecution) error {
		if s.Status != storage.StepRunning {
			return &StepTransitionError{StepID: step.ID, From: s.Status, To: storage.StepRunning}
		}
		s.ExternalWorkflowID = extID
		s.TimeoutDeadline = deadline
		if res.Outputs != nil {
			s.Outputs = res.Outputs
		}
		return nil
	}); err != nil {
		e.removeWaiter(extID)
		return nil, err
	}

	if deadline != nil && e.deadlines != nil {
		if err := e.deadlines.Register(extID, *deadline); err != nil {
			e.log.Error("deadline registration failed",
				"external_workflow_id", extID, "error", err)
		}
	}
	e.log.Info("step suspended",
		"execution_id", executionID, "step_id", step.ID, "external_workflow_id", extID)

	select {
	case resumed := <-wait:
		return resumed, nil
	case <-ctx.Done():
		e.removeWaiter(extID)
		return nil, ctx.Err()
	}
}

func (e *Engine) markStepRunning(ctx context.Context, executionID, stepID string) (*storage.StepExecution, error) {
	row, err := e.updateStep(ctx, executionID, stepID, func(s *storage.StepExecution) error {
		if err := transitionStep(s, storage.StepRunning); err != nil {
			return err
		}
		if s.StartTime == nil {
			now := e.now().UTC()
			s.StartTime = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := e.progress.RecordStepStarted(ctx, executionID, stepID); err != nil {
		e.log.Warn("progress record failed",
			"execution_id", executionID, "step_id", stepID, "error", err)
	}
	return row, nil
}

func (e *Engine) completeStep(ctx context.Context, executionID, stepID string, outputs map[string]any) (*storage.StepExecution, error) {
	row, err := e.updateStep(ctx, executionID, stepID, func(s *storage.StepExecution) error {
		if err := transitionStep(s, storage.StepCompleted); err != nil {
			return err
		}
		s.Outputs = outputs
		s.Error = ""
		s.ProgressPercentage = 100
		s.ExternalWorkflowID = ""
		s.TimeoutDeadline = nil
		now := e.now().UTC()
		s.EndTime = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.recordStepFinished(ctx, row, storage.StepCompleted)
	return row, nil
}

func (e *Engine) failStep(ctx context.Context, executionID, stepID, reason string) (*storage.StepExecution, error) {
	row, err := e.updateStep(ctx, executionID, stepID, func(s *storage.StepExecution) error {
		// Failures discovered before dispatch arrive while the row is
		// still pending.
		if s.Status == storage.StepPending {
			if err := transitionStep(s, storage.StepRunning); err != nil {
				return err
			}
		}
		if err := transitionStep(s, storage.StepFailed); err != nil {
			return err
		}
		s.Error = reason
		s.ExternalWorkflowID = ""
		s.TimeoutDeadline = nil
		now := e.now().UTC()
		s.EndTime = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Warn("step failed", "execution_id", executionID, "step_id", stepID, "error", reason)
	e.recordStepFinished(ctx, row, storage.StepFailed)
	return row, nil
}

func (e *Engine) skipStep(ctx context.Context, executionID, stepID string) (*storage.StepExecution, error) {
	row, err := e.updateStep(ctx, executionID, stepID, func(s *storage.StepExecution) error {
		return transitionStep(s, storage.StepSkipped)
	})
	if err != nil {
		return nil, err
	}
	e.recordStepFinished(ctx, row, storage.StepSkipped)
	return row, nil
}

// skipPending marks every still-pending step skipped; used when fail-fast
// aborts the run before later batches start.
func (e *Engine) skipPending(ctx context.Context, executionID string) {
	steps, err := e.store.ListStepExecutions(ctx, executionID)
	if err != nil {
		e.log.Error("listing steps for fail-fast skip failed",
			"execution_id", executionID, "error", err)
		return
	}
	for _, s := range steps {
		if s.Status != storage.StepPending {
			continue
		}
		if _, err := e.skipStep(ctx, executionID, s.StepID); err != nil {
			e.log.Error("skip persist failed",
				"execution_id", executionID, "step_id", s.StepID, "error", err)
		}
	}
}

func (e *Engine) recordStepFinished(ctx context.Context, row *storage.StepExecution, status storage.StepStatus) {
	e.metrics.RecordStepFinished(string(status), stepSeconds(row))
	if err := e.progress.RecordStepCompleted(ctx, row.ExecutionID, row.StepID, status); err != nil {
		e.log.Warn("progress record failed",
			"execution_id", row.ExecutionID, "step_id", row.StepID, "error", err)
	}
}

// finish moves the execution to a terminal status and emits the completion
// progress event. Already-terminal rows are left untouched.
func (e *Engine) finish(ctx context.Context, exec *storage.PipelineExecution, status storage.ExecutionStatus, errInfo string, finalOutputs map[string]any) {
	err := e.updateExecution(ctx, exec.ID, func(row *storage.PipelineExecution) error {
		if err := transitionExecution(row, status); err != nil {
			return err
		}
		now := e.now().UTC()
		row.CompletedAt = &now
		row.ErrorInfo = errInfo
		if finalOutputs != nil {
			row.FinalOutputs = finalOutputs
		}
		if status == storage.ExecutionCompleted {
			row.ProgressPercentage = 100
		} else if snapshot, err := e.progress.Compute(ctx, row.ID); err == nil {
			row.ProgressPercentage = snapshot.Percentage
		}
		return nil
	})
	if err != nil {
		var te *ExecutionTransitionError
		if errors.As(err, &te) && te.From.Terminal() {
			return
		}
		e.log.Error("finishing execution failed",
			"execution_id", exec.ID, "status", string(status), "error", err)
		return
	}

	if err := e.progress.RecordWorkflowCompleted(ctx, exec.ID, status); err != nil {
		e.log.Warn("progress record failed", "execution_id", exec.ID, "error", err)
	}

	elapsed := 0.0
	if exec.StartedAt != nil {
		elapsed = e.now().UTC().Sub(*exec.StartedAt).Seconds()
	}
	e.metrics.RecordExecutionFinished(string(status), elapsed)
	e.log.Info("execution finished",
		"execution_id", exec.ID, "status", string(status), "elapsed_seconds", elapsed)
}

// updateExecution applies mutate under optimistic concurrency, re-reading
// and retrying on version conflicts.
func (e *Engine) updateExecution(ctx context.Context, id string, mutate func(*storage.PipelineExecution) error) error {
	var lastErr error
	for attempt := 0; attempt < versionRetryAttempts; attempt++ {
		row, err := e.store.GetExecution(ctx, id)
		if err != nil {
			return err
		}
		if err := mutate(row); err != nil {
			return err
		}
		err = e.store.UpdateExecution(ctx, row)
		if err == nil {
			return nil
		}
		var conflict *storage.VersionConflictError
		if !errors.As(err, &conflict) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// updateStep is the step-row counterpart of updateExecution.
func (e *Engine) updateStep(ctx context.Context, executionID, stepID string, mutate func(*storage.StepExecution) error) (*storage.StepExecution, error) {
	var lastErr error
	for attempt := 0; attempt < versionRetryAttempts; attempt++ {
		row, err := e.store.GetStepExecution(ctx, executionID, stepID)
		if err != nil {
			return nil, err
		}
		if err := mutate(row); err != nil {
			return nil, err
		}
		err = e.store.UpdateStepExecution(ctx, row)
		if err == nil {
			return row, nil
		}
		var conflict *storage.VersionConflictError
		if !errors.As(err, &conflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (e *Engine) setRunning(executionID string, running bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if running {
		e.running[executionID] = true
		return
	}
	delete(e.running, executionID)
	delete(e.interrupts, executionID)
}

func (e *Engine) consumeInterrupt(executionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.interrupts[executionID] {
		return false
	}
	delete(e.interrupts, executionID)
	return true
}

func (e *Engine) addWaiter(externalWorkflowID string) chan *storage.StepExecution {
	ch := make(chan *storage.StepExecution, 1)
	e.mu.Lock()
	e.waiters[externalWorkflowID] = ch
	e.mu.Unlock()
	return ch
}

func (e *Engine) removeWaiter(externalWorkflowID string) {
	e.mu.Lock()
	delete(e.waiters, externalWorkflowID)
	e.mu.Unlock()
}

func (e *Engine) notifyWaiter(externalWorkflowID string, row *storage.StepExecution) bool {
	e.mu.Lock()
	ch, ok := e.waiters[externalWorkflowID]
	if ok {
		delete(e.waiters, externalWorkflowID)
	}
	e.mu.Unlock()
	if !ok {
		return false
	}
	ch <- row
	return true
}

func leafOutputs(resolver *dag.Resolver, outputs map[string]map[string]any) map[string]any {
	final := make(map[string]any)
	for _, id := range resolver.Leaves() {
		if out, ok := outputs[id]; ok {
			final[id] = out
		}
	}
	if len(final) == 0 {
		return nil
	}
	return final
}

func stepSeconds(row *storage.StepExecution) float64 {
	if row == nil || row.StartTime == nil || row.EndTime == nil {
		return 0
	}
	return row.EndTime.Sub(*row.StartTime).Seconds()
}
