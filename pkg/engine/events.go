package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/flowforge/flowforge/pkg/action"
	"github.com/flowforge/flowforge/pkg/dag"
	"github.com/flowforge/flowforge/pkg/storage"
)

// HandleEvent delivers an external or synthetic event to the suspended step
// correlated by externalWorkflowID. The owning action decides the outcome;
// an IGNORE result leaves the step suspended.
func (e *Engine) HandleEvent(ctx context.Context, externalWorkflowID, eventType string, data map[string]any) error {
	step, err := e.store.FindSuspendedStep(ctx, externalWorkflowID)
	if err != nil {
		e.metrics.RecordEventDelivered("unmatched")
		return err
	}

	exec, err := e.store.GetExecution(ctx, step.ExecutionID)
	if err != nil {
		return err
	}
	def := findStep(exec.Steps, step.StepID)
	if def == nil {
		return fmt.Errorf("execution %s: step %s missing from snapshot", exec.ID, step.StepID)
	}
	act, err := e.registry.Get(def.Action)
	if err != nil {
		return err
	}

	outputs, err := e.collectOutputs(ctx, exec.ID)
	if err != nil {
		return err
	}

	res, err := act.OnEvent(ctx, &action.EventContext{
		StepExecutionID:    step.ID,
		ExecutionID:        exec.ID,
		ExternalWorkflowID: externalWorkflowID,
		EventType:          eventType,
		EventData:          data,
		StepOutputs:        outputs,
	})
	if err != nil {
		e.metrics.RecordEventDelivered("error")
		return err
	}
	if res == nil || res.Action == action.ResultIgnore {
		e.metrics.RecordEventDelivered("ignored")
		e.log.Debug("event ignored, step stays suspended",
			"external_workflow_id", externalWorkflowID, "event_type", eventType)
		return nil
	}

	status := storage.StepFailed
	if res.Status == string(storage.StepCompleted) {
		status = storage.StepCompleted
	}

	updated, err := e.updateStep(ctx, exec.ID, step.StepID, func(s *storage.StepExecution) error {
		// Another event may have resumed the step between the lookup
		// and this write.
		if !s.Suspended() || s.ExternalWorkflowID != externalWorkflowID {
			return &storage.NotFoundError{EntityType: "suspended step", ID: externalWorkflowID}
		}
		if err := transitionStep(s, status); err != nil {
			return err
		}
		// Outputs persisted at suspension time survive the resume; event
		// outputs win on key collisions.
		s.Outputs = mergeOutputs(s.Outputs, res.Outputs)
		s.Error = res.Error
		if status == storage.StepCompleted {
			s.ProgressPercentage = 100
		}
		s.ExternalWorkflowID = ""
		s.TimeoutDeadline = nil
		now := e.now().UTC()
		s.EndTime = &now
		return nil
	})
	if err != nil {
		return err
	}

	if e.deadlines != nil {
		e.deadlines.Cancel(externalWorkflowID)
	}
	e.metrics.RecordEventDelivered("resumed")
	e.metrics.RecordStepFinished(string(status), stepSeconds(updated))
	if err := e.progress.RecordStepCompleted(ctx, exec.ID, step.StepID, status); err != nil {
		e.log.Warn("progress record failed",
			"execution_id", exec.ID, "step_id", step.StepID, "error", err)
	}
	e.log.Info("suspended step resumed",
		"execution_id", exec.ID, "step_id", step.StepID,
		"event_type", eventType, "status", string(status))

	if !e.notifyWaiter(externalWorkflowID, updated) {
		// No live run holds this step, as after a process restart. If it
		// was the last in-flight step, close out the execution here.
		e.maybeFinishDetached(ctx, exec.ID)
	}
	return nil
}

// DeliverTimeout adapts HandleEvent to the timer service's delivery
// callback. A deadline that fires after the step already resumed is benign.
func (e *Engine) DeliverTimeout(ctx context.Context, externalWorkflowID string, eventData map[string]any) error {
	err := e.HandleEvent(ctx, externalWorkflowID, action.EventTypeTimeout, eventData)
	var nf *storage.NotFoundError
	if errors.As(err, &nf) {
		return nil
	}
	return err
}

// collectOutputs maps completed step IDs to their outputs.
func (e *Engine) collectOutputs(ctx context.Context, executionID string) (map[string]map[string]any, error) {
	steps, err := e.store.ListStepExecutions(ctx, executionID)
	if err != nil {
		return nil, err
	}
	outputs := make(map[string]map[string]any)
	for _, s := range steps {
		if s.Status == storage.StepCompleted && s.Outputs != nil {
			outputs[s.StepID] = s.Outputs
		}
	}
	return outputs, nil
}

// maybeFinishDetached closes out an execution whose run loop is gone once
// every step has reached a terminal state.
func (e *Engine) maybeFinishDetached(ctx context.Context, executionID string) {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil || exec.Status.Terminal() {
		return
	}
	steps, err := e.store.ListStepExecutions(ctx, executionID)
	if err != nil {
		return
	}

	policy := make(map[string]dag.FailurePolicy, len(exec.Steps))
	for _, s := range exec.Steps {
		policy[s.ID] = s.Policy()
	}

	status := storage.ExecutionCompleted
	errInfo := ""
	for _, s := range steps {
		if !s.Status.Terminal() {
			return
		}
		if s.Status == storage.StepFailed && policy[s.StepID] == dag.FailureAbort {
			status = storage.ExecutionFailed
			if errInfo == "" {
				errInfo = fmt.Sprintf("step %s: %s", s.StepID, s.Error)
			}
		}
	}
	e.finish(ctx, exec, status, errInfo, nil)
}

func mergeOutputs(suspended, resumed map[string]any) map[string]any {
	if len(suspended) == 0 {
		return resumed
	}
	merged := make(map[string]any, len(suspended)+len(resumed))
	for k, v := range suspended {
		merged[k] = v
	}
	for k, v := range resumed {
		merged[k] = v
	}
	return merged
}

func findStep(steps []*dag.Step, id string) *dag.Step {
	for _, s := range steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}
