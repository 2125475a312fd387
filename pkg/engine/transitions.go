package engine

import "github.com/flowforge/flowforge/pkg/storage"

// allowedStepTransitions is the step lifecycle table. Terminal states have no
// outgoing edges; a suspended step stays RUNNING until its event or timeout
// arrives.
var allowedStepTransitions = map[storage.StepStatus][]storage.StepStatus{
	storage.StepPending:   {storage.StepRunning, storage.StepSkipped},
	storage.StepRunning:   {storage.StepRetrying, storage.StepCompleted, storage.StepFailed},
	storage.StepRetrying:  {storage.StepRunning, storage.StepFailed},
	storage.StepCompleted: {},
	storage.StepFailed:    {},
	storage.StepSkipped:   {},
}

// allowedExecutionTransitions is the execution lifecycle table.
var allowedExecutionTransitions = map[storage.ExecutionStatus][]storage.ExecutionStatus{
	storage.ExecutionPending: {storage.ExecutionRunning, storage.ExecutionInterrupted},
	storage.ExecutionRunning: {
		storage.ExecutionCompleted,
		storage.ExecutionFailed,
		storage.ExecutionInterrupted,
	},
	storage.ExecutionCompleted:   {},
	storage.ExecutionFailed:      {},
	storage.ExecutionInterrupted: {},
}

func stepTransitionAllowed(from, to storage.StepStatus) bool {
	for _, next := range allowedStepTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func executionTransitionAllowed(from, to storage.ExecutionStatus) bool {
	for _, next := range allowedExecutionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// transitionStep validates and applies a step status change in memory.
func transitionStep(step *storage.StepExecution, to storage.StepStatus) error {
	if !stepTransitionAllowed(step.Status, to) {
		return &StepTransitionError{StepID: step.StepID, From: step.Status, To: to}
	}
	step.Status = to
	return nil
}

// transitionExecution validates and applies an execution status change in
// memory.
func transitionExecution(exec *storage.PipelineExecution, to storage.ExecutionStatus) error {
	if !executionTransitionAllowed(exec.Status, to) {
		return &ExecutionTransitionError{ExecutionID: exec.ID, From: exec.Status, To: to}
	}
	exec.Status = to
	return nil
}
