// Package dag provides dependency resolution for pipeline steps: parallel
// execution ordering, cycle detection, and reachability queries.
package dag

import "fmt"

// FailurePolicy controls what happens to dependents when a step fails.
type FailurePolicy string

const (
	// FailureAbort aborts dependent batches when the step fails.
	FailureAbort FailurePolicy = "fail"
	// FailureContinue lets dependents proceed with the failed step's
	// partial or absent outputs.
	FailureContinue FailurePolicy = "continue"
)

// Step is a single node of a pipeline definition.
type Step struct {
	// ID is the step identifier, unique within a pipeline.
	ID string `json:"id" yaml:"id"`

	// Action is the action-type identifier resolved from the registry.
	Action string `json:"action" yaml:"action"`

	// Params are the templated action parameters.
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`

	// DependsOn lists the IDs of steps that must finish first.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`

	// Condition optionally gates step execution; when its resolved value
	// is falsy the step is marked SKIPPED instead of running.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	// OnFailure is the failure policy; empty means FailureAbort.
	OnFailure FailurePolicy `json:"on_failure,omitempty" yaml:"on_failure,omitempty"`

	// TimeoutSeconds bounds a suspended step's wait. Zero means no timeout.
	TimeoutSeconds int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`

	// Retries is the number of retry attempts for retryable actions.
	Retries int `json:"retries,omitempty" yaml:"retries,omitempty"`

	// Outputs declares the output keys the step produces.
	Outputs []string `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// Validate checks the step definition is well formed.
func (s *Step) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("step id cannot be empty")
	}
	if s.Action == "" {
		return fmt.Errorf("step %s: action cannot be empty", s.ID)
	}
	if s.TimeoutSeconds < 0 {
		return fmt.Errorf("step %s: timeout cannot be negative", s.ID)
	}
	if s.Retries < 0 {
		return fmt.Errorf("step %s: retries cannot be negative", s.ID)
	}
	switch s.OnFailure {
	case "", FailureAbort, FailureContinue:
	default:
		return fmt.Errorf("step %s: unknown on_failure policy %q", s.ID, s.OnFailure)
	}
	return nil
}

// Policy returns the effective failure policy.
func (s *Step) Policy() FailurePolicy {
	if s.OnFailure == "" {
		return FailureAbort
	}
	return s.OnFailure
}

// Clone creates a deep copy of the step.
func (s *Step) Clone() *Step {
	cloned := &Step{
		ID:             s.ID,
		Action:         s.Action,
		Condition:      s.Condition,
		OnFailure:      s.OnFailure,
		TimeoutSeconds: s.TimeoutSeconds,
		Retries:        s.Retries,
	}
	if s.DependsOn != nil {
		cloned.DependsOn = make([]string, len(s.DependsOn))
		copy(cloned.DependsOn, s.DependsOn)
	}
	if s.Outputs != nil {
		cloned.Outputs = make([]string, len(s.Outputs))
		copy(cloned.Outputs, s.Outputs)
	}
	if s.Params != nil {
		cloned.Params = cloneValueMap(s.Params)
	}
	return cloned
}

// cloneValueMap deep-copies a JSON-shaped parameter tree so an execution
// snapshot shares no nested maps or slices with the definition.
func cloneValueMap(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = cloneValue(v)
	}
	return dst
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneValueMap(t)
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return v
	}
}

// HasDependency checks whether the step directly depends on the given ID.
func (s *Step) HasDependency(id string) bool {
	for _, dep := range s.DependsOn {
		if dep == id {
			return true
		}
	}
	return false
}
