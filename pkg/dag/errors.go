package dag

import (
	"fmt"
	"strings"
)

// StepNotFoundError is returned when a referenced step does not exist.
type StepNotFoundError struct {
	ID string
}

func (e *StepNotFoundError) Error() string {
	return fmt.Sprintf("step not found: %s", e.ID)
}

// DuplicateStepError is returned when two steps share an ID.
type DuplicateStepError struct {
	ID string
}

func (e *DuplicateStepError) Error() string {
	return fmt.Sprintf("duplicate step id: %s", e.ID)
}

// SelfDependencyError is returned when a step depends on itself.
type SelfDependencyError struct {
	ID string
}

func (e *SelfDependencyError) Error() string {
	return fmt.Sprintf("step %s cannot depend on itself", e.ID)
}

// DependencyNotFoundError is returned when a depends_on entry references a
// step that is not part of the pipeline.
type DependencyNotFoundError struct {
	StepID string
	DepID  string
}

func (e *DependencyNotFoundError) Error() string {
	return fmt.Sprintf("step %s depends on non-existent step: %s", e.StepID, e.DepID)
}

// CyclicDependencyError is returned when the dependency graph contains a
// cycle. Path holds the cycle with first and last element equal,
// e.g. ["a", "b", "c", "a"].
type CyclicDependencyError struct {
	Path []string
}

func (e *CyclicDependencyError) Error() string {
	if len(e.Path) == 0 {
		return "cyclic dependency detected"
	}
	return fmt.Sprintf("cyclic dependency detected: %s", strings.Join(e.Path, " -> "))
}
