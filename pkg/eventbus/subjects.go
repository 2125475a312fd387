package eventbus

import "fmt"

const (
	// SubjectPrefix is the canonical prefix for lifecycle events.
	SubjectPrefix = "flowforge.v1.lifecycle"
)

// Domain identifies a lifecycle event domain.
type Domain string

const (
	DomainExecution Domain = "execution"
	DomainStep      Domain = "step"
	DomainSchedule  Domain = "schedule"
)

// ExecutionSubject returns the canonical subject for execution lifecycle
// events.
func ExecutionSubject(executionID, eventType string) string {
	return fmt.Sprintf("%s.%s.%s.%s", SubjectPrefix, DomainExecution, sanitizeSegment(executionID), sanitizeSegment(eventType))
}

// StepSubject returns the canonical subject for step lifecycle events.
func StepSubject(executionID, eventType string) string {
	return fmt.Sprintf("%s.%s.%s.%s", SubjectPrefix, DomainStep, sanitizeSegment(executionID), sanitizeSegment(eventType))
}

// ScheduleSubject returns the canonical subject for schedule lifecycle
// events.
func ScheduleSubject(scheduleID, eventType string) string {
	return fmt.Sprintf("%s.%s.%s.%s", SubjectPrefix, DomainSchedule, sanitizeSegment(scheduleID), sanitizeSegment(eventType))
}

// ExecutionWildcardSubject matches every event of one execution across the
// execution and step domains.
func ExecutionWildcardSubject(executionID string) string {
	return fmt.Sprintf("%s.*.%s.>", SubjectPrefix, sanitizeSegment(executionID))
}

// DomainWildcardSubject matches every event of a domain.
func DomainWildcardSubject(domain Domain) string {
	return fmt.Sprintf("%s.%s.>", SubjectPrefix, sanitizeSegment(string(domain)))
}

func sanitizeSegment(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
