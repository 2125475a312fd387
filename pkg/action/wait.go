package action

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// WaitUntilType is the registered type name of the builtin wait action.
const WaitUntilType = "wait_until"

// WaitUntil suspends its step until a wall-clock moment and treats the
// resulting timeout event as success: waiting out the deadline is the whole
// point of the action.
type WaitUntil struct {
	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// NewWaitUntil creates the builtin wait_until action.
func NewWaitUntil() *WaitUntil {
	return &WaitUntil{Now: time.Now}
}

// ValidateParams requires exactly one of "until" (RFC 3339 timestamp) or
// "duration_seconds" (positive number).
func (w *WaitUntil) ValidateParams(params map[string]any) []string {
	var problems []string

	_, hasUntil := params["until"]
	_, hasDuration := params["duration_seconds"]
	if hasUntil == hasDuration {
		problems = append(problems, `exactly one of "until" or "duration_seconds" is required`)
		return problems
	}

	if hasUntil {
		s, ok := params["until"].(string)
		if !ok {
			problems = append(problems, `"until" must be an RFC 3339 timestamp string`)
		} else if _, err := time.Parse(time.RFC3339, s); err != nil {
			problems = append(problems, fmt.Sprintf(`"until" is not a valid RFC 3339 timestamp: %v`, err))
		}
	}
	if hasDuration {
		secs, ok := numericParam(params["duration_seconds"])
		if !ok || secs <= 0 {
			problems = append(problems, `"duration_seconds" must be a positive number`)
		}
	}
	return problems
}

// Execute suspends the step with a deadline at the requested wake time. The
// step never completes synchronously.
func (w *WaitUntil) Execute(_ context.Context, actx *Context) (*Result, error) {
	now := w.now()

	var wake time.Time
	if s, ok := actx.Params["until"].(string); ok {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return &Result{Success: false, Error: fmt.Sprintf("invalid until timestamp: %v", err)}, nil
		}
		wake = parsed
	} else {
		secs, ok := numericParam(actx.Params["duration_seconds"])
		if !ok {
			return &Result{Success: false, Error: "duration_seconds must be a number"}, nil
		}
		wake = now.Add(time.Duration(secs * float64(time.Second)))
	}

	timeout := int(math.Ceil(wake.Sub(now).Seconds()))
	if timeout < 1 {
		timeout = 1
	}

	return &Result{
		Success:            true,
		AwaitingEvent:      true,
		ExternalWorkflowID: "wait-" + uuid.NewString(),
		TimeoutSeconds:     timeout,
		Outputs: map[string]any{
			"scheduled_wake_time": wake.UTC().Format(time.RFC3339),
		},
	}, nil
}

// OnEvent completes the step on its timeout event; anything else is ignored
// and the step stays suspended.
func (w *WaitUntil) OnEvent(_ context.Context, ectx *EventContext) (*EventResult, error) {
	if ectx.EventType != EventTypeTimeout {
		return &EventResult{Action: ResultIgnore}, nil
	}
	return &EventResult{
		Action: ResultComplete,
		Status: "COMPLETED",
		Outputs: map[string]any{
			"waited":           true,
			"actual_wake_time": w.now().UTC().Format(time.RFC3339),
		},
	}, nil
}

func (w *WaitUntil) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// numericParam coerces JSON-ish numeric values.
func numericParam(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
