// Package schedule sweeps due schedules and triggers workflow executions.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/flowforge/flowforge/pkg/cron"
	"github.com/flowforge/flowforge/pkg/logger"
	"github.com/flowforge/flowforge/pkg/storage"
)

// Trigger starts a workflow execution. The engine implements it.
type Trigger interface {
	Trigger(ctx context.Context, workflowID string, params map[string]any) (*storage.PipelineExecution, error)
}

// Outcome classifies what the poller did with one due schedule.
type Outcome string

const (
	OutcomeTriggered Outcome = "triggered"
	OutcomeExpired   Outcome = "expired"
	OutcomeCompleted Outcome = "completed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDeferred  Outcome = "deferred"
	OutcomeError     Outcome = "error"
)

// Item is the per-schedule result of one sweep.
type Item struct {
	ScheduleID   string  `json:"schedule_id"`
	ScheduleName string  `json:"schedule_name"`
	WorkflowID   string  `json:"workflow_id"`
	Outcome      Outcome `json:"outcome"`
	ExecutionID  string  `json:"execution_id,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// Summary is the result of one Poll sweep.
type Summary struct {
	PolledAt       time.Time `json:"polled_at"`
	DueCount       int       `json:"due_count"`
	TriggeredCount int       `json:"triggered_count"`
	ErrorCount     int       `json:"error_count"`
	Items          []Item    `json:"items"`
}

// Option is a functional option for configuring the Poller.
type Option func(*Poller)

// WithMaxConcurrent caps how many schedules one sweep may trigger. Zero
// means unlimited. Schedules past the cap stay due for the next sweep.
func WithMaxConcurrent(n int) Option {
	return func(p *Poller) { p.maxConcurrent = n }
}

// WithTriggerRate paces trigger calls across sweeps.
func WithTriggerRate(limit rate.Limit, burst int) Option {
	return func(p *Poller) { p.limiter = rate.NewLimiter(limit, burst) }
}

// WithLogger sets the poller logger.
func WithLogger(log logger.Logger) Option {
	return func(p *Poller) {
		if log != nil {
			p.log = log
		}
	}
}

// WithClock overrides the poller clock, used in tests.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

// Poller sweeps due schedules. Poll is serialized with a process-local
// mutex; overlapping sweeps from a too-short tick never double-trigger.
type Poller struct {
	store         storage.Store
	trigger       Trigger
	log           logger.Logger
	now           func() time.Time
	maxConcurrent int
	limiter       *rate.Limiter

	mu sync.Mutex
}

// NewPoller creates a schedule poller.
func NewPoller(store storage.Store, trigger Trigger, opts ...Option) (*Poller, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if trigger == nil {
		return nil, fmt.Errorf("trigger cannot be nil")
	}
	p := &Poller{
		store:   store,
		trigger: trigger,
		log:     logger.Global(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run polls on a fixed interval until the context ends.
func (p *Poller) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.Poll(ctx); err != nil {
				p.log.Error("schedule sweep failed", "error", err)
			}
		}
	}
}

// Poll runs one sweep over every due schedule. Per-schedule failures are
// collected into the summary and never abort the sweep.
func (p *Poller) Poll(ctx context.Context) (*Summary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now().UTC()
	due, err := p.store.ListDueSchedules(ctx, now)
	if err != nil {
		return nil, err
	}

	summary := &Summary{PolledAt: now, DueCount: len(due)}
	for _, sched := range due {
		item := p.process(ctx, sched, now, summary.TriggeredCount)
		summary.Items = append(summary.Items, item)
		switch item.Outcome {
		case OutcomeTriggered:
			summary.TriggeredCount++
		case OutcomeError:
			summary.ErrorCount++
		}
	}

	if summary.DueCount > 0 {
		p.log.Info("schedule sweep finished",
			"due", summary.DueCount,
			"triggered", summary.TriggeredCount,
			"errors", summary.ErrorCount)
	}
	return summary, nil
}

func (p *Poller) process(ctx context.Context, sched *storage.Schedule, now time.Time, alreadyTriggered int) Item {
	item := Item{
		ScheduleID:   sched.ID,
		ScheduleName: sched.Name,
		WorkflowID:   sched.WorkflowID,
	}

	if !sched.Enabled {
		item.Outcome = OutcomeSkipped
		return item
	}

	if sched.ExpiresAt != nil && !sched.ExpiresAt.After(now) {
		sched.Status = storage.ScheduleStatusExpired
		sched.Enabled = false
		sched.NextRunAt = nil
		if err := p.save(ctx, sched, now); err != nil {
			return p.fail(item, err)
		}
		p.log.Info("schedule expired", "schedule_id", sched.ID)
		item.Outcome = OutcomeExpired
		return item
	}

	if sched.MaxRuns > 0 && sched.RunCount >= sched.MaxRuns {
		sched.Status = storage.ScheduleStatusCompleted
		sched.Enabled = false
		sched.NextRunAt = nil
		if err := p.save(ctx, sched, now); err != nil {
			return p.fail(item, err)
		}
		p.log.Info("schedule completed", "schedule_id", sched.ID, "runs", sched.RunCount)
		item.Outcome = OutcomeCompleted
		return item
	}

	if p.maxConcurrent > 0 && alreadyTriggered >= p.maxConcurrent {
		// Left untouched: still due on the next sweep.
		item.Outcome = OutcomeDeferred
		return item
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return p.fail(item, err)
		}
	}

	scheduled := now
	if sched.NextRunAt != nil {
		scheduled = sched.NextRunAt.UTC()
	}
	params := triggerParams(sched, scheduled, now)

	exec, triggerErr := p.trigger.Trigger(ctx, sched.WorkflowID, params)
	lastRun := now
	sched.LastRunAt = &lastRun
	if triggerErr != nil {
		sched.LastRunStatus = "failed"
	} else {
		sched.RunCount++
		sched.LastRunStatus = "triggered"
		sched.LastExecutionID = exec.ID
		item.ExecutionID = exec.ID
	}

	// The next run is recomputed even after a failed trigger so a broken
	// workflow cannot pin the schedule at the same due time forever.
	sched.NextRunAt = p.nextRun(sched, now)
	if sched.Type == storage.ScheduleOneTime {
		sched.Status = storage.ScheduleStatusCompleted
		sched.Enabled = false
	}

	if err := p.save(ctx, sched, now); err != nil {
		return p.fail(item, err)
	}
	if triggerErr != nil {
		return p.fail(item, triggerErr)
	}

	p.log.Info("schedule triggered",
		"schedule_id", sched.ID, "workflow_id", sched.WorkflowID, "execution_id", exec.ID)
	item.Outcome = OutcomeTriggered
	return item
}

// nextRun computes the following run time. A malformed expression is logged
// and treated as no next run.
func (p *Poller) nextRun(sched *storage.Schedule, now time.Time) *time.Time {
	switch sched.Type {
	case storage.ScheduleOneTime:
		return nil
	case storage.ScheduleCron:
		loc := time.UTC
		if sched.Timezone != "" {
			parsed, err := time.LoadLocation(sched.Timezone)
			if err != nil {
				p.log.Error("invalid schedule timezone",
					"schedule_id", sched.ID, "timezone", sched.Timezone, "error", err)
				return nil
			}
			loc = parsed
		}
		expr, err := cron.ParseInLocation(sched.Expression, loc)
		if err != nil {
			p.log.Error("invalid cron expression",
				"schedule_id", sched.ID, "expression", sched.Expression, "error", err)
			return nil
		}
		next := expr.Next(now)
		if next.IsZero() {
			return nil
		}
		next = next.UTC()
		return &next
	case storage.ScheduleInterval:
		d, err := time.ParseDuration(sched.Expression)
		if err != nil || d <= 0 {
			p.log.Error("invalid interval expression",
				"schedule_id", sched.ID, "expression", sched.Expression, "error", err)
			return nil
		}
		next := now.Add(d)
		return &next
	default:
		p.log.Error("unknown schedule type",
			"schedule_id", sched.ID, "type", string(sched.Type))
		return nil
	}
}

func (p *Poller) save(ctx context.Context, sched *storage.Schedule, now time.Time) error {
	sched.UpdatedAt = now
	return p.store.SaveSchedule(ctx, sched)
}

func (p *Poller) fail(item Item, err error) Item {
	p.log.Error("schedule processing failed",
		"schedule_id", item.ScheduleID, "error", err)
	item.Outcome = OutcomeError
	item.Error = err.Error()
	return item
}

// triggerParams merges the schedule's params with the _trigger metadata the
// triggered workflow sees.
func triggerParams(sched *storage.Schedule, scheduled, actual time.Time) map[string]any {
	params := make(map[string]any, len(sched.Params)+1)
	for k, v := range sched.Params {
		params[k] = v
	}
	params["_trigger"] = map[string]any{
		"schedule_id":    sched.ID,
		"schedule_name":  sched.Name,
		"scheduled_time": scheduled.Format(time.RFC3339),
		"actual_time":    actual.UTC().Format(time.RFC3339),
	}
	return params
}
