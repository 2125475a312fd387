// Package retention deletes executions older than the retention window,
// together with everything they own.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/flowforge/flowforge/pkg/logger"
	"github.com/flowforge/flowforge/pkg/storage"
)

const (
	// StatusCompleted marks a run where every eligible execution was
	// deleted.
	StatusCompleted = "completed"
	// StatusCompletedWithErrors marks a run where some executions were
	// skipped after a delete failure.
	StatusCompletedWithErrors = "completed_with_errors"

	defaultBatchSize = 100
)

// ItemError records one execution that could not be deleted.
type ItemError struct {
	ExecutionID string `json:"execution_id"`
	Error       string `json:"error"`
}

// Report is the outcome of one cleanup run.
type Report struct {
	Cutoff     time.Time             `json:"cutoff"`
	Deleted    storage.CascadeCounts `json:"deleted"`
	Batches    int                   `json:"batches"`
	Elapsed    time.Duration         `json:"elapsed"`
	ItemErrors []ItemError           `json:"item_errors,omitempty"`
	Status     string                `json:"status"`
}

// Option is a functional option for configuring the Cleaner.
type Option func(*Cleaner)

// WithBatchSize sets how many execution IDs one batch fetches.
func WithBatchSize(n int) Option {
	return func(c *Cleaner) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithLogger sets the cleaner logger.
func WithLogger(log logger.Logger) Option {
	return func(c *Cleaner) {
		if log != nil {
			c.log = log
		}
	}
}

// WithClock overrides the cleaner clock, used in tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cleaner) {
		if now != nil {
			c.now = now
		}
	}
}

// Cleaner deletes executions past their retention window in oldest-first
// batches. Each execution's cascade is independent; one bad execution is
// logged and skipped while the rest of the batch proceeds.
type Cleaner struct {
	store         storage.Store
	retentionDays int
	batchSize     int
	log           logger.Logger
	now           func() time.Time
}

// NewCleaner creates a retention cleaner keeping the last retentionDays of
// executions.
func NewCleaner(store storage.Store, retentionDays int, opts ...Option) (*Cleaner, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if retentionDays <= 0 {
		return nil, fmt.Errorf("retention days must be positive, got %d", retentionDays)
	}
	c := &Cleaner{
		store:         store,
		retentionDays: retentionDays,
		batchSize:     defaultBatchSize,
		log:           logger.Global(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run performs one full cleanup pass, draining batches until no execution
// older than the cutoff remains.
func (c *Cleaner) Run(ctx context.Context) (*Report, error) {
	start := c.now()
	cutoff := start.UTC().AddDate(0, 0, -c.retentionDays)
	report := &Report{Cutoff: cutoff, Status: StatusCompleted}

	// Failed deletes stay in storage and would be re-fetched forever;
	// skip them for the remainder of this run. The fetch window is widened
	// by the failure count so skipped rows cannot crowd out executions
	// behind them.
	failed := make(map[string]bool)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ids, err := c.store.ListExecutionIDsBefore(ctx, cutoff, c.batchSize+len(failed))
		if err != nil {
			return nil, err
		}
		remaining := ids[:0]
		for _, id := range ids {
			if !failed[id] {
				remaining = append(remaining, id)
			}
		}
		if len(remaining) == 0 {
			break
		}
		report.Batches++

		for _, id := range remaining {
			counts, err := c.store.DeleteExecutionCascade(ctx, id)
			if err != nil {
				c.log.Error("cascade delete failed",
					"execution_id", id, "error", err)
				failed[id] = true
				report.ItemErrors = append(report.ItemErrors, ItemError{
					ExecutionID: id,
					Error:       err.Error(),
				})
				continue
			}
			report.Deleted.Add(counts)
		}
	}

	report.Elapsed = c.now().Sub(start)
	if len(report.ItemErrors) > 0 {
		report.Status = StatusCompletedWithErrors
	}
	c.log.Info("retention cleanup finished",
		"cutoff", cutoff.Format(time.RFC3339),
		"executions_deleted", report.Deleted.Executions,
		"batches", report.Batches,
		"errors", len(report.ItemErrors),
		"status", report.Status)
	return report, nil
}

// RunEvery performs cleanup passes on a fixed interval until the context
// ends.
func (c *Cleaner) RunEvery(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := c.Run(ctx); err != nil {
				c.log.Error("retention run failed", "error", err)
			}
		}
	}
}
