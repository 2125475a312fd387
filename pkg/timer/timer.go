// Package timer schedules timeout deadlines for suspended steps. Deadlines
// are persisted with the step row; the in-memory timers here are an
// optimization that is rebuilt from storage after a restart.
package timer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowforge/flowforge/pkg/logger"
	"github.com/flowforge/flowforge/pkg/storage"
)

// DeliverFunc delivers a synthetic timeout event for the suspended step
// correlated by externalWorkflowID. Delivery goes through the same path as
// real external events; the receiving action decides what a timeout means.
type DeliverFunc func(ctx context.Context, externalWorkflowID string, eventData map[string]any) error

// Option configures the Service.
type Option func(*Service)

// WithClock overrides the wall clock, used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) { s.log = log }
}

// Service tracks one timer per suspended step and fires a timeout event when
// the deadline passes. Registering the same ID again replaces the previous
// deadline; cancelling an unknown ID is a no-op.
type Service struct {
	store   storage.Store
	deliver DeliverFunc
	log     logger.Logger
	now     func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewService creates a deadline service.
func NewService(store storage.Store, deliver DeliverFunc, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("timer: store cannot be nil")
	}
	if deliver == nil {
		return nil, fmt.Errorf("timer: deliver callback cannot be nil")
	}
	s := &Service{
		store:   store,
		deliver: deliver,
		log:     logger.Global(),
		now:     time.Now,
		timers:  make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register arms a timer that fires at deadline. A deadline in the past fires
// immediately.
func (s *Service) Register(externalWorkflowID string, deadline time.Time) error {
	if externalWorkflowID == "" {
		return fmt.Errorf("timer: external workflow id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("timer: service is closed")
	}
	if existing, ok := s.timers[externalWorkflowID]; ok {
		existing.Stop()
	}

	delay := deadline.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	s.timers[externalWorkflowID] = time.AfterFunc(delay, func() {
		s.fire(externalWorkflowID, deadline)
	})
	return nil
}

// Cancel disarms the timer for the given ID, typically because the real
// event arrived first.
func (s *Service) Cancel(externalWorkflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[externalWorkflowID]; ok {
		t.Stop()
		delete(s.timers, externalWorkflowID)
	}
}

// Pending returns the number of armed timers.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Recover re-registers timers for every suspended step found in storage.
// Steps whose deadlines already passed fire immediately. Called once at
// startup.
func (s *Service) Recover(ctx context.Context) (int, error) {
	steps, err := s.store.ListSuspendedSteps(ctx)
	if err != nil {
		return 0, fmt.Errorf("timer: list suspended steps: %w", err)
	}

	recovered := 0
	for _, step := range steps {
		if step.TimeoutDeadline == nil {
			continue
		}
		if err := s.Register(step.ExternalWorkflowID, *step.TimeoutDeadline); err != nil {
			return recovered, err
		}
		recovered++
	}
	if recovered > 0 {
		s.log.InfoContext(ctx, "recovered suspended step deadlines", "count", recovered)
	}
	return recovered, nil
}

// Close disarms all timers. Already-fired deliveries are not interrupted.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	return nil
}

func (s *Service) fire(externalWorkflowID string, deadline time.Time) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.timers, externalWorkflowID)
	s.mu.Unlock()

	ctx := context.Background()
	eventData := map[string]any{
		"deadline": deadline.UTC().Format(time.RFC3339),
		"fired_at": s.now().UTC().Format(time.RFC3339),
	}
	if err := s.deliver(ctx, externalWorkflowID, eventData); err != nil {
		s.log.ErrorContext(ctx, "timeout delivery failed",
			"external_workflow_id", externalWorkflowID, "error", err)
	}
}
