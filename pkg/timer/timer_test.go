package timer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/flowforge/flowforge/pkg/storage"
	"github.com/flowforge/flowforge/pkg/storage/memory"
)

type deliveryRecorder struct {
	mu        sync.Mutex
	delivered []string
	data      map[string]map[string]any
	notify    chan string
}

func newDeliveryRecorder() *deliveryRecorder {
	return &deliveryRecorder{
		data:   make(map[string]map[string]any),
		notify: make(chan string, 16),
	}
}

func (r *deliveryRecorder) deliver(_ context.Context, externalWorkflowID string, eventData map[string]any) error {
	r.mu.Lock()
	r.delivered = append(r.delivered, externalWorkflowID)
	r.data[externalWorkflowID] = eventData
	r.mu.Unlock()
	r.notify <- externalWorkflowID
	return nil
}

func (r *deliveryRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.delivered)
}

func (r *deliveryRecorder) wait(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-r.notify:
		if got != want {
			t.Fatalf("expected delivery for %s, got %s", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for delivery of %s", want)
	}
}

func TestServiceFiresAtDeadline(t *testing.T) {
	rec := newDeliveryRecorder()
	svc, err := NewService(memory.NewStore(), rec.deliver)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	defer svc.Close()

	if err := svc.Register("wait-1", time.Now().Add(20*time.Millisecond)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if svc.Pending() != 1 {
		t.Errorf("expected 1 pending timer, got %d", svc.Pending())
	}

	rec.wait(t, "wait-1")
	if svc.Pending() != 0 {
		t.Errorf("expected timer removed after firing, got %d pending", svc.Pending())
	}

	rec.mu.Lock()
	data := rec.data["wait-1"]
	rec.mu.Unlock()
	if data["deadline"] == "" || data["fired_at"] == "" {
		t.Errorf("expected deadline metadata in event data, got %v", data)
	}
}

func TestServicePastDeadlineFiresImmediately(t *testing.T) {
	rec := newDeliveryRecorder()
	svc, err := NewService(memory.NewStore(), rec.deliver)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	defer svc.Close()

	if err := svc.Register("wait-1", time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	rec.wait(t, "wait-1")
}

func TestServiceCancelStopsDelivery(t *testing.T) {
	rec := newDeliveryRecorder()
	svc, err := NewService(memory.NewStore(), rec.deliver)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	defer svc.Close()

	if err := svc.Register("wait-1", time.Now().Add(50*time.Millisecond)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	svc.Cancel("wait-1")
	if svc.Pending() != 0 {
		t.Errorf("expected 0 pending after cancel, got %d", svc.Pending())
	}

	time.Sleep(100 * time.Millisecond)
	if rec.count() != 0 {
		t.Errorf("expected no delivery after cancel, got %d", rec.count())
	}

	// Cancelling an unknown ID is a no-op.
	svc.Cancel("wait-unknown")
}

func TestServiceReRegisterReplacesDeadline(t *testing.T) {
	rec := newDeliveryRecorder()
	svc, err := NewService(memory.NewStore(), rec.deliver)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	defer svc.Close()

	if err := svc.Register("wait-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := svc.Register("wait-1", time.Now().Add(20*time.Millisecond)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if svc.Pending() != 1 {
		t.Errorf("expected 1 pending timer after re-register, got %d", svc.Pending())
	}
	rec.wait(t, "wait-1")
	if rec.count() != 1 {
		t.Errorf("expected exactly one delivery, got %d", rec.count())
	}
}

func TestServiceRecover(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	pastDeadline := time.Now().Add(-time.Minute).UTC()
	futureDeadline := time.Now().Add(time.Hour).UTC()
	rows := []*storage.StepExecution{
		{
			ID: "se-1", ExecutionID: "exec-1", StepID: "wait-a",
			Status: storage.StepRunning, ExternalWorkflowID: "wait-past",
			TimeoutDeadline: &pastDeadline,
		},
		{
			ID: "se-2", ExecutionID: "exec-1", StepID: "wait-b",
			Status: storage.StepRunning, ExternalWorkflowID: "wait-future",
			TimeoutDeadline: &futureDeadline,
		},
		{
			// Suspended without a deadline: waits forever for its event.
			ID: "se-3", ExecutionID: "exec-2", StepID: "wait-c",
			Status: storage.StepRunning, ExternalWorkflowID: "wait-nodeadline",
		},
	}
	for _, row := range rows {
		if err := store.CreateStepExecution(ctx, row); err != nil {
			t.Fatalf("CreateStepExecution failed: %v", err)
		}
	}

	rec := newDeliveryRecorder()
	svc, err := NewService(store, rec.deliver)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	defer svc.Close()

	recovered, err := svc.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if recovered != 2 {
		t.Errorf("expected 2 recovered deadlines, got %d", recovered)
	}

	// The expired deadline fires right away; the future one stays armed.
	rec.wait(t, "wait-past")
	if svc.Pending() != 1 {
		t.Errorf("expected 1 timer still pending, got %d", svc.Pending())
	}
}

func TestServiceCloseDisarmsTimers(t *testing.T) {
	rec := newDeliveryRecorder()
	svc, err := NewService(memory.NewStore(), rec.deliver)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	if err := svc.Register("wait-1", time.Now().Add(30*time.Millisecond)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	time.Sleep(80 * time.Millisecond)
	if rec.count() != 0 {
		t.Errorf("expected no deliveries after close, got %d", rec.count())
	}
	if err := svc.Register("wait-2", time.Now()); err == nil {
		t.Error("expected Register to fail on closed service")
	}
}
