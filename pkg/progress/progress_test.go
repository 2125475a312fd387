package progress

import (
	"context"
	"testing"
	"time"

	"github.com/flowforge/flowforge/pkg/storage"
	"github.com/flowforge/flowforge/pkg/storage/memory"
)

func seedSteps(t *testing.T, store storage.Store, executionID string, steps []*storage.StepExecution) {
	t.Helper()
	ctx := context.Background()
	for _, step := range steps {
		step.ExecutionID = executionID
		if err := store.CreateStepExecution(ctx, step); err != nil {
			t.Fatalf("CreateStepExecution failed: %v", err)
		}
	}
}

func updateStep(t *testing.T, store storage.Store, executionID, stepID string, mutate func(*storage.StepExecution)) {
	t.Helper()
	ctx := context.Background()
	step, err := store.GetStepExecution(ctx, executionID, stepID)
	if err != nil {
		t.Fatalf("GetStepExecution failed: %v", err)
	}
	mutate(step)
	if err := store.UpdateStepExecution(ctx, step); err != nil {
		t.Fatalf("UpdateStepExecution failed: %v", err)
	}
}

func TestComputeFiveOfEightCompleted(t *testing.T) {
	store := memory.NewStore()
	steps := make([]*storage.StepExecution, 0, 8)
	for i := 0; i < 8; i++ {
		status := storage.StepPending
		if i < 5 {
			status = storage.StepCompleted
		}
		steps = append(steps, &storage.StepExecution{
			ID: stepID(i), StepID: stepID(i), Status: status,
		})
	}
	seedSteps(t, store, "exec-1", steps)

	agg, err := NewAggregator(store)
	if err != nil {
		t.Fatalf("NewAggregator() error = %v", err)
	}
	snapshot, err := agg.Compute(context.Background(), "exec-1")
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if snapshot.Percentage != 62.50 {
		t.Errorf("expected 62.50, got %.2f", snapshot.Percentage)
	}
	if snapshot.CompletedSteps != 5 || snapshot.TotalSteps != 8 {
		t.Errorf("unexpected counts: %+v", snapshot)
	}
}

func stepID(i int) string {
	return string(rune('a' + i))
}

func TestComputeStatusContributions(t *testing.T) {
	store := memory.NewStore()
	seedSteps(t, store, "exec-1", []*storage.StepExecution{
		{ID: "a", StepID: "a", Status: storage.StepCompleted},
		{ID: "b", StepID: "b", Status: storage.StepSkipped},
		{ID: "c", StepID: "c", Status: storage.StepRunning, ProgressPercentage: 50},
		{ID: "d", StepID: "d", Status: storage.StepFailed, ProgressPercentage: 30},
		{ID: "e", StepID: "e", Status: storage.StepRetrying, ProgressPercentage: 80},
		{ID: "f", StepID: "f", Status: storage.StepPending},
	})

	agg, err := NewAggregator(store)
	if err != nil {
		t.Fatalf("NewAggregator() error = %v", err)
	}
	snapshot, err := agg.Compute(context.Background(), "exec-1")
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	// (100 + 100 + 50 + 30 + 0 + 0) / 6 = 46.666... -> 46.67
	if snapshot.Percentage != 46.67 {
		t.Errorf("expected 46.67, got %.2f", snapshot.Percentage)
	}
	// Completed and skipped both count as done.
	if snapshot.CompletedSteps != 2 {
		t.Errorf("expected 2 completed steps, got %d", snapshot.CompletedSteps)
	}
}

func TestComputeMonotonic(t *testing.T) {
	store := memory.NewStore()
	seedSteps(t, store, "exec-1", []*storage.StepExecution{
		{ID: "a", StepID: "a", Status: storage.StepRunning, ProgressPercentage: 80},
		{ID: "b", StepID: "b", Status: storage.StepPending},
	})

	agg, err := NewAggregator(store)
	if err != nil {
		t.Fatalf("NewAggregator() error = %v", err)
	}
	ctx := context.Background()

	first, err := agg.Compute(ctx, "exec-1")
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if first.Percentage != 40.00 {
		t.Fatalf("expected 40.00, got %.2f", first.Percentage)
	}

	// A step reporting a lower percentage must not drag the execution back.
	updateStep(t, store, "exec-1", "a", func(step *storage.StepExecution) {
		step.ProgressPercentage = 20
	})
	second, err := agg.Compute(ctx, "exec-1")
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if second.Percentage != 40.00 {
		t.Errorf("expected cached 40.00, got %.2f", second.Percentage)
	}

	// Forward motion resumes once the real value passes the cache.
	updateStep(t, store, "exec-1", "a", func(step *storage.StepExecution) {
		step.Status = storage.StepCompleted
	})
	third, err := agg.Compute(ctx, "exec-1")
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if third.Percentage != 50.00 {
		t.Errorf("expected 50.00, got %.2f", third.Percentage)
	}
}

func TestEstimateETA(t *testing.T) {
	store := memory.NewStore()
	start1 := time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)
	end1 := start1.Add(10 * time.Second)
	start2 := end1
	end2 := start2.Add(20 * time.Second)

	seedSteps(t, store, "exec-1", []*storage.StepExecution{
		{ID: "a", StepID: "a", Status: storage.StepCompleted, StartTime: &start1, EndTime: &end1},
		{ID: "b", StepID: "b", Status: storage.StepCompleted, StartTime: &start2, EndTime: &end2},
		{ID: "c", StepID: "c", Status: storage.StepRunning, ProgressPercentage: 50},
		{ID: "d", StepID: "d", Status: storage.StepPending},
	})

	agg, err := NewAggregator(store)
	if err != nil {
		t.Fatalf("NewAggregator() error = %v", err)
	}
	snapshot, err := agg.Compute(context.Background(), "exec-1")
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if snapshot.ETASeconds == nil {
		t.Fatal("expected ETA with completed-step history")
	}
	// avg 15s; running at 50% contributes 7.5s, pending contributes 15s.
	if *snapshot.ETASeconds != 22.5 {
		t.Errorf("expected ETA 22.5, got %.2f", *snapshot.ETASeconds)
	}
}

func TestETANilWithoutHistory(t *testing.T) {
	store := memory.NewStore()
	seedSteps(t, store, "exec-1", []*storage.StepExecution{
		{ID: "a", StepID: "a", Status: storage.StepRunning, ProgressPercentage: 10},
		{ID: "b", StepID: "b", Status: storage.StepPending},
	})

	agg, err := NewAggregator(store)
	if err != nil {
		t.Fatalf("NewAggregator() error = %v", err)
	}
	snapshot, err := agg.Compute(context.Background(), "exec-1")
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if snapshot.ETASeconds != nil {
		t.Errorf("expected nil ETA, got %v", *snapshot.ETASeconds)
	}
}

func TestRecordEventsSequence(t *testing.T) {
	store := memory.NewStore()
	seedSteps(t, store, "exec-1", []*storage.StepExecution{
		{ID: "a", StepID: "a", Status: storage.StepRunning},
		{ID: "b", StepID: "b", Status: storage.StepPending},
	})

	agg, err := NewAggregator(store)
	if err != nil {
		t.Fatalf("NewAggregator() error = %v", err)
	}
	ctx := context.Background()

	if err := agg.RecordStepStarted(ctx, "exec-1", "a"); err != nil {
		t.Fatalf("RecordStepStarted() error = %v", err)
	}
	updateStep(t, store, "exec-1", "a", func(step *storage.StepExecution) {
		step.Status = storage.StepCompleted
	})
	if err := agg.RecordStepCompleted(ctx, "exec-1", "a", storage.StepCompleted); err != nil {
		t.Fatalf("RecordStepCompleted() error = %v", err)
	}
	if err := agg.RecordWorkflowCompleted(ctx, "exec-1", storage.ExecutionFailed); err != nil {
		t.Fatalf("RecordWorkflowCompleted() error = %v", err)
	}

	events, err := store.ListProgressEvents(ctx, "exec-1")
	if err != nil {
		t.Fatalf("ListProgressEvents() error = %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	wantTypes := []string{
		storage.EventWorkflowProgress,
		storage.EventStepCompleted,
		storage.EventWorkflowCompleted,
	}
	for i, event := range events {
		if event.SequenceNumber != int64(i+1) {
			t.Errorf("event %d: expected sequence %d, got %d", i, i+1, event.SequenceNumber)
		}
		if event.EventType != wantTypes[i] {
			t.Errorf("event %d: expected type %s, got %s", i, wantTypes[i], event.EventType)
		}
	}
}

func TestSequenceSeededFromStorage(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	if err := store.AppendProgressEvent(ctx, &storage.ProgressEvent{
		ID: "ev-5", ExecutionID: "exec-1", SequenceNumber: 5,
		EventType: storage.EventWorkflowProgress,
	}); err != nil {
		t.Fatalf("AppendProgressEvent failed: %v", err)
	}
	seedSteps(t, store, "exec-1", []*storage.StepExecution{
		{ID: "a", StepID: "a", Status: storage.StepRunning},
	})

	// A fresh aggregator, as after a restart, must continue the stream.
	agg, err := NewAggregator(store)
	if err != nil {
		t.Fatalf("NewAggregator() error = %v", err)
	}
	if err := agg.RecordStepStarted(ctx, "exec-1", "a"); err != nil {
		t.Fatalf("RecordStepStarted() error = %v", err)
	}

	events, err := store.ListProgressEvents(ctx, "exec-1")
	if err != nil {
		t.Fatalf("ListProgressEvents() error = %v", err)
	}
	last := events[len(events)-1]
	if last.SequenceNumber != 6 {
		t.Errorf("expected sequence 6 after seeding, got %d", last.SequenceNumber)
	}
}

func TestWorkflowCompletedEvictsCache(t *testing.T) {
	store := memory.NewStore()
	seedSteps(t, store, "exec-1", []*storage.StepExecution{
		{ID: "a", StepID: "a", Status: storage.StepCompleted},
	})

	agg, err := NewAggregator(store)
	if err != nil {
		t.Fatalf("NewAggregator() error = %v", err)
	}
	ctx := context.Background()
	if _, err := agg.Compute(ctx, "exec-1"); err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if err := agg.RecordWorkflowCompleted(ctx, "exec-1", storage.ExecutionCompleted); err != nil {
		t.Fatalf("RecordWorkflowCompleted() error = %v", err)
	}

	agg.mu.Lock()
	_, cached := agg.cache["exec-1"]
	agg.mu.Unlock()
	if cached {
		t.Error("expected cache entry evicted after workflow completion")
	}
}
