package badger

import (
	"context"
	"testing"
	"time"

	"github.com/flowforge/flowforge/pkg/dag"
	"github.com/flowforge/flowforge/pkg/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(&Config{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return store
}

// TestBadgerStoreSuite runs the shared storage conformance suite against the
// Badger store.
func TestBadgerStoreSuite(t *testing.T) {
	suite := &storage.TestSuite{
		NewStore: func(t *testing.T) storage.Store {
			return newTestStore(t)
		},
	}
	suite.RunAllTests(t)
}

func TestBadgerStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewStore(&Config{Path: dir})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	deadline := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	exec := &storage.PipelineExecution{
		ID: "exec-1", WorkflowID: "wf-1", WorkflowName: "train",
		Steps:  []*dag.Step{{ID: "wait", Action: "wait_until"}},
		Status: storage.ExecutionRunning,
	}
	if err := store.CreateExecution(ctx, exec); err != nil {
		t.Fatalf("CreateExecution failed: %v", err)
	}
	step := &storage.StepExecution{
		ID: "se-1", ExecutionID: "exec-1", StepID: "wait",
		Status: storage.StepRunning, ExternalWorkflowID: "wait-abc",
		TimeoutDeadline: &deadline,
	}
	if err := store.CreateStepExecution(ctx, step); err != nil {
		t.Fatalf("CreateStepExecution failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Suspended state must survive a restart so deadlines can be
	// re-registered.
	store, err = NewStore(&Config{Path: dir})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer store.Close()

	suspended, err := store.ListSuspendedSteps(ctx)
	if err != nil {
		t.Fatalf("ListSuspendedSteps failed: %v", err)
	}
	if len(suspended) != 1 || suspended[0].ExternalWorkflowID != "wait-abc" {
		t.Fatalf("suspended step lost across reopen: %+v", suspended)
	}
	if suspended[0].TimeoutDeadline == nil || !suspended[0].TimeoutDeadline.Equal(deadline) {
		t.Errorf("deadline lost across reopen: %v", suspended[0].TimeoutDeadline)
	}
}

func TestBadgerStore_ExternalIndexClearedOnResume(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	step := &storage.StepExecution{
		ID: "se-1", ExecutionID: "exec-1", StepID: "wait",
		Status: storage.StepRunning, ExternalWorkflowID: "wait-abc",
	}
	if err := store.CreateStepExecution(ctx, step); err != nil {
		t.Fatalf("CreateStepExecution failed: %v", err)
	}

	step.Status = storage.StepCompleted
	if err := store.UpdateStepExecution(ctx, step); err != nil {
		t.Fatalf("UpdateStepExecution failed: %v", err)
	}

	if _, err := store.FindSuspendedStep(ctx, "wait-abc"); err == nil {
		t.Error("resumed step still resolves through the suspended index")
	}
	suspended, err := store.ListSuspendedSteps(ctx)
	if err != nil {
		t.Fatalf("ListSuspendedSteps failed: %v", err)
	}
	if len(suspended) != 0 {
		t.Errorf("expected no suspended steps, got %+v", suspended)
	}
}

func TestBadgerStore_ScheduleIndexFollowsNextRun(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	first := time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)
	sched := &storage.Schedule{
		ID: "sched-1", Name: "nightly", WorkflowID: "wf-1",
		Type: storage.ScheduleCron, Expression: "0 9 * * *",
		NextRunAt: &first, Enabled: true, Status: storage.ScheduleStatusActive,
	}
	if err := store.SaveSchedule(ctx, sched); err != nil {
		t.Fatalf("SaveSchedule failed: %v", err)
	}

	due, err := store.ListDueSchedules(ctx, first)
	if err != nil {
		t.Fatalf("ListDueSchedules failed: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected schedule due at next_run_at, got %d", len(due))
	}

	// Advancing next_run_at must retire the old index entry.
	second := first.Add(24 * time.Hour)
	sched.NextRunAt = &second
	if err := store.SaveSchedule(ctx, sched); err != nil {
		t.Fatalf("SaveSchedule failed: %v", err)
	}

	due, err = store.ListDueSchedules(ctx, first)
	if err != nil {
		t.Fatalf("ListDueSchedules failed: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("stale index entry survived next_run_at update: %+v", due)
	}
	due, err = store.ListDueSchedules(ctx, second)
	if err != nil {
		t.Fatalf("ListDueSchedules failed: %v", err)
	}
	if len(due) != 1 {
		t.Errorf("expected schedule due at new next_run_at, got %d", len(due))
	}
}
