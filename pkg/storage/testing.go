package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/flowforge/flowforge/pkg/dag"
)

// TestSuite runs the shared conformance tests against any Store
// implementation.
type TestSuite struct {
	NewStore func(t *testing.T) Store
}

// RunAllTests runs every conformance test.
func (s *TestSuite) RunAllTests(t *testing.T) {
	t.Run("DefinitionCRUD", s.TestDefinitionCRUD)
	t.Run("ExecutionLifecycle", s.TestExecutionLifecycle)
	t.Run("ExecutionVersionConflict", s.TestExecutionVersionConflict)
	t.Run("ListExecutionsFilterAndPaging", s.TestListExecutionsFilterAndPaging)
	t.Run("ListExecutionIDsBefore", s.TestListExecutionIDsBefore)
	t.Run("DeleteExecutionCascade", s.TestDeleteExecutionCascade)
	t.Run("StepExecutions", s.TestStepExecutions)
	t.Run("SuspendedSteps", s.TestSuspendedSteps)
	t.Run("ProgressEvents", s.TestProgressEvents)
	t.Run("Subscriptions", s.TestSubscriptions)
	t.Run("Schedules", s.TestSchedules)
	t.Run("DueSchedules", s.TestDueSchedules)
	t.Run("ConcurrentAccess", s.TestConcurrentAccess)
}

func testDefinition(id string) *WorkflowDefinition {
	return &WorkflowDefinition{
		ID:      id,
		Name:    "train-model",
		Version: 1,
		Steps: []*dag.Step{
			{ID: "prepare", Action: "shell"},
			{ID: "train", Action: "shell", DependsOn: []string{"prepare"}},
		},
		Params: map[string]any{"epochs": 10},
	}
}

func testExecution(id string, createdAt time.Time) *PipelineExecution {
	return &PipelineExecution{
		ID:           id,
		WorkflowID:   "wf-1",
		WorkflowName: "train-model",
		Steps:        []*dag.Step{{ID: "prepare", Action: "shell"}},
		Status:       ExecutionPending,
		Params:       map[string]any{"epochs": 10},
		CreatedAt:    createdAt,
	}
}

// TestDefinitionCRUD exercises definition save, get, list and delete.
func (s *TestSuite) TestDefinitionCRUD(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	def := testDefinition("wf-1")
	if err := store.SaveDefinition(ctx, def); err != nil {
		t.Fatalf("SaveDefinition failed: %v", err)
	}

	got, err := store.GetDefinition(ctx, "wf-1")
	if err != nil {
		t.Fatalf("GetDefinition failed: %v", err)
	}
	if got.Name != "train-model" || len(got.Steps) != 2 {
		t.Errorf("unexpected definition: %+v", got)
	}

	got.Name = "train-model-v2"
	got.Version = 2
	if err := store.SaveDefinition(ctx, got); err != nil {
		t.Fatalf("SaveDefinition update failed: %v", err)
	}
	updated, err := store.GetDefinition(ctx, "wf-1")
	if err != nil {
		t.Fatalf("GetDefinition after update failed: %v", err)
	}
	if updated.Name != "train-model-v2" || updated.Version != 2 {
		t.Errorf("update not persisted: %+v", updated)
	}

	if err := store.SaveDefinition(ctx, testDefinition("wf-2")); err != nil {
		t.Fatalf("SaveDefinition failed: %v", err)
	}
	defs, err := store.ListDefinitions(ctx)
	if err != nil {
		t.Fatalf("ListDefinitions failed: %v", err)
	}
	if len(defs) != 2 {
		t.Errorf("expected 2 definitions, got %d", len(defs))
	}

	if err := store.DeleteDefinition(ctx, "wf-1"); err != nil {
		t.Fatalf("DeleteDefinition failed: %v", err)
	}
	if _, err := store.GetDefinition(ctx, "wf-1"); err == nil {
		t.Error("expected not found after delete")
	}

	var nfe *NotFoundError
	if err := store.DeleteDefinition(ctx, "missing"); !errors.As(err, &nfe) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

// TestExecutionLifecycle exercises execution create, get and update.
func (s *TestSuite) TestExecutionLifecycle(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	exec := testExecution("exec-1", time.Now().UTC())
	if err := store.CreateExecution(ctx, exec); err != nil {
		t.Fatalf("CreateExecution failed: %v", err)
	}
	if exec.Version != 1 {
		t.Errorf("expected version 1 after create, got %d", exec.Version)
	}

	var dup *DuplicateKeyError
	if err := store.CreateExecution(ctx, testExecution("exec-1", time.Now())); !errors.As(err, &dup) {
		t.Errorf("expected DuplicateKeyError, got %v", err)
	}

	exec.Status = ExecutionRunning
	now := time.Now().UTC()
	exec.StartedAt = &now
	if err := store.UpdateExecution(ctx, exec); err != nil {
		t.Fatalf("UpdateExecution failed: %v", err)
	}
	if exec.Version != 2 {
		t.Errorf("expected version 2 after update, got %d", exec.Version)
	}

	got, err := store.GetExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("GetExecution failed: %v", err)
	}
	if got.Status != ExecutionRunning || got.StartedAt == nil {
		t.Errorf("update not persisted: %+v", got)
	}

	// Mutating the returned copy must not affect the stored row.
	got.Params["epochs"] = 99
	again, err := store.GetExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("GetExecution failed: %v", err)
	}
	if again.Params["epochs"] == 99 {
		t.Error("stored row shares state with returned copy")
	}
}

// TestExecutionVersionConflict verifies the optimistic-concurrency check.
func (s *TestSuite) TestExecutionVersionConflict(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	exec := testExecution("exec-1", time.Now().UTC())
	if err := store.CreateExecution(ctx, exec); err != nil {
		t.Fatalf("CreateExecution failed: %v", err)
	}

	stale := *exec
	exec.Status = ExecutionRunning
	if err := store.UpdateExecution(ctx, exec); err != nil {
		t.Fatalf("UpdateExecution failed: %v", err)
	}

	stale.Status = ExecutionFailed
	err := store.UpdateExecution(ctx, &stale)
	var conflict *VersionConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected VersionConflictError, got %v", err)
	}
	if conflict.Expected != 1 || conflict.Actual != 2 {
		t.Errorf("unexpected conflict versions: %+v", conflict)
	}

	got, err := store.GetExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("GetExecution failed: %v", err)
	}
	if got.Status != ExecutionRunning {
		t.Errorf("stale write overwrote the row: %s", got.Status)
	}
}

// TestListExecutionsFilterAndPaging verifies status filtering, newest-first
// ordering and pagination.
func (s *TestSuite) TestListExecutionsFilterAndPaging(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	statuses := []ExecutionStatus{
		ExecutionCompleted, ExecutionFailed, ExecutionCompleted,
		ExecutionRunning, ExecutionCompleted,
	}
	for i, status := range statuses {
		exec := testExecution(fmt.Sprintf("exec-%d", i), base.Add(time.Duration(i)*time.Hour))
		exec.Status = status
		if err := store.CreateExecution(ctx, exec); err != nil {
			t.Fatalf("CreateExecution failed: %v", err)
		}
	}

	all, total, err := store.ListExecutions(ctx, nil)
	if err != nil {
		t.Fatalf("ListExecutions failed: %v", err)
	}
	if total != 5 || len(all) != 5 {
		t.Fatalf("expected 5 executions, got %d (total %d)", len(all), total)
	}
	for i := 1; i < len(all); i++ {
		if all[i].CreatedAt.After(all[i-1].CreatedAt) {
			t.Error("executions not ordered newest first")
		}
	}

	completed, total, err := store.ListExecutions(ctx, &ExecutionFilter{
		Status: []ExecutionStatus{ExecutionCompleted},
	})
	if err != nil {
		t.Fatalf("ListExecutions with filter failed: %v", err)
	}
	if total != 3 || len(completed) != 3 {
		t.Errorf("expected 3 completed, got %d (total %d)", len(completed), total)
	}

	page, total, err := store.ListExecutions(ctx, &ExecutionFilter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("ListExecutions with paging failed: %v", err)
	}
	if total != 5 {
		t.Errorf("expected total 5, got %d", total)
	}
	if len(page) != 2 || page[0].ID != "exec-2" {
		t.Errorf("unexpected page: %v", executionIDs(page))
	}
}

// TestListExecutionIDsBefore verifies the retention cutoff query.
func (s *TestSuite) TestListExecutionIDsBefore(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		exec := testExecution(fmt.Sprintf("exec-%d", i), base.AddDate(0, 0, i))
		if err := store.CreateExecution(ctx, exec); err != nil {
			t.Fatalf("CreateExecution failed: %v", err)
		}
	}

	cutoff := base.AddDate(0, 0, 3) // exec-0..2 are strictly before
	ids, err := store.ListExecutionIDsBefore(ctx, cutoff, 2)
	if err != nil {
		t.Fatalf("ListExecutionIDsBefore failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "exec-0" || ids[1] != "exec-1" {
		t.Errorf("expected oldest two, got %v", ids)
	}

	ids, err = store.ListExecutionIDsBefore(ctx, cutoff, 10)
	if err != nil {
		t.Fatalf("ListExecutionIDsBefore failed: %v", err)
	}
	if len(ids) != 3 {
		t.Errorf("expected 3 aged executions, got %v", ids)
	}

	ids, err = store.ListExecutionIDsBefore(ctx, base, 10)
	if err != nil {
		t.Fatalf("ListExecutionIDsBefore failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("cutoff is exclusive, got %v", ids)
	}
}

// TestDeleteExecutionCascade verifies the cascade removes owned rows and
// reports counts.
func (s *TestSuite) TestDeleteExecutionCascade(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	exec := testExecution("exec-1", time.Now().UTC())
	if err := store.CreateExecution(ctx, exec); err != nil {
		t.Fatalf("CreateExecution failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		step := &StepExecution{
			ID: fmt.Sprintf("se-%d", i), ExecutionID: "exec-1",
			StepID: fmt.Sprintf("step-%d", i), Status: StepCompleted,
		}
		if err := store.CreateStepExecution(ctx, step); err != nil {
			t.Fatalf("CreateStepExecution failed: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		event := &ProgressEvent{
			ID: fmt.Sprintf("ev-%d", i), ExecutionID: "exec-1",
			SequenceNumber: int64(i + 1), EventType: EventWorkflowProgress,
		}
		if err := store.AppendProgressEvent(ctx, event); err != nil {
			t.Fatalf("AppendProgressEvent failed: %v", err)
		}
	}
	if err := store.CreateSubscription(ctx, &Subscription{ID: "sub-1", ExecutionID: "exec-1"}); err != nil {
		t.Fatalf("CreateSubscription failed: %v", err)
	}

	counts, err := store.DeleteExecutionCascade(ctx, "exec-1")
	if err != nil {
		t.Fatalf("DeleteExecutionCascade failed: %v", err)
	}
	want := CascadeCounts{ProgressEvents: 3, Subscriptions: 1, StepExecutions: 2, Executions: 1}
	if counts != want {
		t.Errorf("expected counts %+v, got %+v", want, counts)
	}

	if _, err := store.GetExecution(ctx, "exec-1"); err == nil {
		t.Error("execution survived cascade")
	}
	steps, err := store.ListStepExecutions(ctx, "exec-1")
	if err != nil {
		t.Fatalf("ListStepExecutions failed: %v", err)
	}
	if len(steps) != 0 {
		t.Error("step executions survived cascade")
	}
	events, err := store.ListProgressEvents(ctx, "exec-1")
	if err != nil {
		t.Fatalf("ListProgressEvents failed: %v", err)
	}
	if len(events) != 0 {
		t.Error("progress events survived cascade")
	}

	var nfe *NotFoundError
	if _, err := store.DeleteExecutionCascade(ctx, "missing"); !errors.As(err, &nfe) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

// TestStepExecutions exercises step create, update and version checks.
func (s *TestSuite) TestStepExecutions(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	step := &StepExecution{
		ID: "se-1", ExecutionID: "exec-1", StepID: "train", Status: StepPending,
	}
	if err := store.CreateStepExecution(ctx, step); err != nil {
		t.Fatalf("CreateStepExecution failed: %v", err)
	}
	if step.Version != 1 {
		t.Errorf("expected version 1, got %d", step.Version)
	}

	step.Status = StepRunning
	if err := store.UpdateStepExecution(ctx, step); err != nil {
		t.Fatalf("UpdateStepExecution failed: %v", err)
	}

	got, err := store.GetStepExecution(ctx, "exec-1", "train")
	if err != nil {
		t.Fatalf("GetStepExecution failed: %v", err)
	}
	if got.Status != StepRunning || got.Version != 2 {
		t.Errorf("unexpected row: %+v", got)
	}

	stale := *got
	stale.Version = 1
	err = store.UpdateStepExecution(ctx, &stale)
	var conflict *VersionConflictError
	if !errors.As(err, &conflict) {
		t.Errorf("expected VersionConflictError, got %v", err)
	}

	if err := store.CreateStepExecution(ctx, &StepExecution{
		ID: "se-2", ExecutionID: "exec-1", StepID: "evaluate", Status: StepPending,
	}); err != nil {
		t.Fatalf("CreateStepExecution failed: %v", err)
	}
	steps, err := store.ListStepExecutions(ctx, "exec-1")
	if err != nil {
		t.Fatalf("ListStepExecutions failed: %v", err)
	}
	if len(steps) != 2 {
		t.Errorf("expected 2 steps, got %d", len(steps))
	}
}

// TestSuspendedSteps verifies lookup by external workflow ID and the
// recovery listing.
func (s *TestSuite) TestSuspendedSteps(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	deadline := time.Now().Add(2 * time.Hour).UTC()
	suspended := &StepExecution{
		ID: "se-1", ExecutionID: "exec-1", StepID: "wait", Status: StepRunning,
		ExternalWorkflowID: "wait-abc", TimeoutDeadline: &deadline,
	}
	running := &StepExecution{
		ID: "se-2", ExecutionID: "exec-1", StepID: "train", Status: StepRunning,
	}
	done := &StepExecution{
		ID: "se-3", ExecutionID: "exec-2", StepID: "wait", Status: StepCompleted,
		ExternalWorkflowID: "wait-old",
	}
	for _, step := range []*StepExecution{suspended, running, done} {
		if err := store.CreateStepExecution(ctx, step); err != nil {
			t.Fatalf("CreateStepExecution failed: %v", err)
		}
	}

	found, err := store.FindSuspendedStep(ctx, "wait-abc")
	if err != nil {
		t.Fatalf("FindSuspendedStep failed: %v", err)
	}
	if found.StepID != "wait" || found.ExecutionID != "exec-1" {
		t.Errorf("unexpected step: %+v", found)
	}
	if found.TimeoutDeadline == nil || !found.TimeoutDeadline.Equal(deadline) {
		t.Errorf("deadline not persisted: %v", found.TimeoutDeadline)
	}

	var nfe *NotFoundError
	if _, err := store.FindSuspendedStep(ctx, "wait-old"); !errors.As(err, &nfe) {
		t.Errorf("completed step must not resolve as suspended, got %v", err)
	}

	list, err := store.ListSuspendedSteps(ctx)
	if err != nil {
		t.Fatalf("ListSuspendedSteps failed: %v", err)
	}
	if len(list) != 1 || list[0].ExternalWorkflowID != "wait-abc" {
		t.Errorf("expected only the suspended step, got %+v", list)
	}
}

// TestProgressEvents verifies append-only ordering and the sequence query.
func (s *TestSuite) TestProgressEvents(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	seq, err := store.MaxProgressSequence(ctx, "exec-1")
	if err != nil {
		t.Fatalf("MaxProgressSequence failed: %v", err)
	}
	if seq != 0 {
		t.Errorf("expected 0 for empty execution, got %d", seq)
	}

	eta := 120.0
	for i := 1; i <= 3; i++ {
		event := &ProgressEvent{
			ID: fmt.Sprintf("ev-%d", i), ExecutionID: "exec-1",
			SequenceNumber: int64(i), EventType: EventWorkflowProgress,
			ProgressPercentage: float64(i) * 25, ETASeconds: &eta,
			Payload: map[string]any{"step_id": "train"},
		}
		if err := store.AppendProgressEvent(ctx, event); err != nil {
			t.Fatalf("AppendProgressEvent failed: %v", err)
		}
	}

	events, err := store.ListProgressEvents(ctx, "exec-1")
	if err != nil {
		t.Fatalf("ListProgressEvents failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, event := range events {
		if event.SequenceNumber != int64(i+1) {
			t.Errorf("events not ordered by sequence: %d at index %d", event.SequenceNumber, i)
		}
	}
	if events[0].ETASeconds == nil || *events[0].ETASeconds != 120.0 {
		t.Errorf("ETA not persisted: %v", events[0].ETASeconds)
	}

	seq, err = store.MaxProgressSequence(ctx, "exec-1")
	if err != nil {
		t.Fatalf("MaxProgressSequence failed: %v", err)
	}
	if seq != 3 {
		t.Errorf("expected max sequence 3, got %d", seq)
	}
}

// TestSubscriptions verifies subscription create and list.
func (s *TestSuite) TestSubscriptions(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		sub := &Subscription{
			ID: fmt.Sprintf("sub-%d", i), ExecutionID: "exec-1",
			Target: fmt.Sprintf("client-%d", i),
		}
		if err := store.CreateSubscription(ctx, sub); err != nil {
			t.Fatalf("CreateSubscription failed: %v", err)
		}
	}

	subs, err := store.ListSubscriptions(ctx, "exec-1")
	if err != nil {
		t.Fatalf("ListSubscriptions failed: %v", err)
	}
	if len(subs) != 2 {
		t.Errorf("expected 2 subscriptions, got %d", len(subs))
	}
	subs, err = store.ListSubscriptions(ctx, "exec-2")
	if err != nil {
		t.Fatalf("ListSubscriptions failed: %v", err)
	}
	if len(subs) != 0 {
		t.Errorf("expected no subscriptions, got %d", len(subs))
	}
}

// TestSchedules exercises schedule save, get, list, delete and versioning.
func (s *TestSuite) TestSchedules(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	next := time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)
	sched := &Schedule{
		ID: "sched-1", Name: "nightly", WorkflowID: "wf-1",
		Type: ScheduleCron, Expression: "0 9 * * 1-5",
		NextRunAt: &next, Enabled: true, Status: ScheduleStatusActive,
	}
	if err := store.SaveSchedule(ctx, sched); err != nil {
		t.Fatalf("SaveSchedule failed: %v", err)
	}
	if sched.Version != 1 {
		t.Errorf("expected version 1, got %d", sched.Version)
	}

	got, err := store.GetSchedule(ctx, "sched-1")
	if err != nil {
		t.Fatalf("GetSchedule failed: %v", err)
	}
	if got.Expression != "0 9 * * 1-5" || !got.NextRunAt.Equal(next) {
		t.Errorf("unexpected schedule: %+v", got)
	}

	got.RunCount = 1
	if err := store.SaveSchedule(ctx, got); err != nil {
		t.Fatalf("SaveSchedule update failed: %v", err)
	}

	stale := *sched // still version 1
	stale.RunCount = 9
	err = store.SaveSchedule(ctx, &stale)
	var conflict *VersionConflictError
	if !errors.As(err, &conflict) {
		t.Errorf("expected VersionConflictError, got %v", err)
	}

	scheds, err := store.ListSchedules(ctx)
	if err != nil {
		t.Fatalf("ListSchedules failed: %v", err)
	}
	if len(scheds) != 1 {
		t.Errorf("expected 1 schedule, got %d", len(scheds))
	}

	if err := store.DeleteSchedule(ctx, "sched-1"); err != nil {
		t.Fatalf("DeleteSchedule failed: %v", err)
	}
	var nfe *NotFoundError
	if _, err := store.GetSchedule(ctx, "sched-1"); !errors.As(err, &nfe) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

// TestDueSchedules verifies the due sweep query and its ordering.
func (s *TestSuite) TestDueSchedules(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	now := time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)
	mk := func(id string, nextRun *time.Time) *Schedule {
		return &Schedule{
			ID: id, Name: id, WorkflowID: "wf-1", Type: ScheduleInterval,
			Expression: "1h", NextRunAt: nextRun, Enabled: true,
			Status: ScheduleStatusActive,
		}
	}
	past := now.Add(-time.Hour)
	exact := now
	future := now.Add(time.Hour)
	for _, sched := range []*Schedule{
		mk("sched-b", &exact),
		mk("sched-a", &past),
		mk("sched-c", &future),
		mk("sched-d", nil), // already fired one-time
	} {
		if err := store.SaveSchedule(ctx, sched); err != nil {
			t.Fatalf("SaveSchedule failed: %v", err)
		}
	}

	due, err := store.ListDueSchedules(ctx, now)
	if err != nil {
		t.Fatalf("ListDueSchedules failed: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due schedules, got %d", len(due))
	}
	if due[0].ID != "sched-a" || due[1].ID != "sched-b" {
		t.Errorf("due schedules out of order: %s, %s", due[0].ID, due[1].ID)
	}
}

// TestConcurrentAccess hammers the store from multiple goroutines.
func (s *TestSuite) TestConcurrentAccess(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			exec := testExecution(fmt.Sprintf("exec-%d", i), time.Now().UTC())
			if err := store.CreateExecution(ctx, exec); err != nil {
				t.Errorf("CreateExecution failed: %v", err)
				return
			}
			if _, err := store.GetExecution(ctx, exec.ID); err != nil {
				t.Errorf("GetExecution failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	_, total, err := store.ListExecutions(ctx, nil)
	if err != nil {
		t.Fatalf("ListExecutions failed: %v", err)
	}
	if total != 10 {
		t.Errorf("expected 10 executions, got %d", total)
	}
}

func executionIDs(execs []*PipelineExecution) []string {
	ids := make([]string, len(execs))
	for i, exec := range execs {
		ids[i] = exec.ID
	}
	return ids
}
