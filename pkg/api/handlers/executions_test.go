package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flowforge/flowforge/pkg/action"
	"github.com/flowforge/flowforge/pkg/api/models"
	"github.com/flowforge/flowforge/pkg/dag"
	"github.com/flowforge/flowforge/pkg/engine"
	"github.com/flowforge/flowforge/pkg/progress"
	"github.com/flowforge/flowforge/pkg/storage"
	"github.com/flowforge/flowforge/pkg/storage/memory"
)

type instantAction struct{}

func (instantAction) Execute(_ context.Context, _ *action.Context) (*action.Result, error) {
	return &action.Result{Success: true, Outputs: map[string]any{"done": true}}, nil
}

func (instantAction) OnEvent(_ context.Context, _ *action.EventContext) (*action.EventResult, error) {
	return &action.EventResult{Action: action.ResultIgnore}, nil
}

func (instantAction) ValidateParams(_ map[string]any) []string { return nil }

func newTestExecutionHandler(t *testing.T) (*ExecutionHandler, *memory.Store) {
	t.Helper()
	store := memory.NewStore()

	registry := action.NewRegistry()
	if err := registry.Register("noop", instantAction{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	agg, err := progress.NewAggregator(store)
	if err != nil {
		t.Fatalf("NewAggregator() error = %v", err)
	}

	eng, err := engine.New(store, registry, agg)
	if err != nil {
		t.Fatalf("engine.New() error = %v", err)
	}

	return NewExecutionHandler(eng, store, agg, testLogger()), store
}

func seedDefinition(t *testing.T, store *memory.Store) {
	t.Helper()
	def := &storage.WorkflowDefinition{
		ID:      "wf-exec",
		Name:    "exec-test",
		Version: 1,
		Steps: []*dag.Step{
			{ID: "only", Action: "noop"},
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := store.SaveDefinition(context.Background(), def); err != nil {
		t.Fatalf("SaveDefinition() error = %v", err)
	}
}

func TestExecutionHandler_Trigger(t *testing.T) {
	handler, store := newTestExecutionHandler(t)
	seedDefinition(t, store)

	body, _ := json.Marshal(models.TriggerRequest{Params: map[string]any{"run": 1}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/workflows/wf-exec/trigger", bytes.NewReader(body))
	req = withURLParam(req, "id", "wf-exec")
	w := httptest.NewRecorder()

	handler.Trigger(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Trigger() status = %v, want %v, body: %s", w.Code, http.StatusAccepted, w.Body.String())
	}

	var resp models.ExecutionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.ID == "" {
		t.Error("Expected execution ID in response")
	}
	if resp.WorkflowID != "wf-exec" {
		t.Errorf("WorkflowID = %v, want wf-exec", resp.WorkflowID)
	}
}

func TestExecutionHandler_Trigger_UnknownWorkflow(t *testing.T) {
	handler, _ := newTestExecutionHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/workflows/missing/trigger", nil)
	req = withURLParam(req, "id", "missing")
	w := httptest.NewRecorder()

	handler.Trigger(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Trigger() status = %v, want %v", w.Code, http.StatusNotFound)
	}
}

func TestExecutionHandler_Get(t *testing.T) {
	handler, store := newTestExecutionHandler(t)

	now := time.Now().UTC()
	exec := &storage.PipelineExecution{
		ID:           "exec-1",
		WorkflowID:   "wf-exec",
		WorkflowName: "exec-test",
		Steps:        []*dag.Step{{ID: "only", Action: "noop"}},
		Status:       storage.ExecutionCompleted,
		CreatedAt:    now,
		CompletedAt:  &now,
	}
	if err := store.CreateExecution(context.Background(), exec); err != nil {
		t.Fatalf("CreateExecution() error = %v", err)
	}
	step := &storage.StepExecution{
		ID:          "step-1",
		ExecutionID: "exec-1",
		StepID:      "only",
		Status:      storage.StepCompleted,
		Outputs:     map[string]any{"done": true},
	}
	if err := store.CreateStepExecution(context.Background(), step); err != nil {
		t.Fatalf("CreateStepExecution() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/executions/exec-1", nil)
	req = withURLParam(req, "id", "exec-1")
	w := httptest.NewRecorder()

	handler.Get(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Get() status = %v, body: %s", w.Code, w.Body.String())
	}
	var resp models.ExecutionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != string(storage.ExecutionCompleted) {
		t.Errorf("Status = %v, want COMPLETED", resp.Status)
	}
	if len(resp.Steps) != 1 || resp.Steps[0].StepID != "only" {
		t.Errorf("Steps = %+v, want one step 'only'", resp.Steps)
	}
}

func TestExecutionHandler_List_FilterByStatus(t *testing.T) {
	handler, store := newTestExecutionHandler(t)

	for _, seeded := range []struct {
		id     string
		status storage.ExecutionStatus
	}{
		{"exec-a", storage.ExecutionCompleted},
		{"exec-b", storage.ExecutionFailed},
		{"exec-c", storage.ExecutionCompleted},
	} {
		exec := &storage.PipelineExecution{
			ID:         seeded.id,
			WorkflowID: "wf-exec",
			Status:     seeded.status,
			CreatedAt:  time.Now().UTC(),
		}
		if err := store.CreateExecution(context.Background(), exec); err != nil {
			t.Fatalf("CreateExecution() error = %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/executions?status=completed", nil)
	w := httptest.NewRecorder()

	handler.List(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("List() status = %v", w.Code)
	}
	var resp models.ExecutionListResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Total != 2 {
		t.Errorf("Total = %d, want 2", resp.Total)
	}
	for _, summary := range resp.Executions {
		if summary.Status != string(storage.ExecutionCompleted) {
			t.Errorf("Unexpected status %v in filtered list", summary.Status)
		}
	}
}

func TestExecutionHandler_Interrupt(t *testing.T) {
	handler, store := newTestExecutionHandler(t)

	exec := &storage.PipelineExecution{
		ID:         "exec-int",
		WorkflowID: "wf-exec",
		Status:     storage.ExecutionPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := store.CreateExecution(context.Background(), exec); err != nil {
		t.Fatalf("CreateExecution() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/executions/exec-int/interrupt", nil)
	req = withURLParam(req, "id", "exec-int")
	w := httptest.NewRecorder()

	handler.Interrupt(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Interrupt() status = %v, body: %s", w.Code, w.Body.String())
	}

	row, err := store.GetExecution(context.Background(), "exec-int")
	if err != nil {
		t.Fatalf("GetExecution() error = %v", err)
	}
	if row.Status != storage.ExecutionInterrupted {
		t.Errorf("Status = %v, want INTERRUPTED", row.Status)
	}

	// A second interrupt hits a terminal execution.
	w = httptest.NewRecorder()
	handler.Interrupt(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("Interrupt() on terminal execution status = %v, want %v", w.Code, http.StatusConflict)
	}
}

func TestExecutionHandler_Progress(t *testing.T) {
	handler, store := newTestExecutionHandler(t)

	exec := &storage.PipelineExecution{
		ID:         "exec-prog",
		WorkflowID: "wf-exec",
		Status:     storage.ExecutionRunning,
		CreatedAt:  time.Now().UTC(),
	}
	if err := store.CreateExecution(context.Background(), exec); err != nil {
		t.Fatalf("CreateExecution() error = %v", err)
	}
	ev := &storage.ProgressEvent{
		ID:                 "ev-1",
		ExecutionID:        "exec-prog",
		SequenceNumber:     1,
		EventType:          storage.EventWorkflowProgress,
		ProgressPercentage: 50,
		CreatedAt:          time.Now().UTC(),
	}
	if err := store.AppendProgressEvent(context.Background(), ev); err != nil {
		t.Fatalf("AppendProgressEvent() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/executions/exec-prog/events", nil)
	req = withURLParam(req, "id", "exec-prog")
	w := httptest.NewRecorder()

	handler.Progress(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Progress() status = %v", w.Code)
	}
	var resp struct {
		ExecutionID string                     `json:"execution_id"`
		Events      []models.ProgressEventView `json:"events"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp.Events) != 1 || resp.Events[0].SequenceNumber != 1 {
		t.Errorf("Events = %+v, want one event with sequence 1", resp.Events)
	}
}

func TestExecutionHandler_DeliverEvent_UnknownCorrelation(t *testing.T) {
	handler, _ := newTestExecutionHandler(t)

	body, _ := json.Marshal(models.EventRequest{EventType: "approved"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/ext-missing", bytes.NewReader(body))
	req = withURLParam(req, "externalWorkflowID", "ext-missing")
	w := httptest.NewRecorder()

	handler.DeliverEvent(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("DeliverEvent() status = %v, want %v", w.Code, http.StatusNotFound)
	}
}

func TestExecutionHandler_DeliverEvent_RequiresEventType(t *testing.T) {
	handler, _ := newTestExecutionHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/ext-1", bytes.NewReader([]byte(`{}`)))
	req = withURLParam(req, "externalWorkflowID", "ext-1")
	w := httptest.NewRecorder()

	handler.DeliverEvent(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("DeliverEvent() without event type status = %v, want %v", w.Code, http.StatusBadRequest)
	}
}
