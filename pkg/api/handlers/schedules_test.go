package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flowforge/flowforge/pkg/api/models"
	"github.com/flowforge/flowforge/pkg/dag"
	"github.com/flowforge/flowforge/pkg/storage"
	"github.com/flowforge/flowforge/pkg/storage/memory"
)

func newTestScheduleHandler(t *testing.T) (*ScheduleHandler, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	def := &storage.WorkflowDefinition{
		ID:      "wf-sched",
		Name:    "scheduled",
		Version: 1,
		Steps:   []*dag.Step{{ID: "only", Action: "noop"}},
	}
	if err := store.SaveDefinition(context.Background(), def); err != nil {
		t.Fatalf("SaveDefinition() error = %v", err)
	}
	return NewScheduleHandler(store, testLogger()), store
}

func createSchedule(t *testing.T, handler *ScheduleHandler, req models.ScheduleRequest) models.ScheduleResponse {
	t.Helper()
	body, _ := json.Marshal(req)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/schedules", bytes.NewReader(body))
	w := httptest.NewRecorder()
	handler.Create(w, r)
	if w.Code != http.StatusCreated {
		t.Fatalf("Create() status = %v, body: %s", w.Code, w.Body.String())
	}
	var resp models.ScheduleResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp
}

func TestScheduleHandler_Create_Cron(t *testing.T) {
	handler, _ := newTestScheduleHandler(t)
	handler.now = func() time.Time {
		return time.Date(2026, 3, 10, 11, 30, 0, 0, time.UTC)
	}

	resp := createSchedule(t, handler, models.ScheduleRequest{
		Name:       "nightly",
		WorkflowID: "wf-sched",
		Type:       string(storage.ScheduleCron),
		Expression: "0 2 * * *",
		Enabled:    true,
	})

	if resp.Status != storage.ScheduleStatusActive {
		t.Errorf("Status = %v, want active", resp.Status)
	}
	if resp.NextRunAt == nil {
		t.Fatal("Expected NextRunAt to be computed")
	}
	want := time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC)
	if !resp.NextRunAt.Equal(want) {
		t.Errorf("NextRunAt = %v, want %v", resp.NextRunAt, want)
	}
}

func TestScheduleHandler_Create_CronWithTimezone(t *testing.T) {
	handler, _ := newTestScheduleHandler(t)
	handler.now = func() time.Time {
		return time.Date(2026, 3, 10, 11, 30, 0, 0, time.UTC)
	}

	resp := createSchedule(t, handler, models.ScheduleRequest{
		Name:       "tokyo-nightly",
		WorkflowID: "wf-sched",
		Type:       string(storage.ScheduleCron),
		Expression: "0 2 * * *",
		Timezone:   "Asia/Tokyo",
		Enabled:    true,
	})

	if resp.NextRunAt == nil {
		t.Fatal("Expected NextRunAt to be computed")
	}
	// 02:00 JST on March 11 is 17:00 UTC on March 10.
	want := time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC)
	if !resp.NextRunAt.Equal(want) {
		t.Errorf("NextRunAt = %v, want %v", resp.NextRunAt.UTC(), want)
	}
}

func TestScheduleHandler_Create_Interval(t *testing.T) {
	handler, _ := newTestScheduleHandler(t)
	now := time.Date(2026, 3, 10, 11, 30, 0, 0, time.UTC)
	handler.now = func() time.Time { return now }

	resp := createSchedule(t, handler, models.ScheduleRequest{
		Name:       "every-15m",
		WorkflowID: "wf-sched",
		Type:       string(storage.ScheduleInterval),
		Expression: "15m",
		Enabled:    true,
	})

	if resp.NextRunAt == nil || !resp.NextRunAt.Equal(now.Add(15*time.Minute)) {
		t.Errorf("NextRunAt = %v, want %v", resp.NextRunAt, now.Add(15*time.Minute))
	}
}

func TestScheduleHandler_Create_OneTime(t *testing.T) {
	handler, _ := newTestScheduleHandler(t)
	handler.now = func() time.Time {
		return time.Date(2026, 3, 10, 11, 30, 0, 0, time.UTC)
	}

	resp := createSchedule(t, handler, models.ScheduleRequest{
		Name:       "once",
		WorkflowID: "wf-sched",
		Type:       string(storage.ScheduleOneTime),
		Expression: "2026-04-01T08:00:00Z",
		Enabled:    true,
	})

	want := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	if resp.NextRunAt == nil || !resp.NextRunAt.Equal(want) {
		t.Errorf("NextRunAt = %v, want %v", resp.NextRunAt, want)
	}
}

func TestScheduleHandler_Create_Invalid(t *testing.T) {
	tests := []struct {
		name string
		req  models.ScheduleRequest
	}{
		{
			name: "bad cron expression",
			req: models.ScheduleRequest{
				Name: "s", WorkflowID: "wf-sched",
				Type: string(storage.ScheduleCron), Expression: "not a cron",
			},
		},
		{
			name: "bad timezone",
			req: models.ScheduleRequest{
				Name: "s", WorkflowID: "wf-sched",
				Type: string(storage.ScheduleCron), Expression: "0 2 * * *", Timezone: "Mars/Olympus",
			},
		},
		{
			name: "negative interval",
			req: models.ScheduleRequest{
				Name: "s", WorkflowID: "wf-sched",
				Type: string(storage.ScheduleInterval), Expression: "-5m",
			},
		},
		{
			name: "one-time in the past",
			req: models.ScheduleRequest{
				Name: "s", WorkflowID: "wf-sched",
				Type: string(storage.ScheduleOneTime), Expression: "2020-01-01T00:00:00Z",
			},
		},
		{
			name: "unknown type rejected by validation",
			req: models.ScheduleRequest{
				Name: "s", WorkflowID: "wf-sched",
				Type: "HOURLY", Expression: "0 * * * *",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, _ := newTestScheduleHandler(t)
			body, _ := json.Marshal(tt.req)
			r := httptest.NewRequest(http.MethodPost, "/api/v1/schedules", bytes.NewReader(body))
			w := httptest.NewRecorder()
			handler.Create(w, r)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Create() status = %v, want %v, body: %s", w.Code, http.StatusBadRequest, w.Body.String())
			}
		})
	}
}

func TestScheduleHandler_Create_UnknownWorkflow(t *testing.T) {
	handler, _ := newTestScheduleHandler(t)

	body, _ := json.Marshal(models.ScheduleRequest{
		Name: "s", WorkflowID: "missing",
		Type: string(storage.ScheduleInterval), Expression: "5m",
	})
	r := httptest.NewRequest(http.MethodPost, "/api/v1/schedules", bytes.NewReader(body))
	w := httptest.NewRecorder()
	handler.Create(w, r)

	if w.Code != http.StatusNotFound {
		t.Errorf("Create() status = %v, want %v", w.Code, http.StatusNotFound)
	}
}

func TestScheduleHandler_UpdateReactivates(t *testing.T) {
	handler, store := newTestScheduleHandler(t)
	now := time.Date(2026, 3, 10, 11, 30, 0, 0, time.UTC)
	handler.now = func() time.Time { return now }

	created := createSchedule(t, handler, models.ScheduleRequest{
		Name: "s", WorkflowID: "wf-sched",
		Type: string(storage.ScheduleInterval), Expression: "10m", Enabled: true,
	})

	// Simulate the sweeper exhausting the schedule.
	sched, err := store.GetSchedule(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetSchedule() error = %v", err)
	}
	sched.Status = storage.ScheduleStatusCompleted
	if err := store.SaveSchedule(context.Background(), sched); err != nil {
		t.Fatalf("SaveSchedule() error = %v", err)
	}

	body, _ := json.Marshal(models.ScheduleRequest{
		Name: "s", WorkflowID: "wf-sched",
		Type: string(storage.ScheduleInterval), Expression: "20m", Enabled: true,
	})
	r := httptest.NewRequest(http.MethodPut, "/api/v1/schedules/"+created.ID, bytes.NewReader(body))
	r = withURLParam(r, "id", created.ID)
	w := httptest.NewRecorder()
	handler.Update(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("Update() status = %v, body: %s", w.Code, w.Body.String())
	}
	var resp models.ScheduleResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != storage.ScheduleStatusActive {
		t.Errorf("Status after update = %v, want active", resp.Status)
	}
	if resp.Expression != "20m" {
		t.Errorf("Expression = %v, want 20m", resp.Expression)
	}
}

func TestScheduleHandler_ListAndDelete(t *testing.T) {
	handler, _ := newTestScheduleHandler(t)

	created := createSchedule(t, handler, models.ScheduleRequest{
		Name: "s", WorkflowID: "wf-sched",
		Type: string(storage.ScheduleInterval), Expression: "5m", Enabled: true,
	})

	w := httptest.NewRecorder()
	handler.List(w, httptest.NewRequest(http.MethodGet, "/api/v1/schedules", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("List() status = %v", w.Code)
	}
	var listResp models.ScheduleListResponse
	if err := json.NewDecoder(w.Body).Decode(&listResp); err != nil {
		t.Fatalf("Failed to decode list response: %v", err)
	}
	if listResp.Total != 1 {
		t.Errorf("Total = %d, want 1", listResp.Total)
	}

	del := httptest.NewRequest(http.MethodDelete, "/api/v1/schedules/"+created.ID, nil)
	del = withURLParam(del, "id", created.ID)
	w = httptest.NewRecorder()
	handler.Delete(w, del)
	if w.Code != http.StatusOK {
		t.Errorf("Delete() status = %v", w.Code)
	}

	get := httptest.NewRequest(http.MethodGet, "/api/v1/schedules/"+created.ID, nil)
	get = withURLParam(get, "id", created.ID)
	w = httptest.NewRecorder()
	handler.Get(w, get)
	if w.Code != http.StatusNotFound {
		t.Errorf("Get() after delete status = %v, want %v", w.Code, http.StatusNotFound)
	}
}
