package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flowforge/flowforge/config"
	"github.com/flowforge/flowforge/pkg/action"
	"github.com/flowforge/flowforge/pkg/api/handlers"
	"github.com/flowforge/flowforge/pkg/api/models"
	"github.com/flowforge/flowforge/pkg/dag"
	"github.com/flowforge/flowforge/pkg/engine"
	"github.com/flowforge/flowforge/pkg/logger"
	"github.com/flowforge/flowforge/pkg/progress"
	"github.com/flowforge/flowforge/pkg/storage/memory"
)

func newTestRouter(t *testing.T) (http.Handler, *memory.Store) {
	t.Helper()

	cfg := config.DefaultConfig()
	log := logger.New(&logger.Config{
		Level:  logger.ErrorLevel,
		Format: "text",
		Output: "stderr",
	})

	store := memory.NewStore()
	registry := action.NewRegistry()
	if err := registry.Register(action.WaitUntilType, action.NewWaitUntil()); err != nil {
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

	router := NewRouter(cfg, log, &Handlers{
		Definitions: handlers.NewDefinitionHandler(store, log),
		Executions:  handlers.NewExecutionHandler(eng, store, agg, log),
		Schedules:   handlers.NewScheduleHandler(store, log),
		Health:      handlers.NewHealthHandler(store),
	})

	return router, store
}

func TestRouter_HealthEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, path := range []string{"/health", "/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("GET %s status = %v, want %v", path, w.Code, http.StatusOK)
		}
	}
}

func TestRouter_WorkflowLifecycle(t *testing.T) {
	router, _ := newTestRouter(t)

	defReq := models.DefinitionRequest{
		ID:   "wf-router",
		Name: "router-test",
		Steps: []*dag.Step{
			{ID: "wait", Action: action.WaitUntilType, Params: map[string]any{"duration_seconds": 0.01}},
		},
	}
	body, _ := json.Marshal(defReq)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/workflows", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %v, body: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/workflows/wf-router/trigger", bytes.NewReader([]byte(`{}`)))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("trigger status = %v, body: %s", w.Code, w.Body.String())
	}
	var exec models.ExecutionResponse
	if err := json.NewDecoder(w.Body).Decode(&exec); err != nil {
		t.Fatalf("Failed to decode trigger response: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/executions/"+exec.ID, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("get execution status = %v, body: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/executions", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list executions status = %v", w.Code)
	}
	var list models.ExecutionListResponse
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("Failed to decode list response: %v", err)
	}
	if list.Total != 1 {
		t.Errorf("Total = %d, want 1", list.Total)
	}
}

func TestRouter_RequestIDHeader(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("Expected X-Request-ID response header")
	}
}

func TestRouter_UnknownRoute(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %v, want %v", w.Code, http.StatusNotFound)
	}
}

func TestHTTPServer_Shutdown(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Port = 0

	log := logger.New(&logger.Config{
		Level:  logger.ErrorLevel,
		Format: "text",
		Output: "stderr",
	})
	store := memory.NewStore()
	defer store.Close()

	srv := NewHTTPServer(cfg, log, &Handlers{
		Health: handlers.NewHealthHandler(store),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
