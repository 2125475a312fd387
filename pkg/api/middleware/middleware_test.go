package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/flowforge/flowforge/config"
	"github.com/flowforge/flowforge/pkg/logger"
)

func TestRequestID_Generated(t *testing.T) {
	var captured string
	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if captured == "" {
		t.Error("expected generated request id in context")
	}
	if got := rec.Header().Get("X-Request-ID"); got != captured {
		t.Errorf("header %q does not match context %q", got, captured)
	}
}

func TestRequestID_Propagated(t *testing.T) {
	var captured string
	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "client-id-7")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if captured != "client-id-7" {
		t.Errorf("expected propagated id, got %q", captured)
	}
}

func TestRecovery(t *testing.T) {
	log := logger.New(&logger.Config{Level: logger.ErrorLevel, Format: "text", Output: "stderr"})
	handler := Recovery(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

type recorderStub struct {
	mu       sync.Mutex
	requests []string
	active   int
}

func (r *recorderStub) RecordHTTPRequest(method, path, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, method+" "+path+" "+status)
}

func (r *recorderStub) IncActiveConnections() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active++
}

func (r *recorderStub) DecActiveConnections() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active--
}

func TestMetrics_RecordsRequest(t *testing.T) {
	stub := &recorderStub{}
	handler := Metrics(stub)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/executions", nil))

	if len(stub.requests) != 1 {
		t.Fatalf("expected 1 recorded request, got %d", len(stub.requests))
	}
	if stub.requests[0] != "POST /api/v1/executions 202" {
		t.Errorf("unexpected record: %s", stub.requests[0])
	}
	if stub.active != 0 {
		t.Errorf("expected active connections back at 0, got %d", stub.active)
	}
}

func TestMetrics_SkipsMetricsEndpoint(t *testing.T) {
	stub := &recorderStub{}
	handler := Metrics(stub)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if len(stub.requests) != 0 {
		t.Errorf("expected no records for /metrics, got %d", len(stub.requests))
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/api/v1/executions/550e8400-e29b-41d4-a716-446655440000", "/api/v1/executions/:id"},
		{"/api/v1/workflows/42", "/api/v1/workflows/:id"},
		{"/health", "/health"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.in); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCORS_Preflight(t *testing.T) {
	cfg := &config.CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"https://app.example.com"},
		AllowedMethods: []string{"GET", "POST"},
		MaxAge:         600,
	}
	handler := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("preflight must not reach the handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/executions", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("unexpected allow-origin %q", got)
	}
	if got := rec.Header().Get("Access-Control-Max-Age"); got != "600" {
		t.Errorf("unexpected max-age %q", got)
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	cfg := &config.CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"https://app.example.com"},
	}
	handler := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no allow-origin header, got %q", got)
	}
}

func TestCORS_Disabled(t *testing.T) {
	handler := CORS(&config.CORSConfig{Enabled: false})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("expected pass-through, got %d", rec.Code)
	}
}

func TestTimeout_ContextDeadline(t *testing.T) {
	var hadDeadline bool
	handler := Timeout(50 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hadDeadline = r.Context().Deadline()
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !hadDeadline {
		t.Error("expected request context to carry a deadline")
	}
}

func TestLogger_DoesNotAlterResponse(t *testing.T) {
	log := logger.New(&logger.Config{Level: logger.ErrorLevel, Format: "text", Output: "stderr"})
	handler := Logger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("expected body 'ok', got %q", rec.Body.String())
	}
}
