package handlers

import (
	"net/http"
	"time"

	"github.com/flowforge/flowforge/pkg/api/response"
	"github.com/flowforge/flowforge/pkg/storage"
	"github.com/flowforge/flowforge/pkg/version"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	store     storage.Store
	startedAt time.Time
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(store storage.Store) *HealthHandler {
	return &HealthHandler{
		store:     store,
		startedAt: time.Now().UTC(),
	}
}

// Health handles GET /health. It answers as long as the process is up.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.Version,
		"uptime":  time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// Ready handles GET /ready. It fails when the storage backend cannot be
// reached, so load balancers stop routing until it recovers.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.ListDefinitions(r.Context()); err != nil {
		response.JSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}

	response.JSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
