// Package handlers provides HTTP request handlers.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/flowforge/flowforge/pkg/api/middleware"
	"github.com/flowforge/flowforge/pkg/api/models"
	"github.com/flowforge/flowforge/pkg/api/response"
	"github.com/flowforge/flowforge/pkg/dag"
	"github.com/flowforge/flowforge/pkg/logger"
	"github.com/flowforge/flowforge/pkg/storage"
)

// DefinitionHandler handles workflow definition endpoints.
type DefinitionHandler struct {
	store     storage.Store
	logger    logger.Logger
	validator *validator.Validate
	now       func() time.Time
}

// NewDefinitionHandler creates a definition handler.
func NewDefinitionHandler(store storage.Store, log logger.Logger) *DefinitionHandler {
	return &DefinitionHandler{
		store:     store,
		logger:    log,
		validator: validator.New(),
		now:       time.Now,
	}
}

// Create handles POST /api/v1/workflows.
func (h *DefinitionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req models.DefinitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "invalid request body", requestID)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), requestID)
		return
	}
	if err := validateSteps(req.Steps); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), requestID)
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	now := h.now().UTC()
	def := &storage.WorkflowDefinition{
		ID:        id,
		Name:      req.Name,
		Version:   1,
		Steps:     req.Steps,
		Params:    req.Params,
		Settings:  req.Settings,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if existing, err := h.store.GetDefinition(ctx, id); err == nil {
		// Replace: bump version, keep creation time.
		def.Version = existing.Version + 1
		def.CreatedAt = existing.CreatedAt
	}

	if err := h.store.SaveDefinition(ctx, def); err != nil {
		h.logger.ErrorContext(ctx, "save definition failed", "workflow_id", id, "error", err)
		response.HandleError(w, err, requestID)
		return
	}

	response.JSON(w, http.StatusCreated, definitionResponse(def))
}

// Get handles GET /api/v1/workflows/{id}.
func (h *DefinitionHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	id := chi.URLParam(r, "id")

	def, err := h.store.GetDefinition(ctx, id)
	if err != nil {
		response.HandleError(w, err, requestID)
		return
	}

	response.JSON(w, http.StatusOK, definitionResponse(def))
}

// List handles GET /api/v1/workflows.
func (h *DefinitionHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	defs, err := h.store.ListDefinitions(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "list definitions failed", "error", err)
		response.HandleError(w, err, requestID)
		return
	}

	out := make([]models.DefinitionResponse, 0, len(defs))
	for _, def := range defs {
		out = append(out, definitionResponse(def))
	}

	response.JSON(w, http.StatusOK, map[string]any{
		"workflows": out,
		"total":     len(out),
	})
}

// Delete handles DELETE /api/v1/workflows/{id}.
func (h *DefinitionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	id := chi.URLParam(r, "id")

	if err := h.store.DeleteDefinition(ctx, id); err != nil {
		response.HandleError(w, err, requestID)
		return
	}

	response.JSON(w, http.StatusOK, map[string]string{"message": "workflow deleted"})
}

// validateSteps runs the DAG checks that SaveDefinition alone cannot catch:
// duplicate IDs, unknown dependencies and cycles.
func validateSteps(steps []*dag.Step) error {
	resolver, err := dag.NewResolver(steps)
	if err != nil {
		return err
	}
	return resolver.Validate()
}

func definitionResponse(def *storage.WorkflowDefinition) models.DefinitionResponse {
	return models.DefinitionResponse{
		ID:        def.ID,
		Name:      def.Name,
		Version:   def.Version,
		Steps:     def.Steps,
		Params:    def.Params,
		Settings:  def.Settings,
		CreatedAt: def.CreatedAt,
		UpdatedAt: def.UpdatedAt,
	}
}
