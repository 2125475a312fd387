package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/flowforge/flowforge/pkg/api/middleware"
	"github.com/flowforge/flowforge/pkg/api/models"
	"github.com/flowforge/flowforge/pkg/api/response"
	"github.com/flowforge/flowforge/pkg/engine"
	"github.com/flowforge/flowforge/pkg/logger"
	"github.com/flowforge/flowforge/pkg/progress"
	"github.com/flowforge/flowforge/pkg/storage"
)

const defaultListLimit = 20

// ExecutionHandler handles pipeline execution endpoints.
type ExecutionHandler struct {
	engine    *engine.Engine
	store     storage.Store
	progress  *progress.Aggregator
	logger    logger.Logger
	validator *validator.Validate
}

// NewExecutionHandler creates an execution handler.
func NewExecutionHandler(eng *engine.Engine, store storage.Store, agg *progress.Aggregator, log logger.Logger) *ExecutionHandler {
	return &ExecutionHandler{
		engine:    eng,
		store:     store,
		progress:  agg,
		logger:    log,
		validator: validator.New(),
	}
}

// Trigger handles POST /api/v1/workflows/{id}/trigger.
func (h *ExecutionHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	workflowID := chi.URLParam(r, "id")

	var req models.TriggerRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "invalid request body", requestID)
			return
		}
	}

	exec, err := h.engine.Trigger(ctx, workflowID, req.Params)
	if err != nil {
		var verr *engine.PipelineValidationError
		if errors.As(err, &verr) {
			response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), requestID)
			return
		}
		h.logger.ErrorContext(ctx, "trigger failed", "workflow_id", workflowID, "error", err)
		response.HandleError(w, err, requestID)
		return
	}

	response.JSON(w, http.StatusAccepted, models.ExecutionResponse{
		ID:           exec.ID,
		WorkflowID:   exec.WorkflowID,
		WorkflowName: exec.WorkflowName,
		Status:       string(exec.Status),
		Params:       exec.Params,
		CreatedAt:    exec.CreatedAt,
		StartedAt:    exec.StartedAt,
	})
}

// Get handles GET /api/v1/executions/{id}.
func (h *ExecutionHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	id := chi.URLParam(r, "id")

	exec, err := h.store.GetExecution(ctx, id)
	if err != nil {
		response.HandleError(w, err, requestID)
		return
	}

	steps, err := h.store.ListStepExecutions(ctx, id)
	if err != nil {
		h.logger.ErrorContext(ctx, "list step executions failed", "execution_id", id, "error", err)
		response.HandleError(w, err, requestID)
		return
	}

	resp := executionResponse(exec, steps)
	if !exec.Status.Terminal() {
		if snapshot, err := h.progress.Compute(ctx, id); err == nil {
			resp.ProgressPercentage = snapshot.Percentage
			resp.ETASeconds = snapshot.ETASeconds
		}
	}

	response.JSON(w, http.StatusOK, resp)
}

// List handles GET /api/v1/executions.
func (h *ExecutionHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	filter := &storage.ExecutionFilter{Limit: defaultListLimit}
	for _, raw := range strings.Split(r.URL.Query().Get("status"), ",") {
		if s := strings.TrimSpace(raw); s != "" {
			filter.Status = append(filter.Status, storage.ExecutionStatus(strings.ToUpper(s)))
		}
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}

	execs, total, err := h.store.ListExecutions(ctx, filter)
	if err != nil {
		h.logger.ErrorContext(ctx, "list executions failed", "error", err)
		response.HandleError(w, err, requestID)
		return
	}

	summaries := make([]models.ExecutionSummary, 0, len(execs))
	for _, exec := range execs {
		summaries = append(summaries, models.ExecutionSummary{
			ID:                 exec.ID,
			WorkflowID:         exec.WorkflowID,
			WorkflowName:       exec.WorkflowName,
			Status:             string(exec.Status),
			ProgressPercentage: exec.ProgressPercentage,
			CreatedAt:          exec.CreatedAt,
			CompletedAt:        exec.CompletedAt,
			StepCount:          len(exec.Steps),
		})
	}

	response.JSON(w, http.StatusOK, models.ExecutionListResponse{
		Executions: summaries,
		Total:      total,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	})
}

// Interrupt handles POST /api/v1/executions/{id}/interrupt.
func (h *ExecutionHandler) Interrupt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	id := chi.URLParam(r, "id")

	if err := h.engine.Interrupt(ctx, id); err != nil {
		var notRunning *engine.ExecutionNotRunningError
		if errors.As(err, &notRunning) {
			response.Error(w, http.StatusConflict, response.ErrCodeConflict, err.Error(), requestID)
			return
		}
		response.HandleError(w, err, requestID)
		return
	}

	response.JSON(w, http.StatusAccepted, map[string]string{"message": "interrupt requested"})
}

// Progress handles GET /api/v1/executions/{id}/events.
func (h *ExecutionHandler) Progress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	id := chi.URLParam(r, "id")

	if _, err := h.store.GetExecution(ctx, id); err != nil {
		response.HandleError(w, err, requestID)
		return
	}

	events, err := h.store.ListProgressEvents(ctx, id)
	if err != nil {
		response.HandleError(w, err, requestID)
		return
	}

	out := make([]models.ProgressEventView, 0, len(events))
	for _, ev := range events {
		out = append(out, models.ProgressEventView{
			SequenceNumber:     ev.SequenceNumber,
			EventType:          ev.EventType,
			ProgressPercentage: ev.ProgressPercentage,
			ETASeconds:         ev.ETASeconds,
			Payload:            ev.Payload,
			CreatedAt:          ev.CreatedAt,
		})
	}

	response.JSON(w, http.StatusOK, map[string]any{
		"execution_id": id,
		"events":       out,
	})
}

// Subscribe handles POST /api/v1/executions/{id}/subscriptions.
func (h *ExecutionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	id := chi.URLParam(r, "id")

	if _, err := h.store.GetExecution(ctx, id); err != nil {
		response.HandleError(w, err, requestID)
		return
	}

	var req struct {
		Target string `json:"target" validate:"required,min=1,max=500"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "invalid request body", requestID)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), requestID)
		return
	}

	sub := &storage.Subscription{
		ID:          uuid.New().String(),
		ExecutionID: id,
		Target:      req.Target,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.store.CreateSubscription(ctx, sub); err != nil {
		response.HandleError(w, err, requestID)
		return
	}

	response.JSON(w, http.StatusCreated, sub)
}

// DeliverEvent handles POST /api/v1/events/{externalWorkflowID}. It resumes
// the suspended step correlated with the external workflow ID.
func (h *ExecutionHandler) DeliverEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	externalWorkflowID := chi.URLParam(r, "externalWorkflowID")

	var req models.EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "invalid request body", requestID)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), requestID)
		return
	}

	if err := h.engine.HandleEvent(ctx, externalWorkflowID, req.EventType, req.Data); err != nil {
		response.HandleError(w, err, requestID)
		return
	}

	response.JSON(w, http.StatusAccepted, map[string]string{
		"message":              "event accepted",
		"external_workflow_id": externalWorkflowID,
	})
}

func executionResponse(exec *storage.PipelineExecution, steps []*storage.StepExecution) models.ExecutionResponse {
	views := make([]models.StepView, 0, len(steps))
	for _, s := range steps {
		views = append(views, models.StepView{
			StepID:             s.StepID,
			Status:             string(s.Status),
			ProgressPercentage: s.ProgressPercentage,
			Outputs:            s.Outputs,
			Error:              s.Error,
			RetryCount:         s.RetryCount,
			ExternalWorkflowID: s.ExternalWorkflowID,
			TimeoutDeadline:    s.TimeoutDeadline,
			StartTime:          s.StartTime,
			EndTime:            s.EndTime,
		})
	}

	return models.ExecutionResponse{
		ID:                 exec.ID,
		WorkflowID:         exec.WorkflowID,
		WorkflowName:       exec.WorkflowName,
		Status:             string(exec.Status),
		ProgressPercentage: exec.ProgressPercentage,
		Params:             exec.Params,
		FinalOutputs:       exec.FinalOutputs,
		Error:              exec.ErrorInfo,
		CreatedAt:          exec.CreatedAt,
		StartedAt:          exec.StartedAt,
		CompletedAt:        exec.CompletedAt,
		Steps:              views,
	}
}
