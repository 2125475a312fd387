package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/flowforge/flowforge/pkg/api/middleware"
	"github.com/flowforge/flowforge/pkg/api/models"
	"github.com/flowforge/flowforge/pkg/api/response"
	"github.com/flowforge/flowforge/pkg/cron"
	"github.com/flowforge/flowforge/pkg/logger"
	"github.com/flowforge/flowforge/pkg/storage"
)

// ScheduleHandler handles schedule management endpoints.
type ScheduleHandler struct {
	store     storage.Store
	logger    logger.Logger
	validator *validator.Validate
	now       func() time.Time
}

// NewScheduleHandler creates a schedule handler.
func NewScheduleHandler(store storage.Store, log logger.Logger) *ScheduleHandler {
	return &ScheduleHandler{
		store:     store,
		logger:    log,
		validator: validator.New(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create handles POST /api/v1/schedules.
func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req models.ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "invalid request body", requestID)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), requestID)
		return
	}

	if _, err := h.store.GetDefinition(ctx, req.WorkflowID); err != nil {
		response.HandleError(w, err, requestID)
		return
	}

	now := h.now()
	nextRun, err := computeNextRun(storage.ScheduleType(req.Type), req.Expression, req.Timezone, now)
	if err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), requestID)
		return
	}

	sched := &storage.Schedule{
		ID:         uuid.New().String(),
		Name:       req.Name,
		WorkflowID: req.WorkflowID,
		Type:       storage.ScheduleType(req.Type),
		Expression: req.Expression,
		Timezone:   req.Timezone,
		NextRunAt:  nextRun,
		Enabled:    req.Enabled,
		Status:     storage.ScheduleStatusActive,
		ExpiresAt:  req.ExpiresAt,
		MaxRuns:    req.MaxRuns,
		Params:     req.Params,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
	}

	if err := h.store.SaveSchedule(ctx, sched); err != nil {
		h.logger.ErrorContext(ctx, "save schedule failed", "schedule_id", sched.ID, "error", err)
		response.HandleError(w, err, requestID)
		return
	}

	h.logger.InfoContext(ctx, "schedule created",
		"schedule_id", sched.ID, "workflow_id", sched.WorkflowID, "type", sched.Type)
	response.JSON(w, http.StatusCreated, scheduleResponse(sched))
}

// Get handles GET /api/v1/schedules/{id}.
func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	sched, err := h.store.GetSchedule(ctx, chi.URLParam(r, "id"))
	if err != nil {
		response.HandleError(w, err, requestID)
		return
	}

	response.JSON(w, http.StatusOK, scheduleResponse(sched))
}

// List handles GET /api/v1/schedules.
func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	scheds, err := h.store.ListSchedules(ctx)
	if err != nil {
		response.HandleError(w, err, requestID)
		return
	}

	out := make([]models.ScheduleResponse, 0, len(scheds))
	for _, s := range scheds {
		out = append(out, scheduleResponse(s))
	}

	response.JSON(w, http.StatusOK, models.ScheduleListResponse{
		Schedules: out,
		Total:     len(out),
	})
}

// Update handles PUT /api/v1/schedules/{id}.
func (h *ScheduleHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	id := chi.URLParam(r, "id")

	sched, err := h.store.GetSchedule(ctx, id)
	if err != nil {
		response.HandleError(w, err, requestID)
		return
	}

	var req models.ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "invalid request body", requestID)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), requestID)
		return
	}

	now := h.now()
	nextRun, err := computeNextRun(storage.ScheduleType(req.Type), req.Expression, req.Timezone, now)
	if err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), requestID)
		return
	}

	sched.Name = req.Name
	sched.WorkflowID = req.WorkflowID
	sched.Type = storage.ScheduleType(req.Type)
	sched.Expression = req.Expression
	sched.Timezone = req.Timezone
	sched.NextRunAt = nextRun
	sched.Enabled = req.Enabled
	sched.ExpiresAt = req.ExpiresAt
	sched.MaxRuns = req.MaxRuns
	sched.Params = req.Params
	sched.UpdatedAt = now
	// A re-enabled or rescheduled entry becomes eligible again.
	if sched.Status != storage.ScheduleStatusActive && nextRun != nil {
		sched.Status = storage.ScheduleStatusActive
	}

	if err := h.store.SaveSchedule(ctx, sched); err != nil {
		response.HandleError(w, err, requestID)
		return
	}

	response.JSON(w, http.StatusOK, scheduleResponse(sched))
}

// Delete handles DELETE /api/v1/schedules/{id}.
func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	id := chi.URLParam(r, "id")

	if err := h.store.DeleteSchedule(ctx, id); err != nil {
		response.HandleError(w, err, requestID)
		return
	}

	h.logger.InfoContext(ctx, "schedule deleted", "schedule_id", id)
	response.JSON(w, http.StatusOK, map[string]string{"message": "schedule deleted"})
}

// computeNextRun validates the expression for the schedule type and returns
// the first run time at or after now. A nil result means the schedule will
// never fire again.
func computeNextRun(typ storage.ScheduleType, expr, tz string, now time.Time) (*time.Time, error) {
	switch typ {
	case storage.ScheduleCron:
		loc := time.UTC
		if tz != "" {
			var err error
			loc, err = time.LoadLocation(tz)
			if err != nil {
				return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
			}
		}
		ce, err := cron.ParseInLocation(expr, loc)
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression: %w", err)
		}
		next := ce.Next(now)
		if next.IsZero() {
			return nil, nil
		}
		return &next, nil

	case storage.ScheduleInterval:
		d, err := time.ParseDuration(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid interval: %w", err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("interval must be positive, got %s", expr)
		}
		next := now.Add(d)
		return &next, nil

	case storage.ScheduleOneTime:
		at, err := time.Parse(time.RFC3339, expr)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp, want RFC 3339: %w", err)
		}
		if at.Before(now) {
			return nil, fmt.Errorf("one-time schedule %s is in the past", expr)
		}
		return &at, nil

	default:
		return nil, fmt.Errorf("unknown schedule type %q", typ)
	}
}

func scheduleResponse(s *storage.Schedule) models.ScheduleResponse {
	return models.ScheduleResponse{
		ID:              s.ID,
		Name:            s.Name,
		WorkflowID:      s.WorkflowID,
		Type:            string(s.Type),
		Expression:      s.Expression,
		Timezone:        s.Timezone,
		NextRunAt:       s.NextRunAt,
		Enabled:         s.Enabled,
		Status:          s.Status,
		ExpiresAt:       s.ExpiresAt,
		MaxRuns:         s.MaxRuns,
		RunCount:        s.RunCount,
		Params:          s.Params,
		LastExecutionID: s.LastExecutionID,
		LastRunStatus:   s.LastRunStatus,
		LastRunAt:       s.LastRunAt,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}
