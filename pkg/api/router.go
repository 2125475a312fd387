// Package api provides the HTTP surface of the control plane.
package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/flowforge/flowforge/config"
	"github.com/flowforge/flowforge/pkg/api/handlers"
	"github.com/flowforge/flowforge/pkg/api/middleware"
	"github.com/flowforge/flowforge/pkg/logger"
)

// Handlers holds all HTTP handlers.
type Handlers struct {
	// Definitions handles workflow definition endpoints.
	Definitions *handlers.DefinitionHandler

	// Executions handles execution and event-delivery endpoints.
	Executions *handlers.ExecutionHandler

	// Schedules handles schedule management endpoints.
	Schedules *handlers.ScheduleHandler

	// Health handles health check endpoints.
	Health *handlers.HealthHandler

	// WebSocket streams lifecycle events to clients.
	WebSocket *handlers.WebSocketHandler

	// Metrics is the optional metrics recorder.
	Metrics middleware.MetricsRecorder
}

// NewRouter creates a chi router with middleware and routes.
func NewRouter(cfg *config.Config, log logger.Logger, handlers *Handlers) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	if handlers.Metrics != nil {
		r.Use(middleware.Metrics(handlers.Metrics))
	}
	if cfg.Tracing.Enabled {
		r.Use(middleware.Tracing(middleware.DefaultTracingOptions()))
	}

	r.Use(middleware.CORS(&cfg.Server.CORS))
	r.Use(middleware.Timeout(cfg.Server.HTTP.ReadTimeout))

	RegisterRoutes(r, handlers)

	return r
}

// RegisterRoutes registers all API routes.
func RegisterRoutes(r chi.Router, handlers *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		if handlers.Definitions != nil {
			r.Route("/workflows", func(r chi.Router) {
				r.Post("/", handlers.Definitions.Create)
				r.Get("/", handlers.Definitions.List)
				r.Get("/{id}", handlers.Definitions.Get)
				r.Delete("/{id}", handlers.Definitions.Delete)
				if handlers.Executions != nil {
					r.Post("/{id}/trigger", handlers.Executions.Trigger)
				}
			})
		}

		if handlers.Executions != nil {
			r.Route("/executions", func(r chi.Router) {
				r.Get("/", handlers.Executions.List)
				r.Get("/{id}", handlers.Executions.Get)
				r.Post("/{id}/interrupt", handlers.Executions.Interrupt)
				r.Get("/{id}/events", handlers.Executions.Progress)
				r.Post("/{id}/subscriptions", handlers.Executions.Subscribe)
			})

			// Callback surface for external systems resuming suspended steps.
			r.Post("/events/{externalWorkflowID}", handlers.Executions.DeliverEvent)
		}

		if handlers.Schedules != nil {
			r.Route("/schedules", func(r chi.Router) {
				r.Post("/", handlers.Schedules.Create)
				r.Get("/", handlers.Schedules.List)
				r.Get("/{id}", handlers.Schedules.Get)
				r.Put("/{id}", handlers.Schedules.Update)
				r.Delete("/{id}", handlers.Schedules.Delete)
			})
		}
	})

	if handlers.WebSocket != nil {
		r.Get("/ws", handlers.WebSocket.ServeHTTP)
	}

	// Health check routes (not versioned)
	if handlers.Health != nil {
		r.Get("/health", handlers.Health.Health)
		r.Get("/ready", handlers.Health.Ready)
	}
}
