package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-monitor/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.rateLimitMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metrics != nil {
		r.Handle(s.metricsPath, s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system", s.handleSystemStatus)

		r.Route("/tags", func(r chi.Router) {
			r.Get("/", s.handleListTags)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetTag)
				r.Get("/history", s.handleTagHistory)

				r.Group(func(r chi.Router) {
					r.Use(s.authMiddleware)
					r.Use(requirePermission(auth.PermTagConfigure))
					r.Put("/", s.handlePutTag)
					r.Delete("/", s.handleDeleteTag)
				})
			})
		})

		r.Route("/supervision/{family}", func(r chi.Router) {
			r.Get("/", s.handleListEntities)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetEntity)

				r.Group(func(r chi.Router) {
					r.Use(s.authMiddleware)
					r.Use(requirePermission(auth.PermSupervisionAdmin))
					r.Post("/start", s.handleStartEntity)
					r.Post("/stop", s.handleStopEntity)
				})
			})
		})

		r.Route("/commands/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetCommand)

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.Use(requirePermission(auth.PermCommandExecute))
				r.Post("/execute", s.handleExecuteCommand)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Use(requirePermission(auth.PermAuditRead))
			r.Get("/audit", s.handleListAudit)
		})

		r.Get(s.wsPath(), s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
