package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/memorybook/internal/web/handlers"
	"github.com/kozaktomas/memorybook/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	// Create handlers
	jobsHandler := handlers.NewJobsHandler(s.jobManager, s.logger)
	themesHandler := handlers.NewThemesHandler()
	configHandler := handlers.NewConfigHandler(s.config)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireToken(s.config.Web.APIToken))

		// Short requests; event streams and artifacts are exempt
		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(30 * time.Second))

			r.Get("/config", configHandler.Get)

			r.Get("/themes", themesHandler.List)
			r.Get("/themes/{themeId}", themesHandler.Get)
			r.Post("/themes/validate", themesHandler.Validate)

			r.Post("/jobs", jobsHandler.Create)
			r.Get("/jobs", jobsHandler.List)
			r.Get("/jobs/{jobId}", jobsHandler.Get)
			r.Delete("/jobs/{jobId}", jobsHandler.Delete)
			r.Post("/jobs/{jobId}/resume", jobsHandler.Resume)
		})

		r.Get("/jobs/{jobId}/events", jobsHandler.Events)
		r.Get("/jobs/{jobId}/artifact", jobsHandler.Artifact)
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error": "not found"}`))
	})
}
