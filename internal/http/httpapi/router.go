package httpapi

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"mediaforge/internal/http/handlers"
	"mediaforge/internal/middleware"
)

// NewRouter wires the HTTP API surface.
func NewRouter(app *handlers.App, logger zerolog.Logger) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer, middleware.Logger(logger))

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/generations", func(r chi.Router) {
		r.Use(middleware.Identity)
		r.Post("/", app.Generate)
		r.Get("/", app.ListJobs)
		r.Get("/{job_id}", app.JobStatus)
		r.Delete("/{job_id}", app.DeleteJob)
	})

	return r
}
