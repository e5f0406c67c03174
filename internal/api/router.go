// Package api exposes the producer and operator HTTP surface of renderq.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/renderq/internal/api/middleware"
	"github.com/kiranshivaraju/renderq/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.AdminAuth
	RateLimit *mw.RateLimit

	HealthHandler    http.HandlerFunc
	GetJobHandler    http.HandlerFunc
	JobEventsHandler http.HandlerFunc

	SubmitHandler        http.HandlerFunc
	SectionImagesHandler http.HandlerFunc
	RetryHandler         http.HandlerFunc
	ListJobsHandler      http.HandlerFunc
	RecoveryHandler      http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public: health and job polling
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))
	r.Get("/api/v1/jobs/{jobID}/events", orNotImplemented(deps.JobEventsHandler))

	// Admin routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/jobs", orNotImplemented(deps.SubmitHandler))
		r.Patch("/api/v1/jobs/{jobID}/section-images", orNotImplemented(deps.SectionImagesHandler))
		r.Post("/api/v1/jobs/{jobID}/retry", orNotImplemented(deps.RetryHandler))

		r.Get("/api/v1/admin/jobs", orNotImplemented(deps.ListJobsHandler))
		// Solo deployments leave this nil: there is no recovery to run.
		r.Post("/api/v1/admin/recovery", orNotImplemented(deps.RecoveryHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, response.CodeNotImplemented, "Endpoint not available in this deployment", nil)
	}
}
