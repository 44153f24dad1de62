package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/videojobs/internal/api/middleware"
	"github.com/kiranshivaraju/videojobs/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler     http.HandlerFunc
	CreateJobHandler  http.HandlerFunc
	ListJobsHandler   http.HandlerFunc
	GetJobHandler     http.HandlerFunc
	JobStatusHandler  http.HandlerFunc
	PreviewHandler    http.HandlerFunc
	ApproveHandler    http.HandlerFunc
	RejectHandler     http.HandlerFunc
	RegenerateHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", orNotImplemented(deps.HealthHandler))

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.Authenticate)
			r.Use(deps.RateLimit.Limit)

			r.Route("/video-jobs", func(r chi.Router) {
				r.Post("/", orNotImplemented(deps.CreateJobHandler))
				r.Get("/", orNotImplemented(deps.ListJobsHandler))

				r.Route("/{jobID}", func(r chi.Router) {
					r.Get("/", orNotImplemented(deps.GetJobHandler))
					r.Get("/status", orNotImplemented(deps.JobStatusHandler))
					r.Get("/preview", orNotImplemented(deps.PreviewHandler))
					r.Post("/approve", orNotImplemented(deps.ApproveHandler))
					r.Post("/reject", orNotImplemented(deps.RejectHandler))
					r.Post("/regenerate", orNotImplemented(deps.RegenerateHandler))
				})
			})
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
