package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/driveimport/internal/api/middleware"
	"github.com/kiranshivaraju/driveimport/internal/api/response"
)

// Dependencies holds the handlers and middleware for the router. A nil handler
// means the route is not served by this process role and answers 501.
type Dependencies struct {
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	SubmitImportHandler http.HandlerFunc
	ImportStatusHandler http.HandlerFunc
	UpdateStatusHandler http.HandlerFunc

	AcceptBatchHandler http.HandlerFunc
	ProcessItemHandler http.HandlerFunc

	ListImagesHandler  http.HandlerFunc
	AllImagesHandler   http.HandlerFunc
	GetImageHandler    http.HandlerFunc
	CreateImageHandler http.HandlerFunc
	DeleteImageHandler http.HandlerFunc
	StatsHandler       http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Service-to-service routes, never rate limited.
	r.Post("/api/v1/import/update-status", orNotImplemented(deps.UpdateStatusHandler))
	r.Post("/api/v1/worker/batches", orNotImplemented(deps.AcceptBatchHandler))
	r.Post("/api/v1/worker/items", orNotImplemented(deps.ProcessItemHandler))

	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Post("/api/v1/import/google-drive", orNotImplemented(deps.SubmitImportHandler))
		r.Get("/api/v1/import/status/{jobID}", orNotImplemented(deps.ImportStatusHandler))

		r.Get("/api/v1/images", orNotImplemented(deps.ListImagesHandler))
		r.Get("/api/v1/images/all", orNotImplemented(deps.AllImagesHandler))
		r.Post("/api/v1/images", orNotImplemented(deps.CreateImageHandler))
		r.Get("/api/v1/images/{imageID}", orNotImplemented(deps.GetImageHandler))
		r.Delete("/api/v1/images/{imageID}", orNotImplemented(deps.DeleteImageHandler))

		r.Get("/api/v1/stats", orNotImplemented(deps.StatsHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not served by this instance", nil)
	}
}
