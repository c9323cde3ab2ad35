package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/kiranshivaraju/driveimport/internal/api/response"
)

// Pinger is any dependency that can report its own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck names one dependency probed by the health endpoint.
type HealthCheck struct {
	Name   string
	Pinger Pinger
}

const healthTimeout = 3 * time.Second

// NewHealthHandler returns GET /api/v1/health.
func NewHealthHandler(checks ...HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		services := make(map[string]string, len(checks))
		degraded := false
		for _, c := range checks {
			services[c.Name] = "ok"
			if err := c.Pinger.Ping(ctx); err != nil {
				services[c.Name] = "degraded"
				degraded = true
			}
		}

		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", services)
			return
		}
		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": services,
		})
	}
}
