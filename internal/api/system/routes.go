// Package system provides the health, readiness and version endpoints.
package system

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ledgerkit/devicesync/internal/api/common"
	"github.com/ledgerkit/devicesync/internal/versions"
)

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse is the body of GET /readiness
type ReadinessResponse struct {
	Status string `json:"status"`
}

// ReadinessChecker reports whether the service can serve requests
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// ReadinessFunc adapts a function to ReadinessChecker
type ReadinessFunc func(ctx context.Context) error

// CheckReadiness calls f
func (f ReadinessFunc) CheckReadiness(ctx context.Context) error {
	return f(ctx)
}

// HealthRouter creates a router for health check endpoints
func HealthRouter(checker ReadinessChecker) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", healthHandler)
	r.Get("/readiness", readinessHandler(checker))
	r.Get("/version", versionHandler)

	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, HealthResponse{Status: "healthy"}, http.StatusOK)
}

func readinessHandler(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.CheckReadiness(r.Context()); err != nil {
				common.WriteErrorResponse(w, "Sync engine not ready: "+err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		common.WriteJSONResponse(w, ReadinessResponse{Status: "ready"}, http.StatusOK)
	}
}

func versionHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, versions.GetVersionInfo(), http.StatusOK)
}
