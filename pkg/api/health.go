package api

import (
	"net/http"

	"github.com/cuemby/bellhop/pkg/metrics"
)

// RegisterHealthRoutes adds the health, readiness, liveness and metrics
// endpoints to mux. Other methods get 405 from the mux.
func RegisterHealthRoutes(mux *http.ServeMux, version string) {
	metrics.SetVersion(version)

	mux.Handle("GET /health", metrics.HealthHandler())
	mux.Handle("GET /ready", metrics.ReadyHandler())
	mux.Handle("GET /live", metrics.LivenessHandler())
	mux.Handle("GET /metrics", metrics.Handler())
}
