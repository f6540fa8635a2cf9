// Package server assembles the HTTP surface of the gateway.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omniport-systems/omniport/internal/handlers"
	"github.com/omniport-systems/omniport/internal/middleware"
)

// NewRouter constructs the gateway's HTTP handler. The JSON metrics
// snapshot lives at /metrics; the Prometheus exposition endpoint is
// /metrics/prometheus.
func NewRouter(h *handlers.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ingest", h.Ingest)
	mux.HandleFunc("/metrics", h.Metrics)
	mux.Handle("/metrics/prometheus", promhttp.Handler())
	mux.HandleFunc("/dlq", h.DLQ)
	mux.HandleFunc("/dlq/process", h.DLQProcess)
	mux.HandleFunc("/circuits", h.Circuits)
	mux.HandleFunc("/circuits/", h.CircuitReset)
	mux.HandleFunc("/healthz", h.Healthz)
	mux.HandleFunc("/readyz", h.Readyz)

	return middleware.RequestID(mux)
}
