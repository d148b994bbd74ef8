// Package httpapi exposes the sidecar's debug HTTP surface: process
// health and Prometheus metrics. The stdio JSON-RPC loop in
// internal/dispatcher is the sidecar's only required interface; this
// router is an optional, best-effort side channel for operators and
// monitoring, never for protocol traffic.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/openvoicy/sidecar/internal/observability"
	"github.com/openvoicy/sidecar/internal/policy"
)

// Server serves the sidecar's debug endpoints.
type Server struct {
	metrics *observability.Metrics
	ready   func() bool
}

// New builds a Server. ready reports whether the ASR engine has
// finished initializing; it may be nil, in which case /readyz always
// reports ready.
func New(metrics *observability.Metrics, ready func() bool) *Server {
	return &Server{metrics: metrics, ready: ready}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/debug/env", s.handleDebugEnv)
	r.Get("/debug/stages", s.handleDebugStages)
	r.Handle("/metrics", observability.MetricsHandler())

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.ready != nil && !s.ready() {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// handleDebugEnv surfaces the process environment with secret-looking
// values masked, for diagnosing resource-resolution or config issues
// without ever leaking credentials over the debug surface.
func (s *Server) handleDebugEnv(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, policy.RedactedEnviron())
}

// handleDebugStages returns a point-in-time rolling-percentile view of
// named pipeline stages (recording_stop_to_terminal, model_download).
// The Prometheus histogram on /metrics covers long-term aggregation;
// this gives an operator a live snapshot without a PromQL query.
func (s *Server) handleDebugStages(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.SnapshotStages())
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
