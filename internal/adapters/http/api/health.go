package api

import (
	"context"
	"net/http"

	"github.com/okian/perception/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SessionCounter reports how many sessions are tracked.
type SessionCounter interface {
	SessionCount(ctx context.Context) (int, error)
}

// HealthHandler handles health check and metrics requests.
type HealthHandler struct {
	sessions SessionCounter
	metrics  http.Handler
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(sessions SessionCounter) *HealthHandler {
	return &HealthHandler{
		sessions: sessions,
		metrics:  promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}),
	}
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// HandleHealth handles GET /health requests.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	n, err := h.sessions.SessionCount(r.Context())
	if err != nil {
		writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Sessions: n})
}

// HandleMetrics serves the custom Prometheus registry.
func (h *HealthHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	h.metrics.ServeHTTP(w, r)
}
