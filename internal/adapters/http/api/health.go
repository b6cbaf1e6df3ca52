package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/stablezoo/pkg/metrics"
)

// Health states.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Status is the body of GET /health.
type Status struct {
	Status            string    `json:"status"`
	Timestamp         time.Time `json:"timestamp"`
	Services          Services  `json:"services"`
	MessagesProcessed uint64    `json:"messages_processed"`
}

// Services reports each dependency.
type Services struct {
	Upstream  UpstreamStatus  `json:"upstream"`
	WebSocket WebSocketStatus `json:"websocket"`
}

// UpstreamStatus reports the stream connection.
type UpstreamStatus struct {
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`
}

// WebSocketStatus reports client activity.
type WebSocketStatus struct {
	ConnectedClients int `json:"connected_clients"`
	ActiveSessions   int `json:"active_sessions"`
}

// StatusProvider reports service health.
type StatusProvider interface {
	Status(ctx context.Context) Status
}

// HealthHandler serves health and metrics.
type HealthHandler struct {
	status  StatusProvider
	metrics http.Handler
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(status StatusProvider) *HealthHandler {
	return &HealthHandler{
		status:  status,
		metrics: promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}),
	}
}

// HandleStatus handles GET /health. An unhealthy service answers 503.
func (h *HealthHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	st := h.status.Status(r.Context())
	code := http.StatusOK
	if st.Status != StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}

// HandleMetrics handles GET /healthz with the Prometheus exposition.
func (h *HealthHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	h.metrics.ServeHTTP(w, r)
}
