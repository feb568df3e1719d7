package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 5 * time.Second

// Pinger verifies a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectionState reports whether the event stream is open.
type ConnectionState interface {
	IsConnected() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	db     Pinger
	stream ConnectionState
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(db Pinger, stream ConnectionState) *HealthHandler {
	return &HealthHandler{db: db, stream: stream}
}

// Health returns the health status of the API and its dependencies. A closed
// event stream degrades the status but does not fail the check, since the
// tracker reconnects on its own.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "unhealthy"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.stream.IsConnected() {
		checks["event_stream"] = "connected"
	} else {
		checks["event_stream"] = "disconnected"
		if statusCode == http.StatusOK {
			status["status"] = "degraded"
		}
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
