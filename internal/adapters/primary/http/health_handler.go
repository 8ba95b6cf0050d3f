package http

import (
	"context"
	"net/http"
	"runtime"
	"time"
)

// HealthChecker defines the interface for health check dependencies
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check requests
type HealthHandler struct {
	store     HealthChecker
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler. store may be nil when the
// event history is disabled.
func NewHealthHandler(store HealthChecker, version string) *HealthHandler {
	return &HealthHandler{
		store:     store,
		startTime: time.Now(),
		version:   version,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	UptimeSecs int64  `json:"uptimeSeconds"`
	Goroutines int    `json:"goroutines"`
}

// HandleHealth reports overall process health.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:     "ok",
		Version:    h.version,
		UptimeSecs: int64(time.Since(h.startTime).Seconds()),
		Goroutines: runtime.NumGoroutine(),
	})
}

// HandleLiveness is a trivial liveness probe.
func (h *HealthHandler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HandleReadiness checks the event store when one is attached.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
