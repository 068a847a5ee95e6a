// Package handlers implements the HTTP plane's request handlers.
package handlers

import (
	"context"
	"net/http"
)

// Pinger reports storage backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SessionCounter reports live session counts for the health detail payload.
type SessionCounter interface {
	ActiveSessions() []string
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	store    Pinger
	registry SessionCounter
}

// NewHealthHandler creates a health handler. Either dependency may be nil,
// in which case the corresponding check is skipped.
func NewHealthHandler(store Pinger, registry SessionCounter) *HealthHandler {
	return &HealthHandler{store: store, registry: registry}
}

// Liveness reports that the process is up. Always 200.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "sharethings",
	}))
}

// Readiness reports whether the storage backend is reachable.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, unhealthyResponse("storage backend unavailable"))
			return
		}
	}

	data := map[string]any{"storage": "ok"}
	if h.registry != nil {
		data["activeSessions"] = len(h.registry.ActiveSessions())
	}
	WriteJSON(w, http.StatusOK, healthyResponse(data))
}
