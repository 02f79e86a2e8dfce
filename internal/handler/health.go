package handler

import (
	"net/http"
	"time"
)

// ConnectionChecker reports whether a dependency is reachable.
type ConnectionChecker interface {
	IsConnected() bool
}

// HealthHandler serves liveness and readiness probes. Readiness requires
// every registered dependency to be connected.
type HealthHandler struct {
	deps    map[string]ConnectionChecker
	started time.Time
}

// NewHealthHandler creates a health handler over the named dependencies.
// Nil checkers are ignored.
func NewHealthHandler(deps map[string]ConnectionChecker) *HealthHandler {
	h := &HealthHandler{
		deps:    make(map[string]ConnectionChecker, len(deps)),
		started: time.Now(),
	}
	for name, dep := range deps {
		if dep != nil {
			h.deps[name] = dep
		}
	}
	return h
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	components := make(map[string]string, len(h.deps))
	for name, dep := range h.deps {
		if dep.IsConnected() {
			components[name] = "up"
			continue
		}
		components[name] = "down"
		status = http.StatusServiceUnavailable
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not ready"
	}
	writeJSON(w, status, map[string]any{
		"status":     state,
		"components": components,
	})
}
