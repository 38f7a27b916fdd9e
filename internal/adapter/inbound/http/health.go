package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"

	"github.com/Sentinel-Gate/sentinel-bridge/internal/service"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"` // "healthy" or "unhealthy"
	State   string            `json:"state,omitempty"`
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
	Session *service.Stats    `json:"session,omitempty"`
}

// HealthChecker reports bridge and observer health.
type HealthChecker struct {
	observer ObserverStats
	state    func() string
	breaker  func() string
	stats    func() service.Stats
	version  string
}

// NewHealthChecker creates a HealthChecker. Any argument may be nil.
func NewHealthChecker(observer ObserverStats, state, breaker func() string, version string) *HealthChecker {
	return &HealthChecker{
		observer: observer,
		state:    state,
		breaker:  breaker,
		version:  version,
	}
}

// WithSessionStats adds the session counters to every report.
func (h *HealthChecker) WithSessionStats(stats func() service.Stats) *HealthChecker {
	h.stats = stats
	return h
}

// Check performs health checks on all components.
func (h *HealthChecker) Check() HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.observer != nil {
		depth := h.observer.ChannelDepth()
		capacity := h.observer.ChannelCapacity()
		percentFull := 0
		if capacity > 0 {
			percentFull = depth * 100 / capacity
		}
		if percentFull > 90 {
			checks["observer"] = fmt.Sprintf("degraded: %d/%d (%d%%)", depth, capacity, percentFull)
			healthy = false
		} else {
			checks["observer"] = fmt.Sprintf("ok: %d/%d (%d%%)", depth, capacity, percentFull)
		}
		if drops := h.observer.DroppedEvents(); drops > 0 {
			checks["observer_drops"] = fmt.Sprintf("%d dropped", drops)
		}
	} else {
		checks["observer"] = "not configured"
	}

	if h.breaker != nil {
		state := h.breaker()
		checks["gateway_breaker"] = state
		if state == "open" {
			healthy = false
		}
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	resp := HealthResponse{
		Status:  "healthy",
		Checks:  checks,
		Version: h.version,
	}
	if !healthy {
		resp.Status = "unhealthy"
	}
	if h.state != nil {
		resp.State = h.state()
	}
	if h.stats != nil {
		stats := h.stats()
		resp.Session = &stats
	}
	return resp
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check()

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
}
