package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/enteecaay/BloodDonation-prototype/internal/domain/auth"
)

// healthCheckTimeout bounds the profile store check.
const healthCheckTimeout = 2 * time.Second

// HealthResponse is the JSON response from the /healthz endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`            // "ok" or "unhealthy"
	Checks  map[string]string `json:"checks,omitempty"`  // Component check results
	Version string            `json:"version,omitempty"` // Optional version info
}

// SessionCounter reports the number of live sessions.
type SessionCounter interface {
	Len() int
}

// HealthChecker verifies component health.
type HealthChecker struct {
	sessions SessionCounter
	profiles auth.ProfileStore
	version  string
}

// NewHealthChecker creates a HealthChecker with optional components.
// Pass nil for components that aren't available.
func NewHealthChecker(sessions SessionCounter, profiles auth.ProfileStore, version string) *HealthChecker {
	return &HealthChecker{
		sessions: sessions,
		profiles: profiles,
		version:  version,
	}
}

// Check performs health checks on all components.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.sessions != nil {
		checks["sessions"] = fmt.Sprintf("%d", h.sessions.Len())
	} else {
		checks["sessions"] = "not configured"
	}

	if h.profiles != nil {
		ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		defer cancel()
		if _, err := h.profiles.ListProfiles(ctx); err != nil {
			checks["profile_store"] = "error: " + err.Error()
			healthy = false
		} else {
			checks["profile_store"] = "ok"
		}
	} else {
		checks["profile_store"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "ok"
	if !healthy {
		status = "unhealthy"
	}

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())

		status := http.StatusOK
		if health.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, health)
	})
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
