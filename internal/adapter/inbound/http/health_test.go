package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/enteecaay/BloodDonation-prototype/internal/adapter/outbound/memory"
	"github.com/enteecaay/BloodDonation-prototype/internal/domain/auth"
)

// discardLogger returns a logger that discards all output (for tests)
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixedCounter int

func (c fixedCounter) Len() int { return int(c) }

// brokenProfileStore fails every call.
type brokenProfileStore struct{}

var errStoreDown = errors.New("store down")

func (brokenProfileStore) GetProfile(context.Context, string) (*auth.Profile, error) {
	return nil, errStoreDown
}
func (brokenProfileStore) CreateProfile(context.Context, *auth.Profile) error { return errStoreDown }
func (brokenProfileStore) UpdateProfile(context.Context, *auth.Profile) error { return errStoreDown }
func (brokenProfileStore) ListProfiles(context.Context) ([]auth.Profile, error) {
	return nil, errStoreDown
}

func TestHealthChecker_Healthy(t *testing.T) {
	hc := NewHealthChecker(fixedCounter(3), memory.NewProfileStore(), "test-version")

	health := hc.Check(context.Background())

	if health.Status != "ok" {
		t.Errorf("Status = %q, want ok", health.Status)
	}
	if health.Version != "test-version" {
		t.Errorf("Version = %q, want test-version", health.Version)
	}
	if health.Checks["sessions"] != "3" {
		t.Errorf("sessions check = %q, want 3", health.Checks["sessions"])
	}
	if health.Checks["profile_store"] != "ok" {
		t.Errorf("profile_store check = %q, want ok", health.Checks["profile_store"])
	}
}

func TestHealthChecker_NilComponents(t *testing.T) {
	hc := NewHealthChecker(nil, nil, "")
	health := hc.Check(context.Background())

	if health.Status != "ok" {
		t.Errorf("Status = %q, want ok", health.Status)
	}
	if health.Checks["sessions"] != "not configured" {
		t.Errorf("sessions = %q, want 'not configured'", health.Checks["sessions"])
	}
	if health.Checks["profile_store"] != "not configured" {
		t.Errorf("profile_store = %q, want 'not configured'", health.Checks["profile_store"])
	}
	if health.Checks["goroutines"] == "" || health.Checks["goroutines"] == "0" {
		t.Errorf("goroutines = %q, want a positive count", health.Checks["goroutines"])
	}
}

func TestHealthChecker_Handler(t *testing.T) {
	tests := []struct {
		name       string
		profiles   auth.ProfileStore
		wantCode   int
		wantStatus string
	}{
		{name: "healthy", profiles: memory.NewProfileStore(), wantCode: http.StatusOK, wantStatus: "ok"},
		{name: "profile store down", profiles: brokenProfileStore{}, wantCode: http.StatusServiceUnavailable, wantStatus: "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker(fixedCounter(0), tt.profiles, "1.0.0")

			rec := httptest.NewRecorder()
			hc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", rec.Code, tt.wantCode)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}

			var resp HealthResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantStatus)
			}
			if resp.Version != "1.0.0" {
				t.Errorf("version = %q, want 1.0.0", resp.Version)
			}
		})
	}
}
