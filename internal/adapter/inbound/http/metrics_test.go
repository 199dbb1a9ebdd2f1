package http

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/enteecaay/BloodDonation-prototype/internal/domain/auth"
	"github.com/enteecaay/BloodDonation-prototype/internal/domain/session"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	if m.RequestsTotal == nil {
		t.Error("RequestsTotal not initialized")
	}
	if m.RequestDuration == nil {
		t.Error("RequestDuration not initialized")
	}
	if m.ActiveSessions == nil {
		t.Error("ActiveSessions not initialized")
	}
	if m.LoginAttempts == nil {
		t.Error("LoginAttempts not initialized")
	}
	if m.Logouts == nil {
		t.Error("Logouts not initialized")
	}
	if m.SessionTransitions == nil {
		t.Error("SessionTransitions not initialized")
	}
	if m.GuardDecisions == nil {
		t.Error("GuardDecisions not initialized")
	}
	if m.LoginThrottled == nil {
		t.Error("LoginThrottled not initialized")
	}
}

func TestMetrics_SessionRecorder(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordLogin("fixture", auth.FailureNone)
	m.RecordLogin("fixture", auth.FailureNone)
	m.RecordLogin("fixture", auth.FailureAccountSuspended)
	m.RecordLogout("fixture")
	m.RecordTransition(session.StateGuest, session.StateAuthenticating)
	m.SetActiveSessions(4)

	if got := testutil.ToFloat64(m.LoginAttempts.WithLabelValues("fixture", "success")); got != 2 {
		t.Errorf("login successes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.LoginAttempts.WithLabelValues("fixture", "account_suspended")); got != 1 {
		t.Errorf("suspended logins = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Logouts.WithLabelValues("fixture")); got != 1 {
		t.Errorf("logouts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SessionTransitions.WithLabelValues("guest", "authenticating")); got != 1 {
		t.Errorf("transitions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ActiveSessions); got != 4 {
		t.Errorf("ActiveSessions = %v, want 4", got)
	}
}

func TestMetricsRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RequestsTotal.WithLabelValues("POST", "/api/session/login", "2xx").Inc()
	if count := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("POST", "/api/session/login", "2xx")); count != 1 {
		t.Errorf("RequestsTotal = %v, want 1", count)
	}

	m.RequestDuration.WithLabelValues("POST", "/api/session/login").Observe(0.1)
	gathered, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range gathered {
		if strings.Contains(mf.GetName(), "request_duration") {
			found = true
			break
		}
	}
	if !found {
		t.Error("request_duration histogram not found in gathered metrics")
	}
}
