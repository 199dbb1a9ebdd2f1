package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/enteecaay/BloodDonation-prototype/internal/domain/auth"
	"github.com/enteecaay/BloodDonation-prototype/internal/domain/session"
)

// Metrics holds all Prometheus metrics for BloodConnect.
// It also serves as the session.Recorder of every Manager.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	ActiveSessions     prometheus.Gauge
	LoginAttempts      *prometheus.CounterVec
	Logouts            *prometheus.CounterVec
	SessionTransitions *prometheus.CounterVec
	GuardDecisions     *prometheus.CounterVec
	LoginThrottled     *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bloodconnect",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "route", "code"}, // code=2xx/3xx/4xx/5xx
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "bloodconnect",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		ActiveSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "bloodconnect",
				Name:      "active_sessions",
				Help:      "Number of live client sessions",
			},
		),
		LoginAttempts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bloodconnect",
				Name:      "login_attempts_total",
				Help:      "Completed login attempts by provider and outcome",
			},
			[]string{"provider", "outcome"}, // outcome=success or a failure kind
		),
		Logouts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bloodconnect",
				Name:      "logouts_total",
				Help:      "Total logouts by provider",
			},
			[]string{"provider"},
		),
		SessionTransitions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bloodconnect",
				Name:      "session_transitions_total",
				Help:      "Session state transitions",
			},
			[]string{"from", "to"},
		),
		GuardDecisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bloodconnect",
				Name:      "guard_decisions_total",
				Help:      "Route guard decisions by outcome",
			},
			[]string{"outcome"}, // outcome=wait/allow/redirect
		),
		LoginThrottled: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bloodconnect",
				Name:      "login_throttled_total",
				Help:      "Login attempts refused by the rate limiter",
			},
			[]string{"key_type"}, // key_type=ip/email
		),
	}
}

// RecordLogin implements session.Recorder.
func (m *Metrics) RecordLogin(provider string, kind auth.FailureKind) {
	outcome := "success"
	if kind != auth.FailureNone {
		outcome = string(kind)
	}
	m.LoginAttempts.WithLabelValues(provider, outcome).Inc()
}

// RecordLogout implements session.Recorder.
func (m *Metrics) RecordLogout(provider string) {
	m.Logouts.WithLabelValues(provider).Inc()
}

// RecordTransition implements session.Recorder.
func (m *Metrics) RecordTransition(from, to session.State) {
	m.SessionTransitions.WithLabelValues(string(from), string(to)).Inc()
}

// SetActiveSessions is suitable as session.RegistryConfig.OnSizeChange.
func (m *Metrics) SetActiveSessions(n int) {
	m.ActiveSessions.Set(float64(n))
}

var _ session.Recorder = (*Metrics)(nil)
