package http

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/enteecaay/BloodDonation-prototype/internal/domain/audit"
	"github.com/enteecaay/BloodDonation-prototype/internal/domain/auth"
	"github.com/enteecaay/BloodDonation-prototype/internal/domain/authz"
	"github.com/enteecaay/BloodDonation-prototype/internal/domain/ratelimit"
	"github.com/enteecaay/BloodDonation-prototype/internal/domain/session"
	"github.com/enteecaay/BloodDonation-prototype/internal/service"
)

// SessionCookieName carries the client session id.
const SessionCookieName = "bloodconnect_session"

// DefaultReadyTimeout bounds how long a request waits for session restoration.
const DefaultReadyTimeout = 15 * time.Second

// FixtureLookup resolves fixture identities by id.
type FixtureLookup interface {
	Lookup(id string) (auth.Identity, error)
}

// Server is the inbound HTTP adapter hosting one session.Manager per client.
type Server struct {
	registry *session.Registry
	guard    *authz.Guard
	profiles *service.ProfileService
	fixtures FixtureLookup
	audit    audit.Store

	limiter    ratelimit.Limiter
	loginLimit ratelimit.Config

	addr           string
	certFile       string
	keyFile        string
	allowedOrigins []string
	cookieSecure   bool
	readyTimeout   time.Duration
	upstream       *url.URL

	logger   *slog.Logger
	metrics  *Metrics
	gatherer prometheus.Gatherer
	health   *HealthChecker

	server *http.Server
}

// Option is a functional option for configuring Server.
type Option func(*Server)

// WithAddr sets the listen address. Default is "127.0.0.1:8080".
func WithAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithTLS enables TLS with the provided certificate and key files.
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) {
		s.certFile = certFile
		s.keyFile = keyFile
	}
}

// WithAllowedOrigins sets the CORS origins allowed to call the API with credentials.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithSecureCookie marks the session cookie Secure.
func WithSecureCookie(secure bool) Option {
	return func(s *Server) {
		s.cookieSecure = secure
	}
}

// WithReadyTimeout bounds how long page and authorize requests wait for restoration.
func WithReadyTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.readyTimeout = d
		}
	}
}

// WithUpstream forwards allowed page requests to the view layer at u.
func WithUpstream(u *url.URL) Option {
	return func(s *Server) {
		s.upstream = u
	}
}

// WithFixtures enables POST /api/session/fixture.
func WithFixtures(f FixtureLookup) Option {
	return func(s *Server) {
		s.fixtures = f
	}
}

// WithProfileService enables the admin profile API.
func WithProfileService(p *service.ProfileService) Option {
	return func(s *Server) {
		s.profiles = p
	}
}

// WithAuditStore records login, logout and profile changes in store and
// enables GET /api/admin/audit.
func WithAuditStore(store audit.Store) Option {
	return func(s *Server) {
		s.audit = store
	}
}

// WithLoginLimiter throttles login attempts per client address and per email.
func WithLoginLimiter(l ratelimit.Limiter, cfg ratelimit.Config) Option {
	return func(s *Server) {
		s.limiter = l
		s.loginLimit = cfg
	}
}

// WithMetrics uses m for recording and g for the /metrics endpoint.
func WithMetrics(m *Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// WithHealthChecker sets the health checker for the /healthz endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(s *Server) {
		s.health = hc
	}
}

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a Server over registry and guard.
func NewServer(registry *session.Registry, guard *authz.Guard, opts ...Option) *Server {
	s := &Server{
		registry:     registry,
		guard:        guard,
		addr:         "127.0.0.1:8080",
		readyTimeout: DefaultReadyTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		reg := prometheus.NewRegistry()
		s.metrics = NewMetrics(reg)
		s.gatherer = reg
	}
	if s.health == nil {
		s.health = NewHealthChecker(registry, nil, "")
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(MetricsMiddleware(s.metrics))
	r.Use(RequestIDMiddleware(s.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.health.Handler().ServeHTTP)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Get("/favicon.ico", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Route("/api", func(r chi.Router) {
		r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusNotFound, "not found", "")
		})
		r.Get("/session", s.handleSession)
		r.Get("/session/events", s.handleSessionEvents)
		r.Post("/session/login", s.handleLogin)
		r.Post("/session/fixture", s.handleFixtureLogin)
		r.Post("/session/logout", s.handleLogout)
		r.Get("/navigation", s.handleNavigation)
		r.Get("/authorize", s.handleAuthorize)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.apiGuard)
			r.Get("/profiles", s.handleListProfiles)
			r.Patch("/profiles/{id}", s.handleUpdateProfile)
			r.Get("/audit", s.handleListAudit)
		})
	})

	r.NotFound(s.pageGuard(s.pageHandler()).ServeHTTP)
	return r
}

// pageHandler serves allowed pages: the upstream view layer when
// configured, otherwise a JSON placeholder.
func (s *Server) pageHandler() http.Handler {
	if s.upstream != nil {
		proxy := httputil.NewSingleHostReverseProxy(s.upstream)
		proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			LoggerFromContext(r.Context()).Warn("view upstream unavailable", "error", err)
			writeError(w, http.StatusBadGateway, "view upstream unavailable", "")
		}
		return proxy
	}
	return http.HandlerFunc(s.handlePlaceholder)
}

// Start begins accepting connections.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if s.certFile != "" && s.keyFile != "" {
		s.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.certFile != "" && s.keyFile != "" {
			s.logger.Info("starting HTTPS server", "addr", s.addr)
			err = s.server.ListenAndServeTLS(s.certFile, s.keyFile)
		} else {
			s.logger.Info("starting HTTP server", "addr", s.addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down HTTP server")
		return s.shutdown()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}
}

// shutdown closes every session, which ends open event streams, then stops
// the server gracefully.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.registry.Stop()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}

	s.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	return s.shutdown()
}
