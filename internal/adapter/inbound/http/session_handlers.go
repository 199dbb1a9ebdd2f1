package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/enteecaay/BloodDonation-prototype/internal/domain/audit"
	"github.com/enteecaay/BloodDonation-prototype/internal/domain/auth"
	"github.com/enteecaay/BloodDonation-prototype/internal/domain/authz"
	"github.com/enteecaay/BloodDonation-prototype/internal/domain/session"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

// errorResponse is the JSON body of every API error.
type errorResponse struct {
	Error string           `json:"error"`
	Kind  auth.FailureKind `json:"kind,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string, kind auth.FailureKind) {
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

// loginResponse is returned by successful logins.
type loginResponse struct {
	Identity *auth.Identity   `json:"identity"`
	Session  session.Snapshot `json:"session"`
}

type fixtureLoginRequest struct {
	ID string `json:"id"`
}

type navigationResponse struct {
	Role  auth.Role       `json:"role"`
	Items []authz.NavItem `json:"items"`
}

// guestSnapshot is the session state of a client without a session.
var guestSnapshot = session.Snapshot{
	Status: session.StatusReady,
	State:  session.StateGuest,
	Role:   auth.RoleGuest,
}

// manager returns the client's Manager, registering a new session and
// setting the cookie when the client has none.
func (s *Server) manager(w http.ResponseWriter, r *http.Request) (*session.Manager, error) {
	if m := s.existingManager(r); m != nil {
		return m, nil
	}

	id, m, err := s.registry.Create()
	if err != nil {
		return nil, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	LoggerFromContext(r.Context()).Debug("session started")
	return m, nil
}

// writeSessionError reports a failure to obtain a session.
func writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, session.ErrRegistryFull) {
		LoggerFromContext(r.Context()).Warn("session limit reached")
		writeError(w, http.StatusServiceUnavailable, "too many sessions", "")
		return
	}
	LoggerFromContext(r.Context()).Error("failed to create session", "error", err)
	writeError(w, http.StatusInternalServerError, "session unavailable", "")
}

// existingManager returns the client's Manager without creating one.
func (s *Server) existingManager(r *http.Request) *session.Manager {
	c, err := r.Cookie(SessionCookieName)
	if err != nil || c.Value == "" {
		return nil
	}
	m, err := s.registry.Get(c.Value)
	if err != nil {
		return nil
	}
	return m
}

// waitReady waits for restoration, bounded by the ready timeout.
func (s *Server) waitReady(ctx context.Context, m *session.Manager) bool {
	ctx, cancel := context.WithTimeout(ctx, s.readyTimeout)
	defer cancel()
	select {
	case <-m.Ready():
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	m, err := s.manager(w, r)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m.Snapshot())
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds auth.Credentials
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "")
		return
	}

	m, err := s.manager(w, r)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	if !s.throttleLogin(w, r, creds.Email) {
		return
	}

	identity, err := m.Login(r.Context(), creds)
	s.recordLogin(r, m.ProviderName(), creds.Email, identity, err)
	if err != nil {
		s.writeLoginError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Identity: identity, Session: m.Snapshot()})
}

func (s *Server) handleFixtureLogin(w http.ResponseWriter, r *http.Request) {
	if s.fixtures == nil {
		writeError(w, http.StatusNotFound, "fixture login is disabled", "")
		return
	}

	var req fixtureLoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required", "")
		return
	}

	m, err := s.manager(w, r)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	if !m.FixtureLoginEnabled() {
		writeError(w, http.StatusNotFound, "fixture login is disabled", "")
		return
	}

	identity, err := s.fixtures.Lookup(req.ID)
	if err != nil {
		s.recordAudit(r, audit.Record{
			EventType: audit.EventTypeLoginFailed,
			TargetID:  req.ID,
			Provider:  m.ProviderName(),
			Failure:   auth.FailureInvalidCredentials,
			Detail:    "unknown fixture identity",
		})
		s.writeLoginError(w, r, auth.ErrInvalidCredentials)
		return
	}
	got, err := m.LoginAsFixture(r.Context(), identity)
	s.recordLogin(r, m.ProviderName(), identity.Email, got, err)
	if err != nil {
		s.writeLoginError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Identity: got, Session: m.Snapshot()})
}

// writeLoginError maps a login error to a status and a user-facing message.
func (s *Server) writeLoginError(w http.ResponseWriter, r *http.Request, err error) {
	kind := auth.Classify(err)
	LoggerFromContext(r.Context()).Info("login rejected", "kind", kind, "error", err)

	switch {
	case errors.Is(err, auth.ErrMalformedCredentials):
		writeError(w, http.StatusBadRequest, "Enter a valid email address and password.", "")
	case errors.Is(err, session.ErrAlreadyAuthenticated):
		writeError(w, http.StatusConflict, "Already signed in. Log out first.", "")
	case errors.Is(err, session.ErrLoginAbandoned):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "The login was interrupted. Please try again.", "")
	case errors.Is(err, session.ErrFixtureLoginDisabled):
		writeError(w, http.StatusNotFound, "fixture login is disabled", "")
	case errors.Is(err, session.ErrManagerClosed):
		writeError(w, http.StatusServiceUnavailable, "The session has ended. Reload and try again.", "")
	case kind == auth.FailureInvalidCredentials:
		writeError(w, http.StatusUnauthorized, "Invalid email or password.", kind)
	case kind == auth.FailureAccountSuspended:
		writeError(w, http.StatusForbidden, "This account has been suspended. Contact an administrator.", kind)
	case kind == auth.FailureProviderUnavailable:
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, "The sign-in service is unavailable. Please try again.", kind)
	case kind == auth.FailureProfileInit:
		writeError(w, http.StatusInternalServerError, "Your profile could not be created. Please try again later.", kind)
	default:
		writeError(w, http.StatusInternalServerError, "Login failed.", kind)
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	m := s.existingManager(r)
	if m == nil {
		writeJSON(w, http.StatusOK, guestSnapshot)
		return
	}
	if identity := m.Identity(); identity != nil {
		s.recordAudit(r, audit.Record{
			EventType: audit.EventTypeLogout,
			ActorID:   identity.ID,
			TargetID:  identity.ID,
			Email:     identity.Email,
			Role:      identity.Role,
			Provider:  m.ProviderName(),
		})
	}
	m.Logout(r.Context())
	writeJSON(w, http.StatusOK, m.Snapshot())
}

func (s *Server) handleNavigation(w http.ResponseWriter, r *http.Request) {
	role := auth.RoleGuest
	if m := s.existingManager(r); m != nil {
		role = m.CurrentRole()
	}
	writeJSON(w, http.StatusOK, navigationResponse{Role: role, Items: authz.Navigation(role)})
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("path")
	if target == "" {
		writeError(w, http.StatusBadRequest, "path is required", "")
		return
	}

	snap := guestSnapshot
	if m := s.existingManager(r); m != nil {
		s.waitReady(r.Context(), m)
		snap = m.Snapshot()
	}
	writeJSON(w, http.StatusOK, s.decide(r.Context(), snap, target))
}

// decide runs the guard and records the outcome.
func (s *Server) decide(ctx context.Context, snap session.Snapshot, target string) authz.Decision {
	d := s.guard.Decide(ctx, snap, target)
	s.metrics.GuardDecisions.WithLabelValues(string(d.Outcome)).Inc()
	return d
}
