package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/enteecaay/BloodDonation-prototype/internal/domain/audit"
	"github.com/enteecaay/BloodDonation-prototype/internal/domain/auth"
	"github.com/enteecaay/BloodDonation-prototype/internal/domain/authz"
	"github.com/enteecaay/BloodDonation-prototype/internal/domain/session"
	"github.com/enteecaay/BloodDonation-prototype/internal/service"
)

// placeholderResponse is served for allowed pages when no view upstream is set.
type placeholderResponse struct {
	Path string    `json:"path"`
	Role auth.Role `json:"role"`
	Rule string    `json:"rule,omitempty"`
}

type guardResultKey struct{}

// guardResult is what a guard decided, for the handler behind it.
type guardResult struct {
	identity *auth.Identity
	role     auth.Role
	decision authz.Decision
}

func withGuardResult(r *http.Request, snap session.Snapshot, d authz.Decision) *http.Request {
	g := guardResult{identity: snap.Identity, role: snap.Role, decision: d}
	return r.WithContext(context.WithValue(r.Context(), guardResultKey{}, g))
}

// actorFromContext returns the identity the guard admitted, or nil.
func actorFromContext(r *http.Request) *auth.Identity {
	g, _ := r.Context().Value(guardResultKey{}).(guardResult)
	return g.identity
}

// pageGuard redirects page requests the session may not reach to the login
// view. It waits for restoration first so a returning user is not bounced.
// Clients without a session are guests; no session is created for them.
func (s *Server) pageGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := guestSnapshot
		if m := s.existingManager(r); m != nil {
			if !s.waitReady(r.Context(), m) {
				writeError(w, http.StatusServiceUnavailable, "session is still initializing", "")
				return
			}
			snap = m.Snapshot()
		}

		d := s.decide(r.Context(), snap, r.URL.RequestURI())
		switch d.Outcome {
		case authz.OutcomeAllow:
			next.ServeHTTP(w, withGuardResult(r, snap, d))
		case authz.OutcomeRedirect:
			LoggerFromContext(r.Context()).Debug("page redirected", "path", d.Path, "rule", d.Rule, "reason", d.Reason)
			http.Redirect(w, r, d.Location, http.StatusFound)
		default:
			writeError(w, http.StatusServiceUnavailable, "session is still initializing", "")
		}
	})
}

// apiGuard rejects API requests the session may not reach: 401 for guests,
// 403 for authenticated roles without access.
func (s *Server) apiGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := s.existingManager(r)
		if m == nil {
			writeError(w, http.StatusUnauthorized, "authentication required", "")
			return
		}
		if !s.waitReady(r.Context(), m) {
			writeError(w, http.StatusServiceUnavailable, "session is still initializing", "")
			return
		}

		snap := m.Snapshot()
		d := s.decide(r.Context(), snap, r.URL.Path)
		switch d.Outcome {
		case authz.OutcomeAllow:
			next.ServeHTTP(w, withGuardResult(r, snap, d))
		case authz.OutcomeRedirect:
			if snap.Identity == nil {
				writeError(w, http.StatusUnauthorized, "authentication required", "")
				return
			}
			writeError(w, http.StatusForbidden, "forbidden", "")
		default:
			writeError(w, http.StatusServiceUnavailable, "session is still initializing", "")
		}
	})
}

func (s *Server) handlePlaceholder(w http.ResponseWriter, r *http.Request) {
	resp := placeholderResponse{Path: authz.NormalizePath(r.URL.Path), Role: auth.RoleGuest}
	if g, ok := r.Context().Value(guardResultKey{}).(guardResult); ok {
		resp.Role = g.role
		resp.Rule = g.decision.Rule
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	if s.profiles == nil {
		writeError(w, http.StatusNotFound, "profile administration is disabled", "")
		return
	}
	profiles, err := s.profiles.List(r.Context())
	if err != nil {
		LoggerFromContext(r.Context()).Error("list profiles failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list profiles", "")
		return
	}
	if profiles == nil {
		profiles = []auth.Profile{}
	}
	writeJSON(w, http.StatusOK, profiles)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	if s.profiles == nil {
		writeError(w, http.StatusNotFound, "profile administration is disabled", "")
		return
	}

	var input service.UpdateProfileInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "")
		return
	}

	id := chi.URLParam(r, "id")
	p, err := s.profiles.Update(r.Context(), id, input)
	switch {
	case err == nil:
		LoggerFromContext(r.Context()).Info("profile updated", "identity_id", id, "role", p.Role, "account_status", p.AccountStatus)
		s.recordProfileUpdate(r, p, input)
		writeJSON(w, http.StatusOK, p)
	case errors.Is(err, auth.ErrProfileNotFound):
		writeError(w, http.StatusNotFound, "profile not found", "")
	case errors.Is(err, service.ErrRoleNotAssignable),
		errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, service.ErrEmptyUpdate):
		writeError(w, http.StatusBadRequest, err.Error(), "")
	default:
		LoggerFromContext(r.Context()).Error("update profile failed", "identity_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update profile", "")
	}
}

// recordProfileUpdate audits an administrator's profile change.
func (s *Server) recordProfileUpdate(r *http.Request, p *auth.Profile, input service.UpdateProfileInput) {
	rec := audit.Record{
		EventType: audit.EventTypeUserModify,
		ActorType: audit.ActorTypeAdmin,
		TargetID:  p.IdentityID,
		Email:     p.Email,
		Role:      p.Role,
	}
	if actor := actorFromContext(r); actor != nil {
		rec.ActorID = actor.ID
	}
	if input.AccountStatus != nil {
		switch p.AccountStatus {
		case auth.StatusSuspended:
			rec.EventType = audit.EventTypeUserDisable
		case auth.StatusActive:
			rec.EventType = audit.EventTypeUserEnable
		}
	}
	var changes []string
	if input.Role != nil {
		changes = append(changes, "role="+string(p.Role))
	}
	if input.AccountStatus != nil {
		changes = append(changes, "account_status="+string(p.AccountStatus))
	}
	rec.Detail = strings.Join(changes, " ")
	s.recordAudit(r, rec)
}
