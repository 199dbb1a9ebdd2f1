package http

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/enteecaay/BloodDonation-prototype/internal/domain/audit"
	"github.com/enteecaay/BloodDonation-prototype/internal/domain/auth"
	"github.com/enteecaay/BloodDonation-prototype/internal/domain/ratelimit"
)

// clientIP returns the request's remote address without the port.
// middleware.RealIP has already applied forwarding headers.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// recordAudit stamps rec with request metadata and appends it.
// Failures are logged and never fail the request.
func (s *Server) recordAudit(r *http.Request, rec audit.Record) {
	if s.audit == nil {
		return
	}
	rec.Timestamp = time.Now().UTC()
	rec.ClientIP = clientIP(r)
	if id, ok := r.Context().Value(RequestIDKey).(string); ok {
		rec.RequestID = id
	}
	if rec.ActorType == "" {
		rec.ActorType = audit.ActorTypeGuest
		if rec.ActorID != "" {
			rec.ActorType = audit.ActorTypeUser
		}
	}
	if err := s.audit.Append(r.Context(), rec); err != nil {
		LoggerFromContext(r.Context()).Warn("audit append failed", "event_type", rec.EventType, "error", err)
	}
}

// recordLogin audits the outcome of a login attempt.
func (s *Server) recordLogin(r *http.Request, provider, email string, identity *auth.Identity, err error) {
	rec := audit.Record{
		EventType: audit.EventTypeLogin,
		Email:     auth.NormalizeEmail(email),
		Provider:  provider,
	}
	if err != nil {
		rec.EventType = audit.EventTypeLoginFailed
		rec.Failure = auth.Classify(err)
		rec.Detail = err.Error()
	}
	if identity != nil {
		rec.ActorID = identity.ID
		rec.TargetID = identity.ID
		rec.Email = identity.Email
		rec.Role = identity.Role
	}
	s.recordAudit(r, rec)
}

// throttleLogin consumes one login attempt for the client address and the
// submitted email. It writes a 429 and returns false when either is exhausted.
func (s *Server) throttleLogin(w http.ResponseWriter, r *http.Request, email string) bool {
	if s.limiter == nil || !s.loginLimit.Enabled() {
		return true
	}

	keys := []struct {
		typ   ratelimit.KeyType
		value string
	}{
		{ratelimit.KeyTypeIP, clientIP(r)},
		{ratelimit.KeyTypeEmail, email},
	}
	for _, k := range keys {
		if strings.TrimSpace(k.value) == "" {
			continue
		}
		res, err := s.limiter.Allow(r.Context(), ratelimit.FormatKey(k.typ, k.value), s.loginLimit)
		if err != nil {
			// Fails open.
			LoggerFromContext(r.Context()).Error("login rate limiter failed", "error", err)
			return true
		}
		if res.Allowed {
			continue
		}

		s.metrics.LoginThrottled.WithLabelValues(string(k.typ)).Inc()
		LoggerFromContext(r.Context()).Info("login throttled", "key_type", k.typ, "retry_after", res.RetryAfter)
		s.recordAudit(r, audit.Record{
			EventType: audit.EventTypeLoginThrottled,
			Email:     auth.NormalizeEmail(email),
			Detail:    "throttled by " + string(k.typ),
		})
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
		writeError(w, http.StatusTooManyRequests, "Too many login attempts. Please wait and try again.", "")
		return false
	}
	return true
}

// handleListAudit serves GET /api/admin/audit.
// Query parameters: event_type (repeatable or comma separated), target_id,
// actor_id, since (RFC 3339) and limit.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusNotFound, "audit trail is disabled", "")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		TargetID: q.Get("target_id"),
		ActorID:  q.Get("actor_id"),
	}
	for _, v := range q["event_type"] {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.EventTypes = append(filter.EventTypes, audit.EventType(t))
			}
		}
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp", "")
			return
		}
		filter.Since = since
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", "")
			return
		}
		filter.Limit = limit
	}

	records, err := s.audit.Query(r.Context(), filter)
	if err != nil {
		LoggerFromContext(r.Context()).Error("audit query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to query audit trail", "")
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}
