package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/enteecaay/BloodDonation-prototype/internal/adapter/outbound/fixture"
	"github.com/enteecaay/BloodDonation-prototype/internal/domain/audit"
	"github.com/enteecaay/BloodDonation-prototype/internal/domain/auth"
	"github.com/enteecaay/BloodDonation-prototype/internal/domain/ratelimit"
)

func badLogin(email string) string {
	return `{"email":"` + email + `","password":"wrong-password"}`
}

func TestServer_LoginThrottling(t *testing.T) {
	limit := ratelimit.Config{Rate: 2, Burst: 2, Period: time.Hour}

	t.Run("per client address", func(t *testing.T) {
		s := newTestServer(t, serverOptions{loginLimit: limit})
		c := s.newClient(t)

		for _, email := range []string{"a@example.com", "b@example.com"} {
			resp, body := s.doFrom(t, c, "10.0.0.1", http.MethodPost, "/api/session/login", badLogin(email))
			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("attempt for %s: status = %d, want 401 (body %s)", email, resp.StatusCode, body)
			}
		}

		resp, body := s.doFrom(t, c, "10.0.0.1", http.MethodPost, "/api/session/login", badLogin("c@example.com"))
		if resp.StatusCode != http.StatusTooManyRequests {
			t.Fatalf("status = %d, want 429 (body %s)", resp.StatusCode, body)
		}
		if got := resp.Header.Get("Retry-After"); got != "1800" {
			t.Errorf("Retry-After = %q, want 1800", got)
		}
		if got := testutil.ToFloat64(s.metrics.LoginThrottled.WithLabelValues("ip")); got != 1 {
			t.Errorf("login_throttled_total{key_type=ip} = %v, want 1", got)
		}

		// Another address is not affected.
		resp, _ = s.doFrom(t, c, "10.0.0.2", http.MethodPost, "/api/session/login",
			`{"email":"member@example.com","password":"`+fixture.DefaultSecret+`"}`)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("login from another address: status = %d, want 200", resp.StatusCode)
		}
	})

	t.Run("per email", func(t *testing.T) {
		s := newTestServer(t, serverOptions{loginLimit: limit})

		for _, ip := range []string{"10.0.1.1", "10.0.1.2"} {
			resp, _ := s.doFrom(t, s.newClient(t), ip, http.MethodPost, "/api/session/login", badLogin("Member@Example.com"))
			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("attempt from %s: status = %d, want 401", ip, resp.StatusCode)
			}
		}

		// The correct secret is refused too once the email is exhausted.
		resp, _ := s.doFrom(t, s.newClient(t), "10.0.1.3", http.MethodPost, "/api/session/login",
			`{"email":"member@example.com","password":"`+fixture.DefaultSecret+`"}`)
		if resp.StatusCode != http.StatusTooManyRequests {
			t.Fatalf("status = %d, want 429", resp.StatusCode)
		}
		if got := testutil.ToFloat64(s.metrics.LoginThrottled.WithLabelValues("email")); got != 1 {
			t.Errorf("login_throttled_total{key_type=email} = %v, want 1", got)
		}

		records, err := s.audit.Query(context.Background(), audit.Filter{
			EventTypes: []audit.EventType{audit.EventTypeLoginThrottled},
		})
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		if len(records) != 1 || records[0].Email != "member@example.com" || records[0].ClientIP != "10.0.1.3" {
			t.Errorf("throttled records = %+v", records)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		s := newTestServer(t, serverOptions{})
		c := s.newClient(t)
		for i := 0; i < 5; i++ {
			resp, _ := s.doFrom(t, c, "10.0.2.1", http.MethodPost, "/api/session/login", badLogin("member@example.com"))
			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("attempt %d: status = %d, want 401", i, resp.StatusCode)
			}
		}
	})
}

func TestServer_AuditTrail(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	admin := s.newClient(t)
	s.login(t, admin, "admin@example.com")

	member := s.newClient(t)
	s.login(t, member, "member@example.com")
	s.do(t, member, http.MethodPost, "/api/session/logout", "")

	resp, _ := s.do(t, s.newClient(t), http.MethodPost, "/api/session/login", badLogin("jane.donor@example.com"))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d, want 401", resp.StatusCode)
	}

	for path, body := range map[string]string{
		"/api/admin/profiles/member-001": `{"role":"staff"}`,
		"/api/admin/profiles/member-002": `{"account_status":"suspended"}`,
	} {
		if resp, data := s.do(t, admin, http.MethodPatch, path, body); resp.StatusCode != http.StatusOK {
			t.Fatalf("PATCH %s status = %d (body %s)", path, resp.StatusCode, data)
		}
	}

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantCount int
		check     func(t *testing.T, records []audit.Record)
	}{
		{
			name:     "logout",
			query:    "?event_type=access.logout",
			wantCode: http.StatusOK, wantCount: 1,
			check: func(t *testing.T, records []audit.Record) {
				r := records[0]
				if r.ActorID != "member-001" || r.ActorType != audit.ActorTypeUser || r.Role != auth.RoleMember {
					t.Errorf("logout record = %+v", r)
				}
			},
		},
		{
			name:     "failed login",
			query:    "?event_type=access.login_failed",
			wantCode: http.StatusOK, wantCount: 1,
			check: func(t *testing.T, records []audit.Record) {
				r := records[0]
				if r.Failure != auth.FailureInvalidCredentials || r.ActorType != audit.ActorTypeGuest || r.Email != "jane.donor@example.com" {
					t.Errorf("failed login record = %+v", r)
				}
			},
		},
		{
			name:     "role change by admin",
			query:    "?event_type=user.modify&target_id=member-001",
			wantCode: http.StatusOK, wantCount: 1,
			check: func(t *testing.T, records []audit.Record) {
				r := records[0]
				if r.ActorID != "admin-001" || r.ActorType != audit.ActorTypeAdmin || r.Detail != "role=staff" {
					t.Errorf("modify record = %+v", r)
				}
			},
		},
		{
			name:     "suspension",
			query:    "?event_type=user.disable,user.enable",
			wantCode: http.StatusOK, wantCount: 1,
			check: func(t *testing.T, records []audit.Record) {
				if r := records[0]; r.TargetID != "member-002" || r.Detail != "account_status=suspended" {
					t.Errorf("disable record = %+v", r)
				}
			},
		},
		{
			name:     "newest first with limit",
			query:    "?limit=1",
			wantCode: http.StatusOK, wantCount: 1,
			check: func(t *testing.T, records []audit.Record) {
				if records[0].EventType != audit.EventTypeUserDisable && records[0].EventType != audit.EventTypeUserModify {
					t.Errorf("newest record = %s, want a profile change", records[0].EventType)
				}
			},
		},
		{
			name:     "actor filter",
			query:    "?actor_id=admin-001&event_type=access.login",
			wantCode: http.StatusOK, wantCount: 1,
		},
		{
			name:     "since in the future",
			query:    "?since=" + time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
			wantCode: http.StatusOK, wantCount: 0,
		},
		{name: "bad since", query: "?since=yesterday", wantCode: http.StatusBadRequest},
		{name: "bad limit", query: "?limit=-1", wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := s.do(t, admin, http.MethodGet, "/api/admin/audit"+tt.query, "")
			if resp.StatusCode != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode, tt.wantCode, body)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			records := decode[[]audit.Record](t, body)
			if len(records) != tt.wantCount {
				t.Fatalf("len(records) = %d, want %d: %+v", len(records), tt.wantCount, records)
			}
			if tt.check != nil {
				tt.check(t, records)
			}
		})
	}

	t.Run("requires admin", func(t *testing.T) {
		resp, _ := s.do(t, s.newClient(t), http.MethodGet, "/api/admin/audit", "")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("guest status = %d, want 401", resp.StatusCode)
		}

		staff := s.newClient(t)
		s.login(t, staff, "staff@example.com")
		resp, _ = s.do(t, staff, http.MethodGet, "/api/admin/audit", "")
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("staff status = %d, want 403", resp.StatusCode)
		}
	})
}

func TestServer_AuditDisabled(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	srv := NewServer(s.registry, nil, WithLogger(discardLogger()))
	if srv.audit != nil {
		t.Fatal("audit store should be nil without WithAuditStore")
	}

	w := httptest.NewRecorder()
	srv.handleListAudit(w, httptest.NewRequest(http.MethodGet, "/api/admin/audit", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
