package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/enteecaay/BloodDonation-prototype/internal/adapter/outbound/fixture"
	"github.com/enteecaay/BloodDonation-prototype/internal/adapter/outbound/memory"
	"github.com/enteecaay/BloodDonation-prototype/internal/domain/auth"
	"github.com/enteecaay/BloodDonation-prototype/internal/domain/session"
)

type fakeRevoker struct {
	mu      sync.Mutex
	revoked []string
}

func (r *fakeRevoker) RevokeIdentity(_ context.Context, identityID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked = append(r.revoked, identityID)
	return 1
}

func (r *fakeRevoker) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.revoked...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testProfileEnv returns a service over a store seeded with the default fixtures.
func testProfileEnv(t *testing.T) (*ProfileService, *memory.ProfileStore, *fakeRevoker) {
	t.Helper()
	store := memory.NewProfileStore()
	revoker := &fakeRevoker{}
	svc := NewProfileService(store, revoker, testLogger())

	dir, err := fixture.NewDefaultDirectory()
	if err != nil {
		t.Fatalf("NewDefaultDirectory() error = %v", err)
	}
	if _, err := svc.SeedIdentities(context.Background(), dir.Identities()); err != nil {
		t.Fatalf("SeedIdentities() error = %v", err)
	}
	return svc, store, revoker
}

func TestProfileService_SeedIdentities(t *testing.T) {
	svc, store, _ := testProfileEnv(t)
	ctx := context.Background()

	if store.Size() != 6 {
		t.Fatalf("seeded %d profiles, want 6", store.Size())
	}

	peter, err := svc.Get(ctx, "member-003")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if peter.AccountStatus != auth.StatusSuspended {
		t.Errorf("peter.lee status = %q, want suspended", peter.AccountStatus)
	}
	admin, _ := svc.Get(ctx, "admin-001")
	if admin.Role != auth.RoleAdmin {
		t.Errorf("admin role = %q, want admin", admin.Role)
	}

	// Seeding again keeps administrator changes.
	if _, err := svc.SetRole(ctx, "member-001", auth.RoleStaff); err != nil {
		t.Fatal(err)
	}
	dir, _ := fixture.NewDefaultDirectory()
	created, err := svc.SeedIdentities(ctx, dir.Identities())
	if err != nil {
		t.Fatalf("second SeedIdentities() error = %v", err)
	}
	if created != 0 {
		t.Errorf("second SeedIdentities() created %d, want 0", created)
	}
	john, _ := svc.Get(ctx, "member-001")
	if john.Role != auth.RoleStaff {
		t.Errorf("reseed overwrote role: %q", john.Role)
	}
}

func TestProfileService_List(t *testing.T) {
	svc, _, _ := testProfileEnv(t)

	profiles, err := svc.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(profiles) != 6 {
		t.Fatalf("List() returned %d, want 6", len(profiles))
	}
	if profiles[0].Email != "admin@example.com" {
		t.Errorf("first profile = %q, want admin@example.com", profiles[0].Email)
	}
}

func TestProfileService_Update(t *testing.T) {
	role := func(r auth.Role) *auth.Role { return &r }
	status := func(s auth.AccountStatus) *auth.AccountStatus { return &s }

	tests := []struct {
		name        string
		id          string
		input       UpdateProfileInput
		wantErr     error
		wantRole    auth.Role
		wantStatus  auth.AccountStatus
		wantRevoked bool
	}{
		{
			name:        "promote member to staff",
			id:          "member-001",
			input:       UpdateProfileInput{Role: role(auth.RoleStaff)},
			wantRole:    auth.RoleStaff,
			wantStatus:  auth.StatusActive,
			wantRevoked: true,
		},
		{
			name:        "suspend member",
			id:          "member-002",
			input:       UpdateProfileInput{AccountStatus: status(auth.StatusSuspended)},
			wantRole:    auth.RoleMember,
			wantStatus:  auth.StatusSuspended,
			wantRevoked: true,
		},
		{
			name:       "reactivate suspended member",
			id:         "member-003",
			input:      UpdateProfileInput{AccountStatus: status(auth.StatusActive)},
			wantRole:   auth.RoleMember,
			wantStatus: auth.StatusActive,
		},
		{
			name:       "unchanged role does not revoke",
			id:         "staff-001",
			input:      UpdateProfileInput{Role: role(auth.RoleStaff)},
			wantRole:   auth.RoleStaff,
			wantStatus: auth.StatusActive,
		},
		{
			name:    "guest is not assignable",
			id:      "member-001",
			input:   UpdateProfileInput{Role: role(auth.RoleGuest)},
			wantErr: ErrRoleNotAssignable,
		},
		{
			name:    "unknown role",
			id:      "member-001",
			input:   UpdateProfileInput{Role: role("superuser")},
			wantErr: ErrRoleNotAssignable,
		},
		{
			name:    "unknown status",
			id:      "member-001",
			input:   UpdateProfileInput{AccountStatus: status("banned")},
			wantErr: ErrInvalidStatus,
		},
		{
			name:    "empty update",
			id:      "member-001",
			wantErr: ErrEmptyUpdate,
		},
		{
			name:    "unknown identity",
			id:      "ghost",
			input:   UpdateProfileInput{Role: role(auth.RoleMember)},
			wantErr: auth.ErrProfileNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, revoker := testProfileEnv(t)
			fixed := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
			svc.now = func() time.Time { return fixed }

			got, err := svc.Update(context.Background(), tt.id, tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Update() error = %v, want %v", err, tt.wantErr)
				}
				if len(revoker.calls()) != 0 {
					t.Error("failed update revoked sessions")
				}
				return
			}
			if err != nil {
				t.Fatalf("Update() error = %v", err)
			}
			if got.Role != tt.wantRole || got.AccountStatus != tt.wantStatus {
				t.Errorf("Update() = %s/%s, want %s/%s", got.Role, got.AccountStatus, tt.wantRole, tt.wantStatus)
			}
			if !got.UpdatedAt.Equal(fixed) {
				t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, fixed)
			}

			calls := revoker.calls()
			if tt.wantRevoked && (len(calls) != 1 || calls[0] != tt.id) {
				t.Errorf("revocations = %v, want [%s]", calls, tt.id)
			}
			if !tt.wantRevoked && len(calls) != 0 {
				t.Errorf("revocations = %v, want none", calls)
			}
		})
	}
}

func TestProfileService_SuspensionRevokesLiveSession(t *testing.T) {
	store := memory.NewProfileStore()
	dir, err := fixture.NewDefaultDirectory()
	if err != nil {
		t.Fatal(err)
	}
	registry := session.NewRegistry(func() *session.Manager {
		return session.NewManager(session.Config{
			Provider: fixture.NewProvider(dir),
			Profiles: store,
			Logger:   testLogger(),
		})
	}, session.RegistryConfig{Logger: testLogger()})
	defer registry.Stop()

	svc := NewProfileService(store, registry, testLogger())
	ctx := context.Background()
	if _, err := svc.SeedIdentities(ctx, dir.Identities()); err != nil {
		t.Fatal(err)
	}

	_, m, err := registry.Create()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Login(ctx, auth.Credentials{Email: "jane.donor@example.com", Secret: fixture.DefaultSecret}); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if _, err := svc.SetAccountStatus(ctx, "member-002", auth.StatusSuspended); err != nil {
		t.Fatalf("SetAccountStatus() error = %v", err)
	}
	if m.CurrentRole() != auth.RoleGuest {
		t.Errorf("CurrentRole() = %q after suspension, want guest", m.CurrentRole())
	}

	_, err = m.Login(ctx, auth.Credentials{Email: "jane.donor@example.com", Secret: fixture.DefaultSecret})
	if !errors.Is(err, auth.ErrAccountSuspended) {
		t.Errorf("Login() after suspension error = %v, want ErrAccountSuspended", err)
	}
}
