// Package profiletest provides a conformance suite for auth.ProfileStore
// implementations.
package profiletest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/enteecaay/BloodDonation-prototype/internal/domain/auth"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) auth.ProfileStore

func profile(id, email string, role auth.Role) *auth.Profile {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	return &auth.Profile{
		IdentityID:    id,
		Email:         email,
		DisplayName:   id,
		Role:          role,
		AccountStatus: auth.StatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Run exercises the behavior every auth.ProfileStore must share.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetProfile(ctx, "nobody")
		if !errors.Is(err, auth.ErrProfileNotFound) {
			t.Errorf("GetProfile() error = %v, want ErrProfileNotFound", err)
		}
	})

	t.Run("create then get", func(t *testing.T) {
		s := newStore(t)
		want := profile("member-001", "member@example.com", auth.RoleMember)
		if err := s.CreateProfile(ctx, want); err != nil {
			t.Fatalf("CreateProfile() error = %v", err)
		}
		got, err := s.GetProfile(ctx, "member-001")
		if err != nil {
			t.Fatalf("GetProfile() error = %v", err)
		}
		if got.Email != want.Email || got.Role != want.Role || got.AccountStatus != want.AccountStatus {
			t.Errorf("GetProfile() = %+v, want %+v", got, want)
		}
		if !got.CreatedAt.Equal(want.CreatedAt) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
		}
		if got.LastLoginAt != nil {
			t.Errorf("LastLoginAt = %v, want nil", got.LastLoginAt)
		}
	})

	t.Run("create duplicate", func(t *testing.T) {
		s := newStore(t)
		if err := s.CreateProfile(ctx, profile("u1", "u1@example.com", auth.RoleMember)); err != nil {
			t.Fatalf("CreateProfile() error = %v", err)
		}
		err := s.CreateProfile(ctx, profile("u1", "u1@example.com", auth.RoleAdmin))
		if !errors.Is(err, auth.ErrProfileExists) {
			t.Fatalf("second CreateProfile() error = %v, want ErrProfileExists", err)
		}
		got, _ := s.GetProfile(ctx, "u1")
		if got.Role != auth.RoleMember {
			t.Error("duplicate create overwrote the profile")
		}
	})

	t.Run("update", func(t *testing.T) {
		s := newStore(t)
		p := profile("u1", "u1@example.com", auth.RoleMember)
		if err := s.CreateProfile(ctx, p); err != nil {
			t.Fatalf("CreateProfile() error = %v", err)
		}
		login := time.Date(2026, 5, 2, 8, 30, 0, 0, time.UTC)
		p.Role = auth.RoleStaff
		p.AccountStatus = auth.StatusSuspended
		p.LastLoginAt = &login
		if err := s.UpdateProfile(ctx, p); err != nil {
			t.Fatalf("UpdateProfile() error = %v", err)
		}
		got, err := s.GetProfile(ctx, "u1")
		if err != nil {
			t.Fatalf("GetProfile() error = %v", err)
		}
		if got.Role != auth.RoleStaff || got.AccountStatus != auth.StatusSuspended {
			t.Errorf("GetProfile() = %+v after update", got)
		}
		if got.LastLoginAt == nil || !got.LastLoginAt.Equal(login) {
			t.Errorf("LastLoginAt = %v, want %v", got.LastLoginAt, login)
		}
	})

	t.Run("update missing", func(t *testing.T) {
		s := newStore(t)
		err := s.UpdateProfile(ctx, profile("ghost", "ghost@example.com", auth.RoleMember))
		if !errors.Is(err, auth.ErrProfileNotFound) {
			t.Errorf("UpdateProfile() error = %v, want ErrProfileNotFound", err)
		}
	})

	t.Run("list ordered by email", func(t *testing.T) {
		s := newStore(t)
		for _, p := range []*auth.Profile{
			profile("staff-001", "staff@example.com", auth.RoleStaff),
			profile("admin-001", "admin@example.com", auth.RoleAdmin),
			profile("member-001", "member@example.com", auth.RoleMember),
		} {
			if err := s.CreateProfile(ctx, p); err != nil {
				t.Fatalf("CreateProfile(%s) error = %v", p.IdentityID, err)
			}
		}
		list, err := s.ListProfiles(ctx)
		if err != nil {
			t.Fatalf("ListProfiles() error = %v", err)
		}
		want := []string{"admin@example.com", "member@example.com", "staff@example.com"}
		if len(list) != len(want) {
			t.Fatalf("len(ListProfiles()) = %d, want %d", len(list), len(want))
		}
		for i, email := range want {
			if list[i].Email != email {
				t.Errorf("ListProfiles()[%d].Email = %q, want %q", i, list[i].Email, email)
			}
		}
	})

	t.Run("list empty", func(t *testing.T) {
		s := newStore(t)
		list, err := s.ListProfiles(ctx)
		if err != nil {
			t.Fatalf("ListProfiles() error = %v", err)
		}
		if len(list) != 0 {
			t.Errorf("len(ListProfiles()) = %d, want 0", len(list))
		}
	})
}
