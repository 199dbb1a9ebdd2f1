package memory

import (
	"context"
	"testing"
	"time"

	"github.com/enteecaay/BloodDonation-prototype/internal/adapter/outbound/profiletest"
	"github.com/enteecaay/BloodDonation-prototype/internal/domain/auth"
)

func TestProfileStore_Conformance(t *testing.T) {
	profiletest.Run(t, func(t *testing.T) auth.ProfileStore {
		return NewProfileStore()
	})
}

func TestProfileStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	s := NewProfileStore()
	ctx := context.Background()
	login := time.Now().UTC()
	p := &auth.Profile{IdentityID: "u1", Email: "u1@example.com", Role: auth.RoleMember, AccountStatus: auth.StatusActive, LastLoginAt: &login}
	if err := s.CreateProfile(ctx, p); err != nil {
		t.Fatalf("CreateProfile() error = %v", err)
	}

	p.Role = auth.RoleAdmin
	got, err := s.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("GetProfile() error = %v", err)
	}
	if got.Role != auth.RoleMember {
		t.Error("store shares memory with caller's profile")
	}

	*got.LastLoginAt = time.Time{}
	again, _ := s.GetProfile(ctx, "u1")
	if again.LastLoginAt.IsZero() {
		t.Error("LastLoginAt pointer shared with caller")
	}
	if s.Size() != 1 {
		t.Errorf("Size() = %d, want 1", s.Size())
	}
}
