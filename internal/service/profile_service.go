package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/enteecaay/BloodDonation-prototype/internal/domain/auth"
)

// ProfileService errors.
var (
	ErrRoleNotAssignable = errors.New("role cannot be assigned")
	ErrInvalidStatus     = errors.New("invalid account status")
	ErrEmptyUpdate       = errors.New("no changes requested")
)

// SessionRevoker ends live sessions of an identity.
type SessionRevoker interface {
	RevokeIdentity(ctx context.Context, identityID string) int
}

// ProfileService manages identity profiles for administrators: listing,
// role changes and suspension. Changes that alter what a live session may
// do revoke that identity's sessions.
type ProfileService struct {
	store   auth.ProfileStore
	revoker SessionRevoker
	logger  *slog.Logger
	now     func() time.Time
	mu      sync.Mutex // serializes read-modify-write updates
}

// NewProfileService creates a ProfileService. revoker may be nil when no
// sessions are hosted in-process.
func NewProfileService(store auth.ProfileStore, revoker SessionRevoker, logger *slog.Logger) *ProfileService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileService{
		store:   store,
		revoker: revoker,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// List returns all profiles ordered by email.
func (s *ProfileService) List(ctx context.Context) ([]auth.Profile, error) {
	profiles, err := s.store.ListProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return profiles, nil
}

// Get returns one profile. Returns auth.ErrProfileNotFound if absent.
func (s *ProfileService) Get(ctx context.Context, identityID string) (*auth.Profile, error) {
	return s.store.GetProfile(ctx, identityID)
}

// UpdateProfileInput holds the fields an administrator may change.
// Nil fields are left untouched.
type UpdateProfileInput struct {
	Role          *auth.Role          `json:"role,omitempty"`
	AccountStatus *auth.AccountStatus `json:"account_status,omitempty"`
}

// Update applies input to a profile. When the role changes or the account
// is suspended, every live session of the identity is revoked.
func (s *ProfileService) Update(ctx context.Context, identityID string, input UpdateProfileInput) (*auth.Profile, error) {
	if input.Role == nil && input.AccountStatus == nil {
		return nil, ErrEmptyUpdate
	}
	if input.Role != nil && !input.Role.IsAssignable() {
		return nil, fmt.Errorf("%w: %q", ErrRoleNotAssignable, *input.Role)
	}
	if input.AccountStatus != nil && !input.AccountStatus.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, *input.AccountStatus)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	profile, err := s.store.GetProfile(ctx, identityID)
	if err != nil {
		return nil, err
	}

	revoke := false
	if input.Role != nil && *input.Role != profile.Role {
		profile.Role = *input.Role
		revoke = true
	}
	if input.AccountStatus != nil && *input.AccountStatus != profile.AccountStatus {
		profile.AccountStatus = *input.AccountStatus
		revoke = revoke || profile.AccountStatus == auth.StatusSuspended
	}
	profile.UpdatedAt = s.now()

	if err := s.store.UpdateProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	s.logger.Info("profile updated",
		"identity_id", identityID,
		"role", profile.Role,
		"account_status", profile.AccountStatus,
	)

	if revoke && s.revoker != nil {
		s.revoker.RevokeIdentity(ctx, identityID)
	}
	return profile, nil
}

// SetRole changes an identity's role. Only member, staff and admin can be assigned.
func (s *ProfileService) SetRole(ctx context.Context, identityID string, role auth.Role) (*auth.Profile, error) {
	return s.Update(ctx, identityID, UpdateProfileInput{Role: &role})
}

// SetAccountStatus suspends or reactivates an identity.
func (s *ProfileService) SetAccountStatus(ctx context.Context, identityID string, status auth.AccountStatus) (*auth.Profile, error) {
	return s.Update(ctx, identityID, UpdateProfileInput{AccountStatus: &status})
}

// SeedIdentities creates profiles for identities that have none, keeping
// their carried role and status. Existing profiles are left untouched.
// It returns how many profiles were created.
func (s *ProfileService) SeedIdentities(ctx context.Context, identities []auth.Identity) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := 0
	for i := range identities {
		profile := auth.ProfileFromIdentity(&identities[i], s.now())
		err := s.store.CreateProfile(ctx, profile)
		switch {
		case err == nil:
			created++
		case errors.Is(err, auth.ErrProfileExists):
		default:
			return created, fmt.Errorf("seed profile %s: %w", identities[i].ID, err)
		}
	}
	if created > 0 {
		s.logger.Info("seeded profiles", "created", created, "total", len(identities))
	}
	return created, nil
}
