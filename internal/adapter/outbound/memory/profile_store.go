// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/enteecaay/BloodDonation-prototype/internal/domain/auth"
)

// ProfileStore implements auth.ProfileStore with an in-memory map.
// Thread-safe for concurrent access. For development/testing only.
type ProfileStore struct {
	profiles map[string]*auth.Profile // identity ID -> Profile
	mu       sync.RWMutex
}

// NewProfileStore creates a new in-memory profile store.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{
		profiles: make(map[string]*auth.Profile),
	}
}

// GetProfile retrieves a profile by identity ID.
// Returns auth.ErrProfileNotFound if no profile exists.
func (s *ProfileStore) GetProfile(ctx context.Context, identityID string) (*auth.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[identityID]
	if !ok {
		return nil, auth.ErrProfileNotFound
	}
	return copyProfile(p), nil
}

// CreateProfile stores a new profile.
// Returns auth.ErrProfileExists if the identity already has one.
func (s *ProfileStore) CreateProfile(ctx context.Context, profile *auth.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[profile.IdentityID]; ok {
		return auth.ErrProfileExists
	}
	// Store a copy to prevent external mutation
	s.profiles[profile.IdentityID] = copyProfile(profile)
	return nil
}

// UpdateProfile replaces an existing profile.
// Returns auth.ErrProfileNotFound if it doesn't exist.
func (s *ProfileStore) UpdateProfile(ctx context.Context, profile *auth.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[profile.IdentityID]; !ok {
		return auth.ErrProfileNotFound
	}
	s.profiles[profile.IdentityID] = copyProfile(profile)
	return nil
}

// ListProfiles returns all profiles ordered by email.
func (s *ProfileStore) ListProfiles(ctx context.Context) ([]auth.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]auth.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, *copyProfile(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

// Size returns the number of stored profiles.
func (s *ProfileStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}

// copyProfile creates a deep copy of a profile.
func copyProfile(p *auth.Profile) *auth.Profile {
	c := *p
	if p.LastLoginAt != nil {
		t := *p.LastLoginAt
		c.LastLoginAt = &t
	}
	return &c
}

// Compile-time interface verification.
var _ auth.ProfileStore = (*ProfileStore)(nil)
