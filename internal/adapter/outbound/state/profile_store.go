package state

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/enteecaay/BloodDonation-prototype/internal/domain/auth"
)

// ProfileStore implements auth.ProfileStore on top of a state File.
// Profiles are loaded once at open and every mutation rewrites the file.
type ProfileStore struct {
	file   *File
	logger *slog.Logger

	mu    sync.RWMutex
	state *AppState
	index map[string]int // identity ID -> position in state.Profiles
}

// OpenProfileStore loads the state file at path (or starts empty when it is
// missing) and returns a profile store backed by it.
func OpenProfileStore(path string, logger *slog.Logger) (*ProfileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	file := NewFile(path, logger)
	st, err := file.Load()
	if err != nil {
		return nil, err
	}

	s := &ProfileStore{file: file, logger: logger, state: st}
	s.reindex()
	logger.Debug("profile state loaded", "path", path, "profiles", len(st.Profiles))
	return s, nil
}

// GetProfile retrieves a profile by identity ID.
func (s *ProfileStore) GetProfile(ctx context.Context, identityID string) (*auth.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[identityID]
	if !ok {
		return nil, auth.ErrProfileNotFound
	}
	return s.state.Profiles[i].toProfile(), nil
}

// CreateProfile stores a new profile and persists the state file.
func (s *ProfileStore) CreateProfile(ctx context.Context, profile *auth.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[profile.IdentityID]; ok {
		return auth.ErrProfileExists
	}

	prev := s.state.Profiles
	s.state.Profiles = append(append([]ProfileEntry(nil), prev...), entryFromProfile(profile))
	if err := s.persistLocked(); err != nil {
		s.state.Profiles = prev
		s.reindex()
		return err
	}
	return nil
}

// UpdateProfile replaces an existing profile and persists the state file.
func (s *ProfileStore) UpdateProfile(ctx context.Context, profile *auth.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[profile.IdentityID]
	if !ok {
		return auth.ErrProfileNotFound
	}

	prev := s.state.Profiles
	next := append([]ProfileEntry(nil), prev...)
	next[i] = entryFromProfile(profile)
	s.state.Profiles = next
	if err := s.persistLocked(); err != nil {
		s.state.Profiles = prev
		s.reindex()
		return err
	}
	return nil
}

// ListProfiles returns all profiles ordered by email.
func (s *ProfileStore) ListProfiles(ctx context.Context) ([]auth.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]auth.Profile, 0, len(s.state.Profiles))
	for _, e := range s.state.Profiles {
		out = append(out, *e.toProfile())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

// Path returns the backing state file path.
func (s *ProfileStore) Path() string {
	return s.file.Path()
}

// persistLocked sorts, reindexes and saves the state. Caller holds s.mu.
func (s *ProfileStore) persistLocked() error {
	sort.SliceStable(s.state.Profiles, func(i, j int) bool {
		return s.state.Profiles[i].Email < s.state.Profiles[j].Email
	})
	s.reindex()
	if err := s.file.Save(s.state); err != nil {
		return fmt.Errorf("persist profiles: %w", err)
	}
	return nil
}

func (s *ProfileStore) reindex() {
	s.index = make(map[string]int, len(s.state.Profiles))
	for i, e := range s.state.Profiles {
		s.index[e.IdentityID] = i
	}
}

// Compile-time interface verification.
var _ auth.ProfileStore = (*ProfileStore)(nil)
