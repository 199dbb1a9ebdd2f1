package auth

import "context"

// ProfileStore persists the profile record of each identity.
// This interface is defined in the domain to avoid circular imports.
// Implementations: in-memory (dev), JSON state file, SQLite.
type ProfileStore interface {
	// GetProfile retrieves the profile of an identity.
	// Returns ErrProfileNotFound if no profile exists.
	GetProfile(ctx context.Context, identityID string) (*Profile, error)

	// CreateProfile stores a new profile.
	// Returns ErrProfileExists if a profile for the identity already exists.
	CreateProfile(ctx context.Context, profile *Profile) error

	// UpdateProfile replaces an existing profile.
	// Returns ErrProfileNotFound if the profile doesn't exist.
	UpdateProfile(ctx context.Context, profile *Profile) error

	// ListProfiles returns every profile ordered by email.
	ListProfiles(ctx context.Context) ([]Profile, error)
}
