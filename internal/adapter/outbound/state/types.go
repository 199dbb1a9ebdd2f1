// Package state provides file-based persistence for BloodConnect profiles.
//
// The state.json file stores every profile (role and account status per
// identity). This package provides atomic writes, file locking, and backup
// functionality.
package state

import (
	"time"

	"github.com/enteecaay/BloodDonation-prototype/internal/domain/auth"
)

// CurrentVersion is the schema version written to new state files.
const CurrentVersion = "1"

// AppState is the top-level structure persisted in state.json.
type AppState struct {
	// Version is the schema version for forward compatibility. Currently "1".
	Version string `json:"version"`

	// Profiles are the persisted identity profiles, ordered by email on save.
	Profiles []ProfileEntry `json:"profiles"`

	// CreatedAt is when the state file was first created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the state was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// ProfileEntry is the persisted representation of an auth.Profile.
type ProfileEntry struct {
	IdentityID    string     `json:"identity_id"`
	Email         string     `json:"email"`
	DisplayName   string     `json:"display_name,omitempty"`
	PhotoURL      string     `json:"photo_url,omitempty"`
	Role          string     `json:"role"`
	AccountStatus string     `json:"account_status"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
}

// entryFromProfile converts a domain profile to its persisted form.
func entryFromProfile(p *auth.Profile) ProfileEntry {
	e := ProfileEntry{
		IdentityID:    p.IdentityID,
		Email:         p.Email,
		DisplayName:   p.DisplayName,
		PhotoURL:      p.PhotoURL,
		Role:          string(p.Role),
		AccountStatus: string(p.AccountStatus),
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
	if p.LastLoginAt != nil {
		t := *p.LastLoginAt
		e.LastLoginAt = &t
	}
	return e
}

// toProfile converts a persisted entry back to a domain profile.
// Unknown roles or statuses read from disk are returned as-is; the session
// manager refuses to authenticate with a non-assignable role.
func (e ProfileEntry) toProfile() *auth.Profile {
	p := &auth.Profile{
		IdentityID:    e.IdentityID,
		Email:         e.Email,
		DisplayName:   e.DisplayName,
		PhotoURL:      e.PhotoURL,
		Role:          auth.Role(e.Role),
		AccountStatus: auth.AccountStatus(e.AccountStatus),
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
	if e.LastLoginAt != nil {
		t := *e.LastLoginAt
		p.LastLoginAt = &t
	}
	return p
}
