// Package auth contains the domain types and logic for identities, roles and
// credential verification.
package auth

import (
	"fmt"
	"strings"
	"time"
)

// Role represents the single role an actor holds for authorization purposes.
// Roles are a closed set and are not ordered: staff and admin are parallel.
type Role string

const (
	// RoleGuest is held by every actor that is not authenticated.
	RoleGuest Role = "guest"
	// RoleMember is the default role of a registered donor.
	RoleMember Role = "member"
	// RoleStaff is held by hospital and blood bank staff.
	RoleStaff Role = "staff"
	// RoleAdmin has access to user and inventory administration.
	RoleAdmin Role = "admin"
)

// Roles lists every known role in display order.
var Roles = []Role{RoleGuest, RoleMember, RoleStaff, RoleAdmin}

// IsValid returns true if the role is a known valid role.
func (r Role) IsValid() bool {
	switch r {
	case RoleGuest, RoleMember, RoleStaff, RoleAdmin:
		return true
	default:
		return false
	}
}

// IsAssignable returns true if the role can be held by an authenticated identity.
func (r Role) IsAssignable() bool {
	return r.IsValid() && r != RoleGuest
}

// String implements fmt.Stringer.
func (r Role) String() string {
	return string(r)
}

// ParseRole converts a role name into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// AccountStatus is the administrative state of an account.
type AccountStatus string

const (
	// StatusActive accounts may log in.
	StatusActive AccountStatus = "active"
	// StatusSuspended accounts are blocked from completing login.
	StatusSuspended AccountStatus = "suspended"
)

// IsValid returns true if the status is a known status.
func (s AccountStatus) IsValid() bool {
	return s == StatusActive || s == StatusSuspended
}

// ParseAccountStatus converts a status name into an AccountStatus.
func ParseAccountStatus(s string) (AccountStatus, error) {
	st := AccountStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("unknown account status %q", s)
	}
	return st, nil
}

// Identity represents an authenticated user.
type Identity struct {
	// ID is the unique identifier for this identity.
	ID string `json:"id"`
	// Email is the login email address.
	Email string `json:"email"`
	// DisplayName is the human-readable name.
	DisplayName string `json:"display_name"`
	// Role is the assigned role. Empty when the provider does not carry roles
	// and the role must be resolved from the profile store.
	Role Role `json:"role"`
	// PhotoURL is an optional avatar URL.
	PhotoURL string `json:"photo_url,omitempty"`
	// AccountStatus is empty when the provider does not track it.
	AccountStatus AccountStatus `json:"account_status,omitempty"`
}

// IsSuspended returns true if the identity is blocked.
func (i *Identity) IsSuspended() bool {
	return i.AccountStatus == StatusSuspended
}

// Clone returns a copy of the identity, or nil for a nil receiver.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

// Credentials is what a login request submits: an email and secret pair, or a
// handoff token issued by an external identity provider.
type Credentials struct {
	Email  string `json:"email"`
	Secret string `json:"password"`
	Token  string `json:"token,omitempty"`
}

// IsToken returns true if the credentials carry a provider handoff token.
func (c Credentials) IsToken() bool {
	return c.Token != ""
}

// NormalizeEmail lowercases and trims an email address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Profile is the persisted record that holds an identity's role and status.
type Profile struct {
	IdentityID    string        `json:"identity_id"`
	Email         string        `json:"email"`
	DisplayName   string        `json:"display_name"`
	PhotoURL      string        `json:"photo_url,omitempty"`
	Role          Role          `json:"role"`
	AccountStatus AccountStatus `json:"account_status"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	LastLoginAt   *time.Time    `json:"last_login_at,omitempty"`
}

// NewMemberProfile builds the profile created on an identity's first login.
func NewMemberProfile(identity *Identity, now time.Time) *Profile {
	return &Profile{
		IdentityID:    identity.ID,
		Email:         identity.Email,
		DisplayName:   identity.DisplayName,
		PhotoURL:      identity.PhotoURL,
		Role:          RoleMember,
		AccountStatus: StatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// ProfileFromIdentity builds a profile that mirrors a fully specified identity.
func ProfileFromIdentity(identity *Identity, now time.Time) *Profile {
	p := NewMemberProfile(identity, now)
	if identity.Role.IsAssignable() {
		p.Role = identity.Role
	}
	if identity.AccountStatus.IsValid() {
		p.AccountStatus = identity.AccountStatus
	}
	return p
}

// Apply copies the profile's role and status onto the identity, filling
// display fields the provider left empty.
func (p *Profile) Apply(identity *Identity) {
	identity.Role = p.Role
	identity.AccountStatus = p.AccountStatus
	if identity.DisplayName == "" {
		identity.DisplayName = p.DisplayName
	}
	if identity.PhotoURL == "" {
		identity.PhotoURL = p.PhotoURL
	}
	if identity.Email == "" {
		identity.Email = p.Email
	}
}
