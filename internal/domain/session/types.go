// Package session owns the current identity and role of a client and the
// transitions between login, logout and restoration.
package session

import (
	"errors"

	"github.com/enteecaay/BloodDonation-prototype/internal/domain/auth"
)

// Status reports whether restoration has completed.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusReady        Status = "ready"
)

// State is the lifecycle state of a Manager.
type State string

const (
	StateInitializing   State = "initializing"
	StateGuest          State = "guest"
	StateAuthenticating State = "authenticating"
	StateAuthenticated  State = "authenticated"
	StateLoggingOut     State = "logging_out"
)

// Snapshot is an immutable view of a Manager's session.
type Snapshot struct {
	Status   Status         `json:"status"`
	State    State          `json:"state"`
	Role     auth.Role      `json:"role"`
	Identity *auth.Identity `json:"identity"`
}

// Ready returns true once restoration has completed.
func (s Snapshot) Ready() bool {
	return s.Status == StatusReady
}

// Authenticated returns true if an identity is present.
func (s Snapshot) Authenticated() bool {
	return s.Identity != nil
}

// Session manager errors.
var (
	// ErrAlreadyAuthenticated is returned by Login when an identity is already present.
	ErrAlreadyAuthenticated = errors.New("already authenticated")
	// ErrLoginAbandoned is returned when a pending login was cancelled by the
	// caller or superseded by logout or revocation. Its result is discarded.
	ErrLoginAbandoned = errors.New("login abandoned")
	// ErrFixtureLoginDisabled is returned by LoginAsFixture outside fixture mode.
	ErrFixtureLoginDisabled = errors.New("fixture login disabled")
	// ErrManagerClosed is returned by operations on a closed Manager.
	ErrManagerClosed = errors.New("session manager closed")
	// ErrSessionNotFound is returned by the registry for unknown or expired ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRegistryFull is returned by the registry when the session limit is
	// reached and every session is in use by an identity.
	ErrRegistryFull = errors.New("session registry full")
)

// Recorder receives session events for metrics. All methods must be safe for
// concurrent use and must not block.
type Recorder interface {
	// RecordLogin is called once per completed login attempt. kind is
	// auth.FailureNone on success.
	RecordLogin(provider string, kind auth.FailureKind)
	// RecordLogout is called once per logout.
	RecordLogout(provider string)
	// RecordTransition is called on every state change.
	RecordTransition(from, to State)
}

type nopRecorder struct{}

func (nopRecorder) RecordLogin(string, auth.FailureKind) {}
func (nopRecorder) RecordLogout(string)                  {}
func (nopRecorder) RecordTransition(State, State)        {}
