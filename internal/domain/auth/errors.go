package auth

import "errors"

// Login failure taxonomy. Every login-path error returned by a provider or the
// session manager wraps exactly one of these.
var (
	// ErrInvalidCredentials is returned for an unknown email or a wrong secret.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountSuspended is returned when the credentials are valid but the account is blocked.
	ErrAccountSuspended = errors.New("account suspended")
	// ErrProviderUnavailable is returned when the identity provider or profile
	// store cannot be reached in time.
	ErrProviderUnavailable = errors.New("identity provider unavailable")
	// ErrProfileInitFailure is returned when a first-time identity's profile
	// cannot be created.
	ErrProfileInitFailure = errors.New("profile initialization failed")
)

// Profile store errors.
var (
	// ErrProfileNotFound is returned when no profile exists for an identity.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrProfileExists is returned when creating a profile that already exists.
	ErrProfileExists = errors.New("profile already exists")
)

// FailureKind classifies a login error for callers that need a discriminated result.
type FailureKind string

const (
	FailureNone                FailureKind = ""
	FailureInvalidCredentials  FailureKind = "invalid_credentials"
	FailureAccountSuspended    FailureKind = "account_suspended"
	FailureProviderUnavailable FailureKind = "provider_unavailable"
	FailureProfileInit         FailureKind = "profile_init_failure"
	FailureOther               FailureKind = "other"
)

// Classify maps an error onto the login failure taxonomy.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrAccountSuspended):
		return FailureAccountSuspended
	case errors.Is(err, ErrInvalidCredentials):
		return FailureInvalidCredentials
	case errors.Is(err, ErrProfileInitFailure):
		return FailureProfileInit
	case errors.Is(err, ErrProviderUnavailable):
		return FailureProviderUnavailable
	default:
		return FailureOther
	}
}
