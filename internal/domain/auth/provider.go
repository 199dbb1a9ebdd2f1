package auth

import "context"

// IdentityProvider verifies credentials and reports externally maintained
// session state. One provider backs each session manager.
type IdentityProvider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// VerifyCredentials authenticates the credentials and returns the identity.
	// Errors wrap ErrInvalidCredentials, ErrAccountSuspended or ErrProviderUnavailable.
	VerifyCredentials(ctx context.Context, creds Credentials) (*Identity, error)

	// SignOut ends the provider-side session. Failures are informational.
	SignOut(ctx context.Context) error

	// OnSessionChange registers fn to receive the provider's session state.
	// fn is called at least once asynchronously with the restored identity,
	// or nil when no external session exists. The returned func unsubscribes.
	OnSessionChange(fn func(*Identity)) (cancel func())
}
