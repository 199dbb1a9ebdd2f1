package fixture

import (
	"context"
	"fmt"
	"sync"

	"github.com/enteecaay/BloodDonation-prototype/internal/domain/auth"
)

// ProviderName is the name fixture providers report.
const ProviderName = "fixture"

// Provider implements auth.IdentityProvider over a Directory.
// Fixture sessions are never persisted, so restoration always finds none.
type Provider struct {
	dir *Directory
	wg  sync.WaitGroup
}

// NewProvider creates a provider over dir.
func NewProvider(dir *Directory) *Provider {
	return &Provider{dir: dir}
}

// Name implements auth.IdentityProvider.
func (p *Provider) Name() string {
	return ProviderName
}

// VerifyCredentials implements auth.IdentityProvider.
// Email matching is case-insensitive. Handoff tokens are not supported.
func (p *Provider) VerifyCredentials(ctx context.Context, creds auth.Credentials) (*auth.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrProviderUnavailable, err)
	}
	if creds.IsToken() {
		return nil, fmt.Errorf("%w: fixture provider does not accept tokens", auth.ErrInvalidCredentials)
	}
	return p.dir.verify(creds.Email, creds.Secret)
}

// SignOut implements auth.IdentityProvider. There is no external session to end.
func (p *Provider) SignOut(ctx context.Context) error {
	return nil
}

// OnSessionChange implements auth.IdentityProvider. fn is called once,
// asynchronously, with no identity.
func (p *Provider) OnSessionChange(fn func(*auth.Identity)) func() {
	stop := make(chan struct{})
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		select {
		case <-stop:
		default:
			fn(nil)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(stop) })
		p.wg.Wait()
	}
}

// Compile-time interface verification.
var _ auth.IdentityProvider = (*Provider)(nil)
