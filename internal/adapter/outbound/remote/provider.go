package remote

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/enteecaay/BloodDonation-prototype/internal/domain/auth"
)

// ProviderName is the name remote providers report.
const ProviderName = "remote"

// Provider implements auth.IdentityProvider for one session. It holds that
// session's id token; the Client is shared. When the token expires the
// session is invalidated and every listener receives nil.
type Provider struct {
	client *Client
	tokens TokenStore
	logger *slog.Logger

	mu        sync.Mutex
	token     string
	expiry    *time.Timer
	listeners map[int]func(*auth.Identity)
	nextID    int

	wg sync.WaitGroup
}

// NewProvider creates a provider whose token lives in tokens. A nil tokens
// keeps the token in memory only.
func NewProvider(client *Client, tokens TokenStore) *Provider {
	if tokens == nil {
		tokens = &MemoryTokenStore{}
	}
	return &Provider{
		client:    client,
		tokens:    tokens,
		logger:    client.logger.With("provider", ProviderName),
		listeners: make(map[int]func(*auth.Identity)),
	}
}

// Name implements auth.IdentityProvider.
func (p *Provider) Name() string {
	return ProviderName
}

// VerifyCredentials implements auth.IdentityProvider. A handoff token is
// verified locally; a password is exchanged at the identity service.
func (p *Provider) VerifyCredentials(ctx context.Context, creds auth.Credentials) (*auth.Identity, error) {
	var (
		identity *auth.Identity
		token    string
		err      error
	)
	if creds.IsToken() {
		token = creds.Token
		identity, err = p.client.VerifyToken(token)
	} else {
		identity, token, err = p.client.SignIn(ctx, auth.NormalizeEmail(creds.Email), creds.Secret)
	}
	if err != nil {
		return nil, err
	}

	p.setToken(token)
	return identity, nil
}

// SignOut implements auth.IdentityProvider. The local token is always
// cleared; the identity service call is best-effort.
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	token := p.token
	p.token = ""
	p.stopExpiryLocked()
	p.mu.Unlock()

	if err := p.tokens.Clear(); err != nil {
		p.logger.Warn("failed to clear stored token", "error", err)
	}
	if token == "" {
		return nil
	}
	if err := p.client.SignOut(ctx, token); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

// OnSessionChange implements auth.IdentityProvider. fn is called once,
// asynchronously, with the identity of a still-valid stored token or nil,
// and again with nil whenever the current token expires.
func (p *Provider) OnSessionChange(fn func(*auth.Identity)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	stop := make(chan struct{})
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		identity := p.restore()
		select {
		case <-stop:
		default:
			fn(identity)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			if len(p.listeners) == 0 {
				p.stopExpiryLocked()
			}
			p.mu.Unlock()
			close(stop)
		})
		p.wg.Wait()
	}
}

// restore returns the identity of the stored token, discarding tokens that
// no longer verify.
func (p *Provider) restore() *auth.Identity {
	token, err := p.tokens.Load()
	if err != nil {
		p.logger.Warn("failed to load stored token", "error", err)
		return nil
	}
	if token == "" {
		return nil
	}

	identity, err := p.client.VerifyToken(token)
	if err != nil {
		p.logger.Info("stored token rejected", "error", err)
		if clearErr := p.tokens.Clear(); clearErr != nil {
			p.logger.Warn("failed to clear stored token", "error", clearErr)
		}
		return nil
	}

	p.mu.Lock()
	p.token = token
	p.watchExpiryLocked(token)
	p.mu.Unlock()
	return identity
}

func (p *Provider) setToken(token string) {
	p.mu.Lock()
	p.token = token
	p.watchExpiryLocked(token)
	p.mu.Unlock()

	if err := p.tokens.Save(token); err != nil {
		p.logger.Warn("failed to persist token", "error", err)
	}
}

// watchExpiryLocked arms the expiry timer for token. p.mu must be held.
func (p *Provider) watchExpiryLocked(token string) {
	p.stopExpiryLocked()
	exp, err := p.client.tokenExpiry(token)
	if err != nil {
		// Verified moments ago; only an expiry in between gets here.
		exp = time.Now()
	}
	p.expiry = time.AfterFunc(time.Until(exp), func() { p.expire(token) })
}

func (p *Provider) stopExpiryLocked() {
	if p.expiry != nil {
		p.expiry.Stop()
		p.expiry = nil
	}
}

// expire drops token if it is still current and tells every listener the
// session is gone.
func (p *Provider) expire(token string) {
	p.mu.Lock()
	if p.token != token {
		p.mu.Unlock()
		return
	}
	p.token = ""
	p.expiry = nil
	listeners := make([]func(*auth.Identity), 0, len(p.listeners))
	for _, fn := range p.listeners {
		listeners = append(listeners, fn)
	}
	p.mu.Unlock()

	p.logger.Info("id token expired")
	if err := p.tokens.Clear(); err != nil {
		p.logger.Warn("failed to clear stored token", "error", err)
	}
	for _, fn := range listeners {
		fn(nil)
	}
}

// Compile-time interface verification.
var _ auth.IdentityProvider = (*Provider)(nil)
