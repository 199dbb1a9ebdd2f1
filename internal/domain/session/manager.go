package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/enteecaay/BloodDonation-prototype/internal/domain/auth"
	"github.com/enteecaay/BloodDonation-prototype/internal/telemetry"
)

// Default timeouts for provider-bound operations.
const (
	DefaultRestoreTimeout = 10 * time.Second
	DefaultLoginTimeout   = 10 * time.Second
)

// Config holds Manager configuration.
type Config struct {
	// Provider verifies credentials and reports external session state. Required.
	Provider auth.IdentityProvider
	// Profiles resolves roles and account status. Required.
	Profiles auth.ProfileStore
	Logger   *slog.Logger
	Recorder Recorder
	// RestoreTimeout bounds restoration. Default: 10 seconds.
	RestoreTimeout time.Duration
	// LoginTimeout bounds each login attempt. Default: 10 seconds.
	LoginTimeout time.Duration
	// FixtureLogin enables LoginAsFixture.
	FixtureLogin bool
	// Now overrides the clock used for profile timestamps.
	Now func() time.Time
}

// Manager owns the session of one client: the current identity, its role and
// whether restoration has completed.
//
// Login, logout and revocation are serialized. Reads never block on a pending
// provider call, and no identity is exposed until a login fully completes.
// Every state-changing operation bumps a generation counter; a pending login
// whose generation was superseded is discarded with ErrLoginAbandoned.
type Manager struct {
	provider       auth.IdentityProvider
	profiles       auth.ProfileStore
	logger         *slog.Logger
	recorder       Recorder
	restoreTimeout time.Duration
	loginTimeout   time.Duration
	fixtureLogin   bool
	now            func() time.Time

	// ops is a one-slot semaphore serializing login and logout.
	ops chan struct{}

	mu            sync.RWMutex
	state         State
	identity      *auth.Identity
	viaProvider   bool
	pendingID     string
	cancelPending context.CancelFunc
	gen           uint64
	isReady       bool
	closed        bool
	subs          map[int]chan Snapshot
	nextSub       int

	ready       chan struct{}
	firstChange chan *auth.Identity
	restoreOnce sync.Once
	unsubscribe func()

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewManager creates a Manager in the initializing state.
// Call Restore to begin restoration; Login starts it implicitly.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		provider:       cfg.Provider,
		profiles:       cfg.Profiles,
		logger:         cfg.Logger,
		recorder:       cfg.Recorder,
		restoreTimeout: cfg.RestoreTimeout,
		loginTimeout:   cfg.LoginTimeout,
		fixtureLogin:   cfg.FixtureLogin,
		now:            cfg.Now,
		ops:            make(chan struct{}, 1),
		state:          StateInitializing,
		subs:           make(map[int]chan Snapshot),
		ready:          make(chan struct{}),
		firstChange:    make(chan *auth.Identity, 1),
		done:           make(chan struct{}),
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.recorder == nil {
		m.recorder = nopRecorder{}
	}
	if m.restoreTimeout <= 0 {
		m.restoreTimeout = DefaultRestoreTimeout
	}
	if m.loginTimeout <= 0 {
		m.loginTimeout = DefaultLoginTimeout
	}
	if m.now == nil {
		m.now = func() time.Time { return time.Now().UTC() }
	}
	m.logger = m.logger.With("provider", m.provider.Name())
	return m
}

// ProviderName returns the name of the backing identity provider.
func (m *Manager) ProviderName() string {
	return m.provider.Name()
}

// FixtureLoginEnabled reports whether LoginAsFixture is allowed.
func (m *Manager) FixtureLoginEnabled() bool {
	return m.fixtureLogin
}

// Ready returns a channel that is closed once restoration has completed.
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// Snapshot returns the current session state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

// CurrentRole returns the role of the current identity, or guest.
func (m *Manager) CurrentRole() auth.Role {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.identity == nil {
		return auth.RoleGuest
	}
	return m.identity.Role
}

// Identity returns a copy of the current identity, or nil.
func (m *Manager) Identity() *auth.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity.Clone()
}

// Subscribe returns a channel that receives the current snapshot immediately
// and then every subsequent change. Slow readers only see the latest snapshot.
// The returned func unsubscribes and closes the channel.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	ch <- m.snapshotLocked()
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if c, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(c)
			}
		})
	}
}

// Restore subscribes to the provider's session state and resolves the
// initial session. It is idempotent and never fails: absence, errors and
// timeouts all resolve to guest. Restore returns once the session is ready
// or ctx is done.
func (m *Manager) Restore(ctx context.Context) {
	m.start(ctx)
	select {
	case <-m.ready:
	case <-ctx.Done():
	}
}

func (m *Manager) start(ctx context.Context) {
	m.restoreOnce.Do(func() {
		m.unsubscribe = m.provider.OnSessionChange(m.handleSessionChange)
		m.wg.Add(1)
		go m.awaitRestore(ctx)
	})
}

func (m *Manager) awaitRestore(parent context.Context) {
	defer m.wg.Done()

	bounded, cancel := context.WithTimeout(parent, m.restoreTimeout)
	defer cancel()
	go func() {
		select {
		case <-m.done:
			cancel()
		case <-bounded.Done():
		}
	}()

	ctx, span := telemetry.StartSessionSpan(bounded, "restore")
	defer span.End()

	var found *auth.Identity
	select {
	case found = <-m.firstChange:
	case <-m.ready:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			m.logger.Warn("session restoration timed out", "timeout", m.restoreTimeout)
		}
	}

	var identity *auth.Identity
	if found != nil && ctx.Err() == nil {
		resolved, err := m.resolveProfile(ctx, found)
		if err != nil {
			m.logger.Warn("restored session rejected", "identity_id", found.ID, "error", err)
			telemetry.RecordError(span, err)
			if errors.Is(err, auth.ErrAccountSuspended) {
				m.signOut(ctx)
			}
		} else {
			identity = resolved
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isReady {
		// Logout or Close already resolved the session.
		return
	}
	m.markReadyLocked()
	if identity != nil {
		m.setStateLocked(StateAuthenticated, identity, true)
		m.logger.Info("session restored", "identity_id", identity.ID, "role", identity.Role)
	} else {
		m.setStateLocked(StateGuest, nil, false)
		m.logger.Debug("no session to restore")
	}
}

// handleSessionChange receives provider session callbacks. The first one
// feeds restoration; afterwards only invalidations of a provider-backed
// session are applied.
func (m *Manager) handleSessionChange(identity *auth.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isReady {
		select {
		case m.firstChange <- identity.Clone():
		default:
		}
		return
	}

	if identity == nil && m.state == StateAuthenticated && m.viaProvider {
		m.logger.Info("session invalidated by provider", "identity_id", m.identity.ID)
		m.gen++
		m.setStateLocked(StateGuest, nil, false)
		return
	}
	m.logger.Debug("ignoring provider session change", "state", m.state)
}

// Login verifies the credentials with the provider, resolves the identity's
// profile and, on success, makes it the current identity.
//
// Errors wrap one of auth.ErrInvalidCredentials, auth.ErrAccountSuspended,
// auth.ErrProviderUnavailable or auth.ErrProfileInitFailure, or are
// auth.ErrMalformedCredentials, ErrAlreadyAuthenticated, ErrLoginAbandoned
// or ErrManagerClosed. A failed login never exposes an identity.
func (m *Manager) Login(ctx context.Context, creds auth.Credentials) (*auth.Identity, error) {
	if err := auth.ValidateCredentials(creds); err != nil {
		return nil, err
	}
	name := m.provider.Name()
	return m.authenticate(ctx, name, true, func(ctx context.Context) (*auth.Identity, error) {
		ctx, span := telemetry.StartProviderSpan(ctx, name, "verify_credentials")
		defer span.End()
		identity, err := m.provider.VerifyCredentials(ctx, creds)
		telemetry.RecordError(span, err)
		return identity, err
	})
}

// LoginAsFixture makes a fixture identity current without verifying a secret.
// It is only available when the Manager was built with FixtureLogin.
func (m *Manager) LoginAsFixture(ctx context.Context, identity auth.Identity) (*auth.Identity, error) {
	if !m.fixtureLogin {
		return nil, ErrFixtureLoginDisabled
	}
	if identity.ID == "" || !identity.Role.IsAssignable() {
		return nil, fmt.Errorf("%w: fixture identity %q has role %q", auth.ErrInvalidCredentials, identity.ID, identity.Role)
	}
	return m.authenticate(ctx, "fixture", false, func(context.Context) (*auth.Identity, error) {
		if identity.IsSuspended() {
			return nil, fmt.Errorf("%w: %s", auth.ErrAccountSuspended, identity.Email)
		}
		return identity.Clone(), nil
	})
}

func (m *Manager) authenticate(
	ctx context.Context,
	method string,
	viaProvider bool,
	verify func(context.Context) (*auth.Identity, error),
) (*auth.Identity, error) {
	ctx, span := telemetry.StartSessionSpan(ctx, "login")
	defer span.End()

	m.start(context.Background())
	if err := m.waitReady(ctx); err != nil {
		return nil, err
	}
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	defer m.release()

	lctx, cancel := context.WithTimeout(ctx, m.loginTimeout)
	defer cancel()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if m.identity != nil {
		m.mu.Unlock()
		return nil, ErrAlreadyAuthenticated
	}
	m.gen++
	gen := m.gen
	m.cancelPending = cancel
	m.setStateLocked(StateAuthenticating, nil, false)
	m.mu.Unlock()

	identity, err := verify(lctx)
	verified := err == nil
	if verified {
		m.setPending(gen, identity.ID)
		identity, err = m.resolveProfile(lctx, identity)
	}
	err = loginError(ctx, lctx, err)

	applied, err := m.finishLogin(ctx, gen, method, viaProvider, identity, err)
	if err != nil {
		telemetry.RecordError(span, err)
		if verified && viaProvider {
			// The provider holds a session this login will not expose.
			m.signOut(context.Background())
		}
		return nil, err
	}
	return applied, nil
}

// finishLogin applies the outcome of login generation gen unless a logout,
// revocation or close superseded it.
func (m *Manager) finishLogin(
	ctx context.Context,
	gen uint64,
	method string,
	viaProvider bool,
	identity *auth.Identity,
	err error,
) (*auth.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		m.logger.Debug("discarding superseded login", "method", method)
		return nil, ErrLoginAbandoned
	}
	m.cancelPending = nil
	m.pendingID = ""

	if err == nil && ctx.Err() != nil {
		err = fmt.Errorf("%w: %v", ErrLoginAbandoned, ctx.Err())
	}
	if err != nil {
		m.setStateLocked(StateGuest, nil, false)
		if !errors.Is(err, ErrLoginAbandoned) {
			m.recorder.RecordLogin(method, auth.Classify(err))
		}
		m.logger.Info("login failed", "method", method, "reason", auth.Classify(err))
		return nil, err
	}

	m.setStateLocked(StateAuthenticated, identity, viaProvider)
	m.recorder.RecordLogin(method, auth.FailureNone)
	m.logger.Info("login succeeded", "method", method, "identity_id", identity.ID, "role", identity.Role)

	m.wg.Add(1)
	go m.touchLastLogin(identity.ID)

	return identity.Clone(), nil
}

// loginError maps a verification error onto the login taxonomy.
func loginError(ctx, lctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrLoginAbandoned, ctx.Err())
	}
	if auth.Classify(err) != auth.FailureOther {
		return err
	}
	if errors.Is(lctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: login timed out", auth.ErrProviderUnavailable)
	}
	return fmt.Errorf("%w: %v", auth.ErrProviderUnavailable, err)
}

// Logout clears the session unconditionally. A pending login is abandoned.
// Provider sign-out failures are logged and never block the reset.
func (m *Manager) Logout(ctx context.Context) {
	ctx, span := telemetry.StartSessionSpan(ctx, "logout")
	defer span.End()

	m.mu.Lock()
	m.gen++
	if m.cancelPending != nil {
		m.cancelPending()
	}
	hadIdentity := m.identity != nil || m.state == StateAuthenticating
	if hadIdentity {
		m.setStateLocked(StateLoggingOut, nil, false)
	}
	m.mu.Unlock()

	m.ops <- struct{}{}
	defer m.release()

	if hadIdentity {
		m.signOut(ctx)
	}

	m.mu.Lock()
	m.markReadyLocked()
	m.setStateLocked(StateGuest, nil, false)
	m.mu.Unlock()

	m.recorder.RecordLogout(m.provider.Name())
	m.logger.Info("logged out")
}

// Revoke clears the session if it belongs to identityID, including a login
// for that identity still in progress. It reports whether anything was revoked.
func (m *Manager) Revoke(ctx context.Context, identityID string) bool {
	m.mu.Lock()
	matched := (m.identity != nil && m.identity.ID == identityID) ||
		(m.state == StateAuthenticating && m.pendingID == identityID)
	if !matched {
		m.mu.Unlock()
		return false
	}
	m.gen++
	if m.cancelPending != nil {
		m.cancelPending()
	}
	m.setStateLocked(StateGuest, nil, false)
	m.mu.Unlock()

	m.logger.Info("session revoked", "identity_id", identityID)
	m.signOut(ctx)
	return true
}

// Close stops restoration, abandons any pending login and closes all
// subscriber channels. Safe to call multiple times.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.restoreOnce.Do(func() {})

		m.mu.Lock()
		m.closed = true
		m.gen++
		if m.cancelPending != nil {
			m.cancelPending()
		}
		close(m.done)
		if !m.isReady {
			m.markReadyLocked()
			m.setStateLocked(StateGuest, nil, false)
		}
		unsubscribe := m.unsubscribe
		m.mu.Unlock()

		if unsubscribe != nil {
			unsubscribe()
		}
		m.wg.Wait()

		m.mu.Lock()
		for id, ch := range m.subs {
			delete(m.subs, id)
			close(ch)
		}
		m.mu.Unlock()
	})
}

// resolveProfile loads or creates the identity's profile and applies its
// role and status.
func (m *Manager) resolveProfile(ctx context.Context, identity *auth.Identity) (*auth.Identity, error) {
	ctx, span := telemetry.StartSessionSpan(ctx, "resolve_profile")
	defer span.End()

	resolved := identity.Clone()
	profile, err := m.profiles.GetProfile(ctx, identity.ID)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrProfileNotFound):
		profile, err = m.initProfile(ctx, resolved)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
	default:
		err = fmt.Errorf("%w: load profile: %v", auth.ErrProviderUnavailable, err)
		telemetry.RecordError(span, err)
		return nil, err
	}

	if !profile.Role.IsAssignable() {
		err := fmt.Errorf("%w: profile %s has role %q", auth.ErrProfileInitFailure, profile.IdentityID, profile.Role)
		telemetry.RecordError(span, err)
		return nil, err
	}
	profile.Apply(resolved)
	if resolved.IsSuspended() {
		return nil, fmt.Errorf("%w: %s", auth.ErrAccountSuspended, resolved.Email)
	}
	telemetry.RecordError(span, nil)
	return resolved, nil
}

// initProfile creates the profile of a first-time identity.
func (m *Manager) initProfile(ctx context.Context, identity *auth.Identity) (*auth.Profile, error) {
	profile := auth.ProfileFromIdentity(identity, m.now())
	err := m.profiles.CreateProfile(ctx, profile)
	if errors.Is(err, auth.ErrProfileExists) {
		// Created concurrently by another session.
		if existing, getErr := m.profiles.GetProfile(ctx, identity.ID); getErr == nil {
			return existing, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrProfileInitFailure, err)
	}
	m.logger.Info("profile created", "identity_id", profile.IdentityID, "role", profile.Role)
	return profile, nil
}

// touchLastLogin records the login time. Failures are logged only.
func (m *Manager) touchLastLogin(identityID string) {
	defer m.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), m.loginTimeout)
	defer cancel()

	profile, err := m.profiles.GetProfile(ctx, identityID)
	if err != nil {
		m.logger.Debug("failed to load profile for last login", "identity_id", identityID, "error", err)
		return
	}
	now := m.now()
	profile.LastLoginAt = &now
	if err := m.profiles.UpdateProfile(ctx, profile); err != nil {
		m.logger.Debug("failed to update last login", "identity_id", identityID, "error", err)
	}
}

func (m *Manager) signOut(ctx context.Context) {
	ctx, span := telemetry.StartProviderSpan(ctx, m.provider.Name(), "sign_out")
	defer span.End()
	err := m.provider.SignOut(ctx)
	telemetry.RecordError(span, err)
	if err != nil {
		m.logger.Warn("provider sign-out failed", "error", err)
	}
}

func (m *Manager) waitReady(ctx context.Context) error {
	select {
	case <-m.ready:
		return nil
	case <-m.done:
		return ErrManagerClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrLoginAbandoned, ctx.Err())
	}
}

func (m *Manager) acquire(ctx context.Context) error {
	select {
	case m.ops <- struct{}{}:
		return nil
	case <-m.done:
		return ErrManagerClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrLoginAbandoned, ctx.Err())
	}
}

func (m *Manager) release() {
	<-m.ops
}

func (m *Manager) setPending(gen uint64, identityID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen == m.gen {
		m.pendingID = identityID
	}
}

func (m *Manager) markReadyLocked() {
	if !m.isReady {
		m.isReady = true
		close(m.ready)
	}
}

func (m *Manager) setStateLocked(to State, identity *auth.Identity, viaProvider bool) {
	from := m.state
	m.state = to
	m.identity = identity
	m.viaProvider = viaProvider
	if from != to {
		m.recorder.RecordTransition(from, to)
		telemetry.RecordTransition(context.Background(), string(from), string(to))
	}
	m.broadcastLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	snap := Snapshot{
		Status:   StatusInitializing,
		State:    m.state,
		Role:     auth.RoleGuest,
		Identity: m.identity.Clone(),
	}
	if m.isReady {
		snap.Status = StatusReady
	}
	if m.identity != nil {
		snap.Role = m.identity.Role
	}
	return snap
}

func (m *Manager) broadcastLocked() {
	snap := m.snapshotLocked()
	for _, ch := range m.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
