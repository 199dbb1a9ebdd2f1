package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/enteecaay/BloodDonation-prototype/internal/domain/auth"
)

// fakeProvider implements auth.IdentityProvider for testing.
type fakeProvider struct {
	mu sync.Mutex
	// restored is delivered by the first OnSessionChange callback.
	restored *auth.Identity
	// silent suppresses the initial callback.
	silent bool
	// restoreDelay delays the initial callback.
	restoreDelay time.Duration
	verify       func(ctx context.Context, creds auth.Credentials) (*auth.Identity, error)
	signOutErr   error
	signOuts     int
	verifyCalls  int
	listeners    []func(*auth.Identity)
	wg           sync.WaitGroup
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) VerifyCredentials(ctx context.Context, creds auth.Credentials) (*auth.Identity, error) {
	p.mu.Lock()
	p.verifyCalls++
	verify := p.verify
	p.mu.Unlock()
	if verify == nil {
		return nil, auth.ErrInvalidCredentials
	}
	return verify(ctx, creds)
}

func (p *fakeProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signOuts++
	return p.signOutErr
}

func (p *fakeProvider) OnSessionChange(fn func(*auth.Identity)) func() {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()

	stop := make(chan struct{})
	if !p.silent {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			select {
			case <-time.After(p.restoreDelay):
				fn(p.restored.Clone())
			case <-stop:
			}
		}()
	}
	var once sync.Once
	return func() {
		once.Do(func() { close(stop) })
		p.wg.Wait()
	}
}

// emit delivers a later session change to every listener.
func (p *fakeProvider) emit(identity *auth.Identity) {
	p.mu.Lock()
	listeners := append([]func(*auth.Identity){}, p.listeners...)
	p.mu.Unlock()
	for _, fn := range listeners {
		fn(identity)
	}
}

func (p *fakeProvider) counts() (verifies, signOuts int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.verifyCalls, p.signOuts
}

// fakeProfileStore implements auth.ProfileStore for testing.
type fakeProfileStore struct {
	mu        sync.Mutex
	profiles  map[string]*auth.Profile
	getErr    error
	createErr error
}

func newFakeProfileStore() *fakeProfileStore {
	return &fakeProfileStore{profiles: make(map[string]*auth.Profile)}
}

func (s *fakeProfileStore) GetProfile(ctx context.Context, id string) (*auth.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	p, ok := s.profiles[id]
	if !ok {
		return nil, auth.ErrProfileNotFound
	}
	c := *p
	return &c, nil
}

func (s *fakeProfileStore) CreateProfile(ctx context.Context, p *auth.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if _, ok := s.profiles[p.IdentityID]; ok {
		return auth.ErrProfileExists
	}
	c := *p
	s.profiles[p.IdentityID] = &c
	return nil
}

func (s *fakeProfileStore) UpdateProfile(ctx context.Context, p *auth.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.IdentityID]; !ok {
		return auth.ErrProfileNotFound
	}
	c := *p
	s.profiles[p.IdentityID] = &c
	return nil
}

func (s *fakeProfileStore) ListProfiles(ctx context.Context) ([]auth.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, *p)
	}
	return out, nil
}

func (s *fakeProfileStore) put(p auth.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.IdentityID] = &p
}

func (s *fakeProfileStore) get(id string) (auth.Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return auth.Profile{}, false
	}
	return *p, true
}

// recordingRecorder implements Recorder for testing.
type recordingRecorder struct {
	mu          sync.Mutex
	logins      []auth.FailureKind
	logouts     int
	transitions []State
}

func (r *recordingRecorder) RecordLogin(provider string, kind auth.FailureKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logins = append(r.logins, kind)
}

func (r *recordingRecorder) RecordLogout(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logouts++
}

func (r *recordingRecorder) RecordTransition(from, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, to)
}

var _ auth.IdentityProvider = (*fakeProvider)(nil)
var _ auth.ProfileStore = (*fakeProfileStore)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testEnv struct {
	provider *fakeProvider
	profiles *fakeProfileStore
	recorder *recordingRecorder
	manager  *Manager
}

func newTestEnv(t *testing.T, provider *fakeProvider, mutate ...func(*Config)) *testEnv {
	t.Helper()
	env := &testEnv{
		provider: provider,
		profiles: newFakeProfileStore(),
		recorder: &recordingRecorder{},
	}
	cfg := Config{
		Provider:       provider,
		Profiles:       env.profiles,
		Logger:         testLogger(),
		Recorder:       env.recorder,
		RestoreTimeout: time.Second,
		LoginTimeout:   time.Second,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	env.manager = NewManager(cfg)
	t.Cleanup(env.manager.Close)
	return env
}

func (e *testEnv) ready(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	e.manager.Restore(ctx)
	if !e.manager.Snapshot().Ready() {
		t.Fatal("manager not ready after Restore")
	}
}

// assertConsistent checks that the role is guest exactly when no identity is present.
func assertConsistent(t *testing.T, m *Manager) {
	t.Helper()
	snap := m.Snapshot()
	if (snap.Role == auth.RoleGuest) != (snap.Identity == nil) {
		t.Fatalf("inconsistent snapshot: role=%q identity=%+v", snap.Role, snap.Identity)
	}
	if m.CurrentRole() != snap.Role {
		t.Fatalf("CurrentRole() = %q, snapshot role %q", m.CurrentRole(), snap.Role)
	}
}

func identityFor(id string, role auth.Role) *auth.Identity {
	return &auth.Identity{ID: id, Email: id + "@example.com", DisplayName: id, Role: role, AccountStatus: auth.StatusActive}
}

func acceptAs(identity *auth.Identity) func(context.Context, auth.Credentials) (*auth.Identity, error) {
	return func(context.Context, auth.Credentials) (*auth.Identity, error) {
		return identity.Clone(), nil
	}
}

var adminCreds = auth.Credentials{Email: "admin@example.com", Secret: "password"}

func TestManager_InitialState(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{silent: true})

	snap := env.manager.Snapshot()
	if snap.Status != StatusInitializing || snap.State != StateInitializing {
		t.Errorf("initial snapshot = %+v, want initializing", snap)
	}
	if env.manager.CurrentRole() != auth.RoleGuest {
		t.Errorf("CurrentRole() = %q, want guest", env.manager.CurrentRole())
	}
	select {
	case <-env.manager.Ready():
		t.Error("Ready() closed before restoration")
	default:
	}
}

func TestManager_RestoreNoSession(t *testing.T) {
	defer goleak.VerifyNone(t)

	env := newTestEnv(t, &fakeProvider{})
	env.ready(t)

	snap := env.manager.Snapshot()
	if snap.State != StateGuest || snap.Role != auth.RoleGuest || snap.Identity != nil {
		t.Errorf("snapshot = %+v, want ready guest", snap)
	}
	assertConsistent(t, env.manager)
	env.manager.Close()
}

func TestManager_RestoreExistingSession(t *testing.T) {
	provider := &fakeProvider{restored: &auth.Identity{ID: "u1", Email: "staff@example.com"}}
	env := newTestEnv(t, provider)
	env.profiles.put(auth.Profile{IdentityID: "u1", Role: auth.RoleStaff, AccountStatus: auth.StatusActive})

	env.ready(t)

	snap := env.manager.Snapshot()
	if snap.State != StateAuthenticated || snap.Role != auth.RoleStaff {
		t.Errorf("snapshot = %+v, want authenticated staff", snap)
	}
	assertConsistent(t, env.manager)
}

func TestManager_RestoreFirstTimeIdentityCreatesMemberProfile(t *testing.T) {
	provider := &fakeProvider{restored: &auth.Identity{ID: "new", Email: "new@example.com"}}
	env := newTestEnv(t, provider)

	env.ready(t)

	if got := env.manager.CurrentRole(); got != auth.RoleMember {
		t.Errorf("CurrentRole() = %q, want member", got)
	}
	p, ok := env.profiles.get("new")
	if !ok {
		t.Fatal("profile not created")
	}
	if p.Role != auth.RoleMember || p.AccountStatus != auth.StatusActive {
		t.Errorf("created profile = %+v, want active member", p)
	}
}

func TestManager_RestoreSuspendedIdentityResolvesGuest(t *testing.T) {
	provider := &fakeProvider{restored: &auth.Identity{ID: "u1"}}
	env := newTestEnv(t, provider)
	env.profiles.put(auth.Profile{IdentityID: "u1", Role: auth.RoleMember, AccountStatus: auth.StatusSuspended})

	env.ready(t)

	if env.manager.Snapshot().State != StateGuest {
		t.Errorf("state = %q, want guest", env.manager.Snapshot().State)
	}
	if _, signOuts := provider.counts(); signOuts != 1 {
		t.Errorf("sign-outs = %d, want 1", signOuts)
	}
}

func TestManager_RestoreTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	env := newTestEnv(t, &fakeProvider{silent: true}, func(c *Config) {
		c.RestoreTimeout = 50 * time.Millisecond
	})

	start := time.Now()
	env.ready(t)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("restore took %v, want about 50ms", elapsed)
	}
	if env.manager.Snapshot().State != StateGuest {
		t.Errorf("state = %q, want guest", env.manager.Snapshot().State)
	}
	env.manager.Close()
}

func TestManager_RestoreIsIdempotent(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})
	env.ready(t)
	env.ready(t)

	env.provider.mu.Lock()
	listeners := len(env.provider.listeners)
	env.provider.mu.Unlock()
	if listeners != 1 {
		t.Errorf("provider subscriptions = %d, want 1", listeners)
	}
}

func TestManager_Login(t *testing.T) {
	tests := []struct {
		name      string
		verify    func(context.Context, auth.Credentials) (*auth.Identity, error)
		setup     func(*fakeProfileStore)
		wantErr   error
		wantRole  auth.Role
		wantKind  auth.FailureKind
		wantState State
		// verified identities rejected afterwards must end the provider session
		wantSignOuts int
	}{
		{
			name:      "admin fixture identity",
			verify:    acceptAs(identityFor("admin", auth.RoleAdmin)),
			wantRole:  auth.RoleAdmin,
			wantState: StateAuthenticated,
		},
		{
			name:      "provider identity without role becomes member",
			verify:    acceptAs(&auth.Identity{ID: "remote-1", Email: "donor@example.com"}),
			wantRole:  auth.RoleMember,
			wantState: StateAuthenticated,
		},
		{
			name:   "existing profile role wins",
			verify: acceptAs(identityFor("u1", auth.RoleMember)),
			setup: func(s *fakeProfileStore) {
				s.put(auth.Profile{IdentityID: "u1", Role: auth.RoleStaff, AccountStatus: auth.StatusActive})
			},
			wantRole:  auth.RoleStaff,
			wantState: StateAuthenticated,
		},
		{
			name: "invalid credentials",
			verify: func(context.Context, auth.Credentials) (*auth.Identity, error) {
				return nil, auth.ErrInvalidCredentials
			},
			wantErr:   auth.ErrInvalidCredentials,
			wantKind:  auth.FailureInvalidCredentials,
			wantState: StateGuest,
		},
		{
			name: "suspended by provider",
			verify: func(context.Context, auth.Credentials) (*auth.Identity, error) {
				return nil, auth.ErrAccountSuspended
			},
			wantErr:   auth.ErrAccountSuspended,
			wantKind:  auth.FailureAccountSuspended,
			wantState: StateGuest,
		},
		{
			name:   "suspended by profile",
			verify: acceptAs(identityFor("u1", auth.RoleMember)),
			setup: func(s *fakeProfileStore) {
				s.put(auth.Profile{IdentityID: "u1", Role: auth.RoleMember, AccountStatus: auth.StatusSuspended})
			},
			wantErr:      auth.ErrAccountSuspended,
			wantKind:     auth.FailureAccountSuspended,
			wantState:    StateGuest,
			wantSignOuts: 1,
		},
		{
			name: "unclassified provider error is unavailable",
			verify: func(context.Context, auth.Credentials) (*auth.Identity, error) {
				return nil, errors.New("connection reset")
			},
			wantErr:   auth.ErrProviderUnavailable,
			wantKind:  auth.FailureProviderUnavailable,
			wantState: StateGuest,
		},
		{
			name:   "profile creation fails",
			verify: acceptAs(&auth.Identity{ID: "remote-2"}),
			setup: func(s *fakeProfileStore) {
				s.createErr = errors.New("disk full")
			},
			wantErr:      auth.ErrProfileInitFailure,
			wantKind:     auth.FailureProfileInit,
			wantState:    StateGuest,
			wantSignOuts: 1,
		},
		{
			name:   "profile store unreachable",
			verify: acceptAs(&auth.Identity{ID: "remote-3"}),
			setup: func(s *fakeProfileStore) {
				s.getErr = errors.New("database is locked")
			},
			wantErr:      auth.ErrProviderUnavailable,
			wantKind:     auth.FailureProviderUnavailable,
			wantState:    StateGuest,
			wantSignOuts: 1,
		},
		{
			name:   "profile with guest role",
			verify: acceptAs(identityFor("u1", auth.RoleMember)),
			setup: func(s *fakeProfileStore) {
				s.put(auth.Profile{IdentityID: "u1", Role: auth.RoleGuest, AccountStatus: auth.StatusActive})
			},
			wantErr:      auth.ErrProfileInitFailure,
			wantKind:     auth.FailureProfileInit,
			wantState:    StateGuest,
			wantSignOuts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &fakeProvider{verify: tt.verify}
			env := newTestEnv(t, provider)
			if tt.setup != nil {
				tt.setup(env.profiles)
			}
			env.ready(t)

			identity, err := env.manager.Login(context.Background(), adminCreds)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Login() error = %v, want %v", err, tt.wantErr)
				}
				if identity != nil {
					t.Errorf("Login() returned identity %+v on failure", identity)
				}
				if got := auth.Classify(err); got != tt.wantKind {
					t.Errorf("Classify() = %q, want %q", got, tt.wantKind)
				}
			} else {
				if err != nil {
					t.Fatalf("Login() error = %v", err)
				}
				if identity.Role != tt.wantRole {
					t.Errorf("identity role = %q, want %q", identity.Role, tt.wantRole)
				}
				if env.manager.CurrentRole() != tt.wantRole {
					t.Errorf("CurrentRole() = %q, want %q", env.manager.CurrentRole(), tt.wantRole)
				}
			}
			if got := env.manager.Snapshot().State; got != tt.wantState {
				t.Errorf("state = %q, want %q", got, tt.wantState)
			}
			assertConsistent(t, env.manager)

			env.recorder.mu.Lock()
			logins := append([]auth.FailureKind{}, env.recorder.logins...)
			env.recorder.mu.Unlock()
			if len(logins) != 1 || logins[0] != tt.wantKind {
				t.Errorf("recorded logins = %v, want [%q]", logins, tt.wantKind)
			}
			if _, signOuts := provider.counts(); signOuts != tt.wantSignOuts {
				t.Errorf("sign-outs = %d, want %d", signOuts, tt.wantSignOuts)
			}
		})
	}
}

func TestManager_LoginMalformedCredentialsSkipsProvider(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{verify: acceptAs(identityFor("u1", auth.RoleMember))})
	env.ready(t)

	_, err := env.manager.Login(context.Background(), auth.Credentials{Email: "not-an-email", Secret: "x"})
	if !errors.Is(err, auth.ErrMalformedCredentials) {
		t.Fatalf("Login() error = %v, want ErrMalformedCredentials", err)
	}
	if verifies, _ := env.provider.counts(); verifies != 0 {
		t.Errorf("provider called %d times for malformed input", verifies)
	}
}

func TestManager_LoginWhileAuthenticated(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{verify: acceptAs(identityFor("u1", auth.RoleMember))})
	env.ready(t)

	if _, err := env.manager.Login(context.Background(), adminCreds); err != nil {
		t.Fatalf("first Login() error = %v", err)
	}
	_, err := env.manager.Login(context.Background(), adminCreds)
	if !errors.Is(err, ErrAlreadyAuthenticated) {
		t.Fatalf("second Login() error = %v, want ErrAlreadyAuthenticated", err)
	}
	if env.manager.CurrentRole() != auth.RoleMember {
		t.Error("failed second login changed the session")
	}
}

func TestManager_LoginTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	blocking := func(ctx context.Context, _ auth.Credentials) (*auth.Identity, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	env := newTestEnv(t, &fakeProvider{verify: blocking}, func(c *Config) {
		c.LoginTimeout = 50 * time.Millisecond
	})
	env.ready(t)

	_, err := env.manager.Login(context.Background(), adminCreds)
	if !errors.Is(err, auth.ErrProviderUnavailable) {
		t.Fatalf("Login() error = %v, want ErrProviderUnavailable", err)
	}
	if env.manager.Snapshot().State != StateGuest {
		t.Errorf("state = %q, want guest", env.manager.Snapshot().State)
	}
	env.manager.Close()
}

func TestManager_LoginCancelledIsNotApplied(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	slow := func(ctx context.Context, _ auth.Credentials) (*auth.Identity, error) {
		close(started)
		<-release
		return identityFor("u1", auth.RoleAdmin), nil
	}
	provider := &fakeProvider{verify: slow}
	env := newTestEnv(t, provider)
	env.ready(t)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := env.manager.Login(ctx, adminCreds)
		errCh <- err
	}()

	<-started
	if env.manager.Snapshot().State != StateAuthenticating {
		t.Errorf("state = %q, want authenticating", env.manager.Snapshot().State)
	}
	if env.manager.CurrentRole() != auth.RoleGuest {
		t.Error("identity exposed while login pending")
	}
	cancel()
	close(release)

	if err := <-errCh; !errors.Is(err, ErrLoginAbandoned) {
		t.Fatalf("Login() error = %v, want ErrLoginAbandoned", err)
	}
	if env.manager.CurrentRole() != auth.RoleGuest {
		t.Errorf("CurrentRole() = %q, cancelled login was applied", env.manager.CurrentRole())
	}
	if _, signOuts := provider.counts(); signOuts != 1 {
		t.Errorf("sign-outs = %d, want 1 for the abandoned provider session", signOuts)
	}
	assertConsistent(t, env.manager)
}

func TestManager_LoginSupersededByCloseSignsOut(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	slow := func(ctx context.Context, _ auth.Credentials) (*auth.Identity, error) {
		close(started)
		<-release
		return identityFor("u1", auth.RoleMember), nil
	}
	provider := &fakeProvider{verify: slow}
	env := newTestEnv(t, provider)
	env.ready(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := env.manager.Login(context.Background(), adminCreds)
		errCh <- err
	}()

	<-started
	env.manager.Close()
	close(release)

	if err := <-errCh; !errors.Is(err, ErrLoginAbandoned) {
		t.Fatalf("Login() error = %v, want ErrLoginAbandoned", err)
	}
	if env.manager.CurrentRole() != auth.RoleGuest {
		t.Errorf("CurrentRole() = %q after close, want guest", env.manager.CurrentRole())
	}
	if _, signOuts := provider.counts(); signOuts != 1 {
		t.Errorf("sign-outs = %d, want 1 for the discarded provider session", signOuts)
	}
}

func TestManager_LogoutDuringPendingLogin(t *testing.T) {
	started := make(chan struct{})
	slow := func(ctx context.Context, _ auth.Credentials) (*auth.Identity, error) {
		close(started)
		<-ctx.Done()
		return identityFor("u1", auth.RoleAdmin), nil
	}
	env := newTestEnv(t, &fakeProvider{verify: slow})
	env.ready(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := env.manager.Login(context.Background(), adminCreds)
		errCh <- err
	}()

	<-started
	env.manager.Logout(context.Background())

	if err := <-errCh; !errors.Is(err, ErrLoginAbandoned) {
		t.Fatalf("Login() error = %v, want ErrLoginAbandoned", err)
	}
	if env.manager.Snapshot().State != StateGuest {
		t.Errorf("state = %q, want guest", env.manager.Snapshot().State)
	}
	assertConsistent(t, env.manager)
}

func TestManager_LoginWaitsForReady(t *testing.T) {
	provider := &fakeProvider{
		restoreDelay: 50 * time.Millisecond,
		verify:       acceptAs(identityFor("u1", auth.RoleMember)),
	}
	env := newTestEnv(t, provider)

	identity, err := env.manager.Login(context.Background(), adminCreds)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if identity.Role != auth.RoleMember {
		t.Errorf("role = %q, want member", identity.Role)
	}
	if !env.manager.Snapshot().Ready() {
		t.Error("login completed before ready")
	}
}

func TestManager_Logout(t *testing.T) {
	tests := []struct {
		name       string
		signOutErr error
	}{
		{name: "sign-out succeeds"},
		{name: "sign-out fails", signOutErr: errors.New("network down")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &fakeProvider{
				verify:     acceptAs(identityFor("staff", auth.RoleStaff)),
				signOutErr: tt.signOutErr,
			}
			env := newTestEnv(t, provider)
			env.ready(t)

			if _, err := env.manager.Login(context.Background(), adminCreds); err != nil {
				t.Fatalf("Login() error = %v", err)
			}
			if env.manager.CurrentRole() != auth.RoleStaff {
				t.Fatalf("CurrentRole() = %q, want staff", env.manager.CurrentRole())
			}

			env.manager.Logout(context.Background())

			snap := env.manager.Snapshot()
			if snap.State != StateGuest || snap.Role != auth.RoleGuest || snap.Identity != nil {
				t.Errorf("snapshot after logout = %+v, want guest", snap)
			}
			if _, signOuts := provider.counts(); signOuts != 1 {
				t.Errorf("sign-outs = %d, want 1", signOuts)
			}
			if env.recorder.logouts != 1 {
				t.Errorf("recorded logouts = %d, want 1", env.recorder.logouts)
			}
		})
	}
}

func TestManager_LogoutWhileGuestSkipsSignOut(t *testing.T) {
	provider := &fakeProvider{}
	env := newTestEnv(t, provider)
	env.ready(t)

	env.manager.Logout(context.Background())

	if _, signOuts := provider.counts(); signOuts != 0 {
		t.Errorf("sign-outs = %d, want 0", signOuts)
	}
	if env.manager.Snapshot().State != StateGuest {
		t.Errorf("state = %q, want guest", env.manager.Snapshot().State)
	}
}

func TestManager_LogoutBeforeReadyResolvesGuest(t *testing.T) {
	provider := &fakeProvider{
		restored:     identityFor("u1", auth.RoleMember),
		restoreDelay: 100 * time.Millisecond,
	}
	env := newTestEnv(t, provider)
	env.manager.start(context.Background())

	env.manager.Logout(context.Background())

	snap := env.manager.Snapshot()
	if !snap.Ready() || snap.State != StateGuest {
		t.Fatalf("snapshot = %+v, want ready guest", snap)
	}

	// The late restoration result must not resurrect the session.
	time.Sleep(200 * time.Millisecond)
	if env.manager.CurrentRole() != auth.RoleGuest {
		t.Errorf("CurrentRole() = %q after late restore, want guest", env.manager.CurrentRole())
	}
}

func TestManager_Revoke(t *testing.T) {
	provider := &fakeProvider{verify: acceptAs(identityFor("u1", auth.RoleAdmin))}
	env := newTestEnv(t, provider)
	env.ready(t)

	if _, err := env.manager.Login(context.Background(), adminCreds); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if env.manager.Revoke(context.Background(), "someone-else") {
		t.Error("Revoke() revoked a different identity")
	}
	if env.manager.CurrentRole() != auth.RoleAdmin {
		t.Fatal("session changed by unrelated revoke")
	}

	if !env.manager.Revoke(context.Background(), "u1") {
		t.Fatal("Revoke() = false, want true")
	}
	if env.manager.CurrentRole() != auth.RoleGuest {
		t.Errorf("CurrentRole() = %q after revoke, want guest", env.manager.CurrentRole())
	}
	assertConsistent(t, env.manager)
}

func TestManager_ProviderInvalidation(t *testing.T) {
	provider := &fakeProvider{verify: acceptAs(identityFor("u1", auth.RoleMember))}
	env := newTestEnv(t, provider)
	env.ready(t)

	if _, err := env.manager.Login(context.Background(), adminCreds); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	// A non-nil identity after ready never replaces the session.
	provider.emit(identityFor("intruder", auth.RoleAdmin))
	if env.manager.Identity().ID != "u1" {
		t.Fatal("provider callback replaced the active session")
	}

	provider.emit(nil)
	if env.manager.CurrentRole() != auth.RoleGuest {
		t.Errorf("CurrentRole() = %q after invalidation, want guest", env.manager.CurrentRole())
	}
}

func TestManager_LoginAsFixture(t *testing.T) {
	t.Run("disabled outside fixture mode", func(t *testing.T) {
		env := newTestEnv(t, &fakeProvider{})
		env.ready(t)
		_, err := env.manager.LoginAsFixture(context.Background(), *identityFor("admin", auth.RoleAdmin))
		if !errors.Is(err, ErrFixtureLoginDisabled) {
			t.Fatalf("LoginAsFixture() error = %v, want ErrFixtureLoginDisabled", err)
		}
	})

	fixtureMode := func(c *Config) { c.FixtureLogin = true }

	t.Run("admin", func(t *testing.T) {
		env := newTestEnv(t, &fakeProvider{}, fixtureMode)
		env.ready(t)
		identity, err := env.manager.LoginAsFixture(context.Background(), *identityFor("admin", auth.RoleAdmin))
		if err != nil {
			t.Fatalf("LoginAsFixture() error = %v", err)
		}
		if identity.Role != auth.RoleAdmin || env.manager.CurrentRole() != auth.RoleAdmin {
			t.Errorf("role = %q, want admin", identity.Role)
		}

		// Fixture sessions are not provider-backed.
		env.provider.emit(nil)
		if env.manager.CurrentRole() != auth.RoleAdmin {
			t.Error("provider invalidation cleared a fixture session")
		}
	})

	t.Run("suspended", func(t *testing.T) {
		env := newTestEnv(t, &fakeProvider{}, fixtureMode)
		env.ready(t)
		suspended := *identityFor("peter.lee", auth.RoleMember)
		suspended.AccountStatus = auth.StatusSuspended
		_, err := env.manager.LoginAsFixture(context.Background(), suspended)
		if !errors.Is(err, auth.ErrAccountSuspended) {
			t.Fatalf("LoginAsFixture() error = %v, want ErrAccountSuspended", err)
		}
		if env.manager.Snapshot().State != StateGuest {
			t.Errorf("state = %q, want guest", env.manager.Snapshot().State)
		}
	})

	t.Run("invalid role", func(t *testing.T) {
		env := newTestEnv(t, &fakeProvider{}, fixtureMode)
		env.ready(t)
		_, err := env.manager.LoginAsFixture(context.Background(), auth.Identity{ID: "x", Role: "root"})
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			t.Fatalf("LoginAsFixture() error = %v, want ErrInvalidCredentials", err)
		}
	})
}

func TestManager_Subscribe(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{verify: acceptAs(identityFor("u1", auth.RoleStaff))})
	ch, unsubscribe := env.manager.Subscribe()
	defer unsubscribe()

	first := <-ch
	if first.Status != StatusInitializing {
		t.Errorf("first snapshot status = %q, want initializing", first.Status)
	}

	env.ready(t)
	if _, err := env.manager.Login(context.Background(), adminCreds); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case snap := <-ch:
			if snap.State == StateAuthenticated {
				if snap.Role != auth.RoleStaff {
					t.Errorf("role = %q, want staff", snap.Role)
				}
				return
			}
		case <-deadline:
			t.Fatal("did not observe authenticated snapshot")
		}
	}
}

func TestManager_CloseReleasesEverything(t *testing.T) {
	defer goleak.VerifyNone(t)

	provider := &fakeProvider{silent: true}
	env := newTestEnv(t, provider)
	env.manager.start(context.Background())
	ch, _ := env.manager.Subscribe()

	env.manager.Close()
	env.manager.Close()

	select {
	case <-env.manager.Ready():
	default:
		t.Error("Ready() not closed after Close")
	}
	for range ch {
	}
	if _, err := env.manager.Login(context.Background(), adminCreds); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Login() after Close error = %v, want ErrManagerClosed", err)
	}
}

func TestManager_RecordsTransitions(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{verify: acceptAs(identityFor("u1", auth.RoleMember))})
	env.ready(t)
	if _, err := env.manager.Login(context.Background(), adminCreds); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	env.manager.Logout(context.Background())

	want := []State{StateGuest, StateAuthenticating, StateAuthenticated, StateLoggingOut, StateGuest}
	env.recorder.mu.Lock()
	got := append([]State{}, env.recorder.transitions...)
	env.recorder.mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
