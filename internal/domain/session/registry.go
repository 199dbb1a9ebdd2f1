package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Registry defaults.
const (
	DefaultIdleTimeout     = 30 * time.Minute
	DefaultCleanupInterval = 1 * time.Minute
	DefaultMaxSessions     = 10000
)

// ManagerFactory builds a fresh Manager for a new client session.
type ManagerFactory func() *Manager

// RegistryConfig holds Registry configuration.
type RegistryConfig struct {
	// IdleTimeout removes sessions not accessed for this long. Default: 30 minutes.
	IdleTimeout time.Duration
	// CleanupInterval is how often idle sessions are swept. Default: 1 minute.
	CleanupInterval time.Duration
	// MaxSessions caps live sessions. At the cap the least recently used
	// guest session is evicted. Default: 10000.
	MaxSessions int
	Logger      *slog.Logger
	// OnSizeChange is called with the number of live sessions after every change.
	OnSizeChange func(int)
}

type registryEntry struct {
	manager    *Manager
	createdAt  time.Time
	lastAccess time.Time
}

// Registry maps client session ids to Managers for a multi-client server.
// Thread-safe. A background cleanup goroutine closes idle sessions.
type Registry struct {
	newManager      ManagerFactory
	idleTimeout     time.Duration
	cleanupInterval time.Duration
	maxSessions     int
	logger          *slog.Logger
	onSizeChange    func(int)

	mu      sync.RWMutex
	entries map[string]*registryEntry

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewRegistry creates a Registry that builds managers with factory.
func NewRegistry(factory ManagerFactory, cfg RegistryConfig) *Registry {
	r := &Registry{
		newManager:      factory,
		idleTimeout:     cfg.IdleTimeout,
		cleanupInterval: cfg.CleanupInterval,
		maxSessions:     cfg.MaxSessions,
		logger:          cfg.Logger,
		onSizeChange:    cfg.OnSizeChange,
		entries:         make(map[string]*registryEntry),
		stopChan:        make(chan struct{}),
	}
	if r.idleTimeout <= 0 {
		r.idleTimeout = DefaultIdleTimeout
	}
	if r.cleanupInterval <= 0 {
		r.cleanupInterval = DefaultCleanupInterval
	}
	if r.maxSessions <= 0 {
		r.maxSessions = DefaultMaxSessions
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.onSizeChange == nil {
		r.onSizeChange = func(int) {}
	}
	return r
}

// Create registers a new session and starts its restoration.
func (r *Registry) Create() (string, *Manager, error) {
	id, err := GenerateSessionID()
	if err != nil {
		return "", nil, err
	}

	m := r.newManager()
	now := time.Now().UTC()

	r.mu.Lock()
	var evicted *Manager
	if len(r.entries) >= r.maxSessions {
		victim, ok := r.oldestGuestLocked()
		if !ok {
			r.mu.Unlock()
			m.Close()
			return "", nil, ErrRegistryFull
		}
		evicted = r.entries[victim].manager
		delete(r.entries, victim)
	}
	r.entries[id] = &registryEntry{manager: m, createdAt: now, lastAccess: now}
	size := len(r.entries)
	r.mu.Unlock()
	r.onSizeChange(size)

	if evicted != nil {
		evicted.Close()
		r.logger.Debug("evicted guest session", "sessions", size)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		m.Restore(context.Background())
	}()

	r.logger.Debug("session created", "sessions", size)
	return id, m, nil
}

// oldestGuestLocked returns the least recently used session that holds no
// identity and has no login in progress. r.mu must be held.
func (r *Registry) oldestGuestLocked() (string, bool) {
	var (
		victim string
		oldest time.Time
	)
	for id, e := range r.entries {
		snap := e.manager.Snapshot()
		if snap.Identity != nil || snap.State == StateAuthenticating || snap.State == StateLoggingOut {
			continue
		}
		if victim == "" || e.lastAccess.Before(oldest) {
			victim, oldest = id, e.lastAccess
		}
	}
	return victim, victim != ""
}

// Get returns the Manager for id and refreshes its idle timer.
// Returns ErrSessionNotFound if the id is unknown or idle-expired.
func (r *Registry) Get(id string) (*Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	now := time.Now().UTC()
	if now.Sub(e.lastAccess) > r.idleTimeout {
		// Left for cleanup to close.
		return nil, ErrSessionNotFound
	}
	e.lastAccess = now
	return e.manager, nil
}

// Delete removes a session and closes its Manager.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	size := len(r.entries)
	r.mu.Unlock()

	if ok {
		e.manager.Close()
		r.onSizeChange(size)
	}
}

// RevokeIdentity clears every session authenticated as identityID and
// returns how many were revoked.
func (r *Registry) RevokeIdentity(ctx context.Context, identityID string) int {
	r.mu.RLock()
	managers := make([]*Manager, 0, len(r.entries))
	for _, e := range r.entries {
		managers = append(managers, e.manager)
	}
	r.mu.RUnlock()

	revoked := 0
	for _, m := range managers {
		if m.Revoke(ctx, identityID) {
			revoked++
		}
	}
	if revoked > 0 {
		r.logger.Info("revoked sessions", "identity_id", identityID, "count", revoked)
	}
	return revoked
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// StartCleanup starts the background goroutine that closes idle sessions.
// Call Stop to stop it.
func (r *Registry) StartCleanup(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopChan:
				return
			case <-ticker.C:
				r.cleanup()
			}
		}
	}()
}

// cleanup removes and closes idle sessions.
func (r *Registry) cleanup() {
	now := time.Now().UTC()

	r.mu.Lock()
	var expired []*Manager
	for id, e := range r.entries {
		if now.Sub(e.lastAccess) > r.idleTimeout {
			expired = append(expired, e.manager)
			delete(r.entries, id)
		}
	}
	size := len(r.entries)
	r.mu.Unlock()

	for _, m := range expired {
		m.Close()
	}
	if len(expired) > 0 {
		r.onSizeChange(size)
		r.logger.Debug("cleaned idle sessions", "count", len(expired))
	}
}

// Stop stops the cleanup goroutine and closes every session.
// Safe to call multiple times.
func (r *Registry) Stop() {
	r.once.Do(func() {
		close(r.stopChan)

		r.mu.Lock()
		managers := make([]*Manager, 0, len(r.entries))
		for id, e := range r.entries {
			managers = append(managers, e.manager)
			delete(r.entries, id)
		}
		r.mu.Unlock()

		for _, m := range managers {
			m.Close()
		}
		r.onSizeChange(0)
	})
	r.wg.Wait()
}

// GenerateSessionID creates a cryptographically random session ID.
// Returns 64 hex characters (32 bytes).
func GenerateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session ID: %w", err)
	}
	return hex.EncodeToString(b), nil
}
