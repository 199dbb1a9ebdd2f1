package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/enteecaay/BloodDonation-prototype/internal/domain/ratelimit"
)

// RateLimiter implements ratelimit.Limiter using GCRA in memory.
// Thread-safe for concurrent access. A background cleanup goroutine drops
// keys that have fully replenished.
type RateLimiter struct {
	cells           map[string]time.Time // Theoretical Arrival Time per key
	mu              sync.Mutex
	now             func() time.Time
	logger          *slog.Logger
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) RateLimiterOption {
	return func(r *RateLimiter) {
		r.now = now
	}
}

// WithCleanupInterval sets how often replenished keys are dropped. Default: 5 minutes.
func WithCleanupInterval(d time.Duration) RateLimiterOption {
	return func(r *RateLimiter) {
		if d > 0 {
			r.cleanupInterval = d
		}
	}
}

// WithLimiterLogger sets the logger for cleanup reports.
func WithLimiterLogger(logger *slog.Logger) RateLimiterOption {
	return func(r *RateLimiter) {
		r.logger = logger
	}
}

// NewRateLimiter creates an in-memory rate limiter.
func NewRateLimiter(opts ...RateLimiterOption) *RateLimiter {
	r := &RateLimiter{
		cells:           make(map[string]time.Time),
		now:             time.Now,
		logger:          slog.Default(),
		stopChan:        make(chan struct{}),
		cleanupInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Allow consumes one event for key. A disabled cfg always allows.
//
// GCRA keeps one Theoretical Arrival Time per key. Each event pushes it one
// emission interval (Period/Rate) into the future; the event is refused when
// that would put it more than Burst intervals ahead of now.
func (r *RateLimiter) Allow(ctx context.Context, key string, cfg ratelimit.Config) (ratelimit.Result, error) {
	if !cfg.Enabled() {
		return ratelimit.Result{Allowed: true, Remaining: -1}, nil
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.Rate
	}
	emission := cfg.Period / time.Duration(cfg.Rate)
	burstOffset := time.Duration(cfg.Burst) * emission

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	tat, ok := r.cells[key]
	if !ok || tat.Before(now) {
		tat = now
	}

	newTAT := tat.Add(emission)
	if ahead := newTAT.Sub(now); ahead > burstOffset {
		return ratelimit.Result{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: ahead - burstOffset,
			ResetAfter: tat.Sub(now),
		}, nil
	}
	r.cells[key] = newTAT

	return ratelimit.Result{
		Allowed:    true,
		Remaining:  int((burstOffset - newTAT.Sub(now)) / emission),
		ResetAfter: newTAT.Sub(now),
	}, nil
}

// StartCleanup starts the background cleanup goroutine.
// It stops when ctx is cancelled or Stop() is called.
func (r *RateLimiter) StartCleanup(ctx context.Context) {
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

// cleanup drops keys whose arrival time has passed; they behave exactly
// like unseen keys.
func (r *RateLimiter) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cleaned := 0
	for key, tat := range r.cells {
		if !tat.After(now) {
			delete(r.cells, key)
			cleaned++
		}
	}

	if cleaned > 0 {
		r.logger.Debug("rate limiter cleanup completed",
			"cleaned_keys", cleaned,
			"remaining_keys", len(r.cells))
	}
}

// Stop stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (r *RateLimiter) Stop() {
	r.once.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()
}

// Size returns the current number of tracked keys.
func (r *RateLimiter) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cells)
}

// Compile-time interface verification.
var _ ratelimit.Limiter = (*RateLimiter)(nil)
