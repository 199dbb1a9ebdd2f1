package ratelimit

import "context"

// Limiter decides whether an event identified by key may proceed.
//
// Implementations should use the GCRA (Generic Cell Rate Algorithm), which
// spreads events evenly over the period instead of resetting at window
// boundaries.
type Limiter interface {
	// Allow consumes one event for key under cfg. When the event is not
	// allowed, RetryAfter in the result tells when the next one will be.
	Allow(ctx context.Context, key string, cfg Config) (Result, error)
}
