// Package ratelimit provides login throttling domain types.
package ratelimit

import (
	"fmt"
	"strings"
	"time"
)

// Config defines the rate limiting parameters.
type Config struct {
	// Rate is the number of allowed events in the period.
	Rate int

	// Burst is the maximum number of events that can occur at once.
	// Defaults to Rate.
	Burst int

	// Period is the time window for the rate limit.
	Period time.Duration
}

// Enabled returns false for a zero config, which disables throttling.
func (c Config) Enabled() bool {
	return c.Rate > 0 && c.Period > 0
}

// Result contains the result of a rate limit check.
type Result struct {
	// Allowed indicates whether the event is allowed.
	Allowed bool

	// Remaining is the number of events still allowed right now.
	Remaining int

	// RetryAfter is the duration until the next event will be allowed.
	// Only meaningful when Allowed is false.
	RetryAfter time.Duration

	// ResetAfter is the duration until the limit is fully replenished.
	ResetAfter time.Duration
}

// KeyType identifies what a rate limit key throttles.
type KeyType string

const (
	// KeyTypeIP throttles login attempts per client address.
	KeyTypeIP KeyType = "ip"

	// KeyTypeEmail throttles login attempts per account email.
	KeyTypeEmail KeyType = "email"
)

// keyPrefix is the base prefix for all rate limit keys.
const keyPrefix = "login"

// FormatKey returns a structured rate limit key.
// Format: "login:{type}:{value}", with the value lowercased.
// Examples:
//   - FormatKey(KeyTypeIP, "192.168.1.1") -> "login:ip:192.168.1.1"
//   - FormatKey(KeyTypeEmail, "Jane@Example.com") -> "login:email:jane@example.com"
func FormatKey(keyType KeyType, value string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, keyType, strings.ToLower(strings.TrimSpace(value)))
}
