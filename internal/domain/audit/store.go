package audit

import (
	"context"
	"time"
)

// DefaultQueryLimit and MaxQueryLimit bound Query results.
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// Store persists audit records.
type Store interface {
	// Append stores records. Must not block on slow readers.
	Append(ctx context.Context, records ...Record) error

	// Query returns records matching filter, newest first.
	Query(ctx context.Context, filter Filter) ([]Record, error)
}

// Filter specifies audit query parameters. Zero fields match everything.
type Filter struct {
	// EventTypes keeps only the listed event types.
	EventTypes []EventType
	// TargetID filters by the identity the event is about.
	TargetID string
	// ActorID filters by the identity that acted.
	ActorID string
	// Since drops records older than this time.
	Since time.Time
	// Limit is the maximum number of records (default 100, max 1000).
	Limit int
}

// EffectiveLimit returns Limit clamped to the allowed range.
func (f Filter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultQueryLimit
	case f.Limit > MaxQueryLimit:
		return MaxQueryLimit
	default:
		return f.Limit
	}
}

// Matches reports whether r passes the filter, ignoring Limit.
func (f Filter) Matches(r Record) bool {
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	if f.TargetID != "" && r.TargetID != f.TargetID {
		return false
	}
	if f.ActorID != "" && r.ActorID != f.ActorID {
		return false
	}
	if len(f.EventTypes) == 0 {
		return true
	}
	for _, t := range f.EventTypes {
		if r.EventType == t {
			return true
		}
	}
	return false
}
