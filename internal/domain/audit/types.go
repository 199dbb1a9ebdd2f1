// Package audit contains domain types for the authentication audit trail.
package audit

import (
	"time"

	"github.com/enteecaay/BloodDonation-prototype/internal/domain/auth"
)

// EventType identifies what happened.
type EventType string

// Access events.
const (
	EventTypeLogin          EventType = "access.login"
	EventTypeLoginFailed    EventType = "access.login_failed"
	EventTypeLoginThrottled EventType = "access.login_throttled"
	EventTypeLogout         EventType = "access.logout"
)

// User lifecycle events, recorded for administrator changes.
const (
	EventTypeUserModify  EventType = "user.modify"
	EventTypeUserDisable EventType = "user.disable"
	EventTypeUserEnable  EventType = "user.enable"
)

// ActorType identifies who performed an action.
type ActorType string

const (
	ActorTypeUser  ActorType = "user"
	ActorTypeAdmin ActorType = "admin"
	ActorTypeGuest ActorType = "guest"
)

// Record is one audit trail entry.
type Record struct {
	// Timestamp when the event occurred.
	Timestamp time.Time `json:"timestamp"`
	// EventType is the kind of event.
	EventType EventType `json:"event_type"`
	// RequestID correlates the record with request logs.
	RequestID string `json:"request_id,omitempty"`

	// ActorID is the identity that acted; empty for guests.
	ActorID   string    `json:"actor_id,omitempty"`
	ActorType ActorType `json:"actor_type"`
	// ClientIP is the remote address of the request.
	ClientIP string `json:"client_ip,omitempty"`

	// TargetID is the identity the event is about.
	TargetID string `json:"target_id,omitempty"`
	// Email is the submitted or resolved email of the target.
	Email string `json:"email,omitempty"`
	// Role is the target's role after the event.
	Role auth.Role `json:"role,omitempty"`

	// Provider is the identity provider that handled a login.
	Provider string `json:"provider,omitempty"`
	// Failure classifies a failed login.
	Failure auth.FailureKind `json:"failure,omitempty"`
	// Detail is a short free-form description.
	Detail string `json:"detail,omitempty"`
}

// IsFailure returns true for failed or throttled logins.
func (r Record) IsFailure() bool {
	return r.EventType == EventTypeLoginFailed || r.EventType == EventTypeLoginThrottled
}
