package audit

import "time"

// Event is an immutable, append-only record of one call lifecycle step.
//
// Invariants:
// - Events are never updated or deleted.
// - call_id and type are required.
// - actor capture is best-effort; call flows never block on audit failures.
type Event struct {
	ID     string    `json:"id" db:"id"`
	CallID string    `json:"call_id" db:"call_id"`
	Type   EventType `json:"type" db:"type"`

	// ActorID is the participant causing the step; empty for system actions.
	ActorID   string `json:"actor_id,omitempty" db:"actor_id"`
	ActorRole string `json:"actor_role,omitempty" db:"actor_role"`

	FromState string `json:"from_state,omitempty" db:"from_state"`
	ToState   string `json:"to_state" db:"to_state"`
	Reason    string `json:"reason,omitempty" db:"reason"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventCallInitiated EventType = "call_initiated"
	EventCallAccepted  EventType = "call_accepted"
	EventCallRejected  EventType = "call_rejected"
	EventCallCancelled EventType = "call_cancelled"
	EventCallMissed    EventType = "call_missed"
	EventCallCompleted EventType = "call_completed"
	// EventCallSetupFailed marks a call rolled back because media credentials
	// could not be issued.
	EventCallSetupFailed EventType = "call_setup_failed"
	// EventCallRecovered marks a call resolved by the startup or periodic sweep.
	EventCallRecovered EventType = "call_recovered"
)
