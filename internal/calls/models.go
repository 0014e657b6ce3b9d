package calls

import (
	"errors"
	"time"
)

// Call is one brokered session between a caller and a call-taker.
//
// The id doubles as the media room name. Participants and Kind never change
// after creation.
//
// Invariant: for any caller id at most one call is RINGING or ACCEPTED, and the
// same holds independently for call-taker ids. Storage enforces it (partial
// unique indexes), not the application, because two initiations can race.
type Call struct {
	ID          string `json:"callId" db:"id"`
	CallerID    string `json:"callerId" db:"caller_id"`
	CallTakerID string `json:"callTakerId" db:"call_taker_id"`
	Kind        Kind   `json:"kind" db:"kind"`
	State       State  `json:"state" db:"state"`

	CreatedAt  time.Time  `json:"createdAt" db:"created_at"`
	AcceptedAt *time.Time `json:"acceptedAt,omitempty" db:"accepted_at"`
	EndedAt    *time.Time `json:"endedAt,omitempty" db:"ended_at"`

	// DurationSeconds is derived at end of call from accepted_at to ended_at.
	DurationSeconds int `json:"durationSeconds" db:"duration_seconds"`

	EndedBy   Side      `json:"endedBy,omitempty" db:"ended_by"`
	EndReason EndReason `json:"endReason,omitempty" db:"end_reason"`

	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

type Kind string

const (
	KindAudio Kind = "AUDIO"
	KindVideo Kind = "VIDEO"
)

func (k Kind) Valid() bool { return k == KindAudio || k == KindVideo }

type State string

const (
	StateRinging  State = "RINGING"
	StateAccepted State = "ACCEPTED"
	StateRejected State = "REJECTED"
	StateMissed   State = "MISSED"
	// StateCancelled is part of the stored vocabulary but caller cancellation
	// resolves to MISSED; EndReasonCancelled tells the two apart.
	StateCancelled State = "CANCELLED"
	StateCompleted State = "COMPLETED"
)

// Live reports whether the state counts against the one-call-per-participant invariant.
func (s State) Live() bool { return s == StateRinging || s == StateAccepted }

func (s State) Terminal() bool {
	switch s {
	case StateRejected, StateMissed, StateCancelled, StateCompleted:
		return true
	default:
		return false
	}
}

// CanTransition encodes RINGING -> {ACCEPTED, REJECTED, MISSED, CANCELLED} and ACCEPTED -> COMPLETED.
func CanTransition(from, to State) bool {
	switch from {
	case StateRinging:
		return to == StateAccepted || to == StateRejected || to == StateMissed || to == StateCancelled
	case StateAccepted:
		return to == StateCompleted
	default:
		return false
	}
}

// Side identifies who ended a call.
type Side string

const (
	SideCaller    Side = "USER"
	SideCallTaker Side = "TELECALLER"
	SideSystem    Side = "SYSTEM"
)

type EndReason string

const (
	EndReasonNormal           EndReason = "NORMAL"
	EndReasonCallerHangup     EndReason = "USER_HANGUP"
	EndReasonCallTakerHangup  EndReason = "TELECALLER_HANGUP"
	EndReasonNetworkIssue     EndReason = "NETWORK_ISSUE"
	EndReasonTimeout          EndReason = "TIMEOUT"
	EndReasonRejected         EndReason = "REJECTED"
	EndReasonCancelled        EndReason = "CANCELLED"
	EndReasonMediaUnavailable EndReason = "MEDIA_FAILURE"
)

var (
	// ErrNotFound also covers a conditional transition that matched nothing:
	// the call does not exist, is in another state, or belongs to someone else.
	ErrNotFound          = errors.New("calls: not found")
	ErrCallerBusy        = errors.New("calls: caller already has a live call")
	ErrCallTakerBusy     = errors.New("calls: call-taker already has a live call")
	ErrInvalidTransition = errors.New("calls: invalid transition")
	ErrInvalidArgument   = errors.New("calls: invalid argument")
)

// Transition is a single conditional update: it applies only when the stored
// call is in From (and, when set, belongs to the given participants).
type Transition struct {
	CallID string
	From   State
	To     State

	// Optional ownership guards.
	CallerID    string
	CallTakerID string

	At        time.Time
	EndedBy   Side
	EndReason EndReason
}

func (t Transition) Validate() error {
	if t.CallID == "" || t.At.IsZero() {
		return ErrInvalidArgument
	}
	if !CanTransition(t.From, t.To) {
		return ErrInvalidTransition
	}
	return nil
}

// durationSeconds never goes negative, even with clock skew between instances.
func durationSeconds(acceptedAt *time.Time, endedAt time.Time) int {
	if acceptedAt == nil {
		return 0
	}
	d := endedAt.Sub(*acceptedAt)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}
