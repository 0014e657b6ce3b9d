package session

import (
	"errors"
	"fmt"
)

var (
	// ErrCallUnavailable covers every lost race: the call resolved, moved on or
	// never belonged to the requester.
	ErrCallUnavailable  = errors.New("session: call no longer available")
	ErrSelfCall         = errors.New("session: cannot call yourself")
	ErrInvalidRequest   = errors.New("session: invalid request")
	ErrAlreadyInCall    = errors.New("session: caller already has a live call")
	ErrMediaUnavailable = errors.New("session: media service unavailable")
)

// Reason is why an initiation was refused before any call was created.
type Reason string

const (
	ReasonOffline            Reason = "offline"
	ReasonBusy               Reason = "busy"
	ReasonUnavailable        Reason = "unavailable"
	ReasonAccountUnavailable Reason = "account_unavailable"
	ReasonNoLongerAvailable  Reason = "no_longer_available"
)

// RefusalError is a precondition failure. Name is the peer's display name.
type RefusalError struct {
	Reason Reason
	Name   string
}

func (e *RefusalError) Error() string {
	return fmt.Sprintf("session: initiate refused: %s", e.Reason)
}

func refuse(r Reason, name string) error {
	if name == "" {
		name = "This person"
	}
	return &RefusalError{Reason: r, Name: name}
}

const genericMessage = "Something went wrong. Please try again."

// PublicMessage maps an error to the text shown to a participant. Internal
// details never leak.
func PublicMessage(err error) string {
	var ref *RefusalError
	if errors.As(err, &ref) {
		switch ref.Reason {
		case ReasonOffline:
			return ref.Name + " is currently offline. Please try again later."
		case ReasonBusy:
			return ref.Name + " is busy on another call. Please try again later."
		case ReasonUnavailable:
			return ref.Name + " is currently unavailable. Please try again later."
		case ReasonAccountUnavailable:
			return "Your account is not available. Please contact support."
		case ReasonNoLongerAvailable:
			return "This person is no longer available for calls."
		}
		return genericMessage
	}
	switch {
	case errors.Is(err, ErrCallUnavailable):
		return "This call is no longer available."
	case errors.Is(err, ErrSelfCall):
		return "You cannot call yourself."
	case errors.Is(err, ErrAlreadyInCall):
		return "You are already on another call."
	case errors.Is(err, ErrMediaUnavailable):
		return "Could not connect the call. Please try again."
	case errors.Is(err, ErrInvalidRequest):
		return "Invalid request."
	default:
		return genericMessage
	}
}
