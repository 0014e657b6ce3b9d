package session

import (
	"telecom-signaling/internal/accounts"
	"telecom-signaling/internal/calls"
	"telecom-signaling/internal/media"
)

// Inbound events.
const (
	EventInitiate = "call:initiate"
	EventCancel   = "call:cancel"
	EventAccept   = "call:accept"
	EventReject   = "call:reject"
	EventEnd      = "call:end"
)

// Outbound events.
const (
	EventRinging         = "call:ringing"
	EventIncoming        = "call:incoming"
	EventAccepted        = "call:accepted"
	EventRejected        = "call:rejected"
	EventMissed          = "call:missed"
	EventCancelled       = "call:cancelled"
	EventEnded           = "call:ended"
	EventCallError       = "call:error"
	EventError           = "error"
	EventPresenceChanged = "callee:presence-changed"
)

type InitiateRequest struct {
	CalleeID string     `json:"calleeId"`
	Kind     calls.Kind `json:"kind"`
}

// CallRef is the payload of every event that only names a call.
type CallRef struct {
	CallID string `json:"callId"`
}

type RingingPayload struct {
	CallID string           `json:"callId"`
	Callee accounts.Summary `json:"callee"`
}

type IncomingPayload struct {
	CallID string           `json:"callId"`
	Kind   calls.Kind       `json:"kind"`
	Caller accounts.Summary `json:"caller"`
}

// CallerAcceptedPayload goes to the caller with the caller's own credentials.
type CallerAcceptedPayload struct {
	CallID      string            `json:"callId"`
	Credentials media.Credentials `json:"credentials"`
}

// CallTakerAcceptedPayload goes to the call-taker with its credentials.
type CallTakerAcceptedPayload struct {
	CallID      string            `json:"callId"`
	Kind        calls.Kind        `json:"kind"`
	Caller      accounts.Summary  `json:"caller"`
	Credentials media.Credentials `json:"credentials"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// PresenceChangedPayload is broadcast to callers whenever a call-taker's
// reachability flips. The summary is null unless the call-taker is ONLINE.
type PresenceChangedPayload struct {
	CalleeID      string            `json:"calleeId"`
	Presence      accounts.Presence `json:"presence"`
	CalleeSummary *accounts.Summary `json:"calleeSummary"`
}

// ErrorEventFor names the error event of a role's channel group.
func ErrorEventFor(role accounts.Role) string {
	if role == accounts.RoleCaller {
		return EventCallError
	}
	return EventError
}
