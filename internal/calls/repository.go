package calls

import (
	"context"
	"time"
)

// Repository is the persistence contract for calls.
//
// Every state change goes through Transition, a single conditional update that
// acts as the serialization point for a call. A losing concurrent attempt gets
// ErrNotFound and must treat it as benign.
type Repository interface {
	// Create inserts a RINGING call. It returns ErrCallerBusy or ErrCallTakerBusy
	// when either participant already has a live call.
	Create(ctx context.Context, c Call) (Call, error)

	Get(ctx context.Context, id string) (Call, error)

	// FindLive returns the RINGING/ACCEPTED call for a participant on the given side.
	FindLive(ctx context.Context, side Side, participantID string) (Call, error)

	Transition(ctx context.Context, t Transition) (Call, error)

	// ListByState returns calls in state created before the cutoff, oldest first.
	ListByState(ctx context.Context, state State, createdBefore time.Time, limit int) ([]Call, error)

	// ListCreated returns calls created in [from, to).
	ListCreated(ctx context.Context, from, to time.Time) ([]Call, error)
}
