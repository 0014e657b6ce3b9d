package accounts

import "context"

// Store is the account collaborator consumed by the signaling core.
type Store interface {
	Get(ctx context.Context, id string) (Account, error)

	// SetPresence updates a call-taker's durable reachability flag.
	SetPresence(ctx context.Context, id string, p Presence) error

	// ResetPresence forces every call-taker to OFFLINE and returns how many
	// rows changed. Run on startup before connections are admitted.
	ResetPresence(ctx context.Context) (int64, error)
}
