package session

import (
	"context"
	"errors"

	"telecom-signaling/internal/accounts"
	"telecom-signaling/internal/calls"
)

// Connected runs after a connection was admitted and registered. For a
// call-taker it settles the durable reachability flag, which stays ON_CALL
// when a reconnect lands in the middle of an accepted call.
func (m *Manager) Connected(ctx context.Context, role accounts.Role, id string) {
	if role != accounts.RoleCallTaker {
		return
	}
	m.settleReachability(ctx, id)
}

// HandleDisconnect cleans up after the registered connection of a participant
// went away. The gateway calls it only when the connection was still the
// current one, so a superseded socket never tears anything down.
//
// An accepted call is ended with the disconnecting side as ender. A ringing
// call is cancelled (caller) or rejected (call-taker). If the call moved on
// between lookup and transition, the lookup is retried once.
func (m *Manager) HandleDisconnect(ctx context.Context, role accounts.Role, id string) {
	side := calls.SideCaller
	if role == accounts.RoleCallTaker {
		side = calls.SideCallTaker
	}

	reachabilitySet := false
	for attempt := 0; attempt < 2; attempt++ {
		c, err := m.calls.FindLive(ctx, side, id)
		if errors.Is(err, calls.ErrNotFound) {
			break
		}
		if err != nil {
			m.log.Error("disconnect cleanup lookup failed", "account_id", id, "err", err)
			break
		}

		switch {
		case c.State == calls.StateAccepted:
			err = m.end(ctx, side, id, c.ID, calls.EndReasonNetworkIssue)
			if err == nil && side == calls.SideCallTaker {
				reachabilitySet = true
			}
		case side == calls.SideCaller:
			err = m.cancel(ctx, id, c.ID, calls.EndReasonNetworkIssue)
		default:
			err = m.rejectOnDisconnect(ctx, id, c.ID)
		}
		if errors.Is(err, ErrCallUnavailable) {
			continue
		}
		if err != nil {
			m.log.Error("disconnect cleanup failed", "call_id", c.ID, "err", err)
		}
		break
	}

	// A reconnect may already have registered a newer connection, so the
	// flag follows the registry rather than being forced OFFLINE.
	if role == accounts.RoleCallTaker && !reachabilitySet {
		m.settleReachability(ctx, id)
	}
}

// PublishPresence broadcasts a call-taker's reachability to every caller.
func (m *Manager) PublishPresence(ctx context.Context, callTakerID string, p accounts.Presence) {
	payload := PresenceChangedPayload{CalleeID: callTakerID, Presence: p}
	if p == accounts.PresenceOnline {
		if a, err := m.accounts.Get(ctx, callTakerID); err == nil {
			s := a.Summary()
			payload.CalleeSummary = &s
		}
	}
	if err := m.notifier.Broadcast(ctx, accounts.RoleCaller, EventPresenceChanged, payload); err != nil {
		m.log.Warn("presence broadcast failed", "account_id", callTakerID, "err", err)
	}
}

func (m *Manager) setReachability(ctx context.Context, callTakerID string, p accounts.Presence) {
	if err := m.accounts.SetPresence(ctx, callTakerID, p); err != nil {
		m.log.Warn("reachability update failed", "account_id", callTakerID, "presence", p, "err", err)
		return
	}
	m.PublishPresence(ctx, callTakerID, p)
}

// maxSettleRounds bounds how often settleReachability rewrites the flag while
// concurrent writers keep moving the underlying state.
const maxSettleRounds = 3

// settleReachability writes the flag implied by the call-taker's presence
// entry and live call, then derives it again. Accept, end, connect and
// disconnect all write the flag concurrently and a stale write can land
// last; re-deriving after each write means the last writer repairs it.
func (m *Manager) settleReachability(ctx context.Context, callTakerID string) {
	want := m.derivedReachability(ctx, callTakerID)
	for round := 0; round < maxSettleRounds; round++ {
		m.setReachability(ctx, callTakerID, want)
		again := m.derivedReachability(ctx, callTakerID)
		if again == want {
			return
		}
		want = again
	}
	m.log.Warn("reachability did not settle", "account_id", callTakerID, "presence", want)
}

// derivedReachability is OFFLINE without a presence entry, ON_CALL with an
// accepted call, ONLINE otherwise. Lookup failures lean towards ONLINE:
// Initiate still checks the registry, so a wrong ONLINE is refused there
// while a wrong ON_CALL or OFFLINE would hide the call-taker.
func (m *Manager) derivedReachability(ctx context.Context, callTakerID string) accounts.Presence {
	online, err := m.presence.IsOnline(ctx, accounts.RoleCallTaker, callTakerID)
	if err != nil {
		m.log.Warn("presence lookup failed", "account_id", callTakerID, "err", err)
	} else if !online {
		return accounts.PresenceOffline
	}

	c, err := m.calls.FindLive(ctx, calls.SideCallTaker, callTakerID)
	switch {
	case err == nil && c.State == calls.StateAccepted:
		return accounts.PresenceOnCall
	case err != nil && !errors.Is(err, calls.ErrNotFound):
		m.log.Warn("live call lookup failed", "account_id", callTakerID, "err", err)
	}
	return accounts.PresenceOnline
}

// restoreReachability returns a call-taker to ONLINE after a call, or OFFLINE
// when it no longer holds a connection.
func (m *Manager) restoreReachability(ctx context.Context, callTakerID string) {
	m.settleReachability(ctx, callTakerID)
}
