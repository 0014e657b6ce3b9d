package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"telecom-signaling/internal/audit"
	"telecom-signaling/internal/calls"
)

const recoveryBatch = 100

// Recovery counts what a startup recovery resolved.
type Recovery struct {
	Missed    int
	Completed int
}

// RecoverOrphans resolves calls left behind by a crashed process. It runs on
// startup after the presence registry was reset, so nothing can still be
// connected to an accepted call: those are completed with NETWORK_ISSUE.
// Ringing calls older than the ring window become MISSED; younger ones are
// left to the sweeper since another instance may still own their timer.
// Completing ACCEPTED calls is cluster-wide, like the registry reset.
func (m *Manager) RecoverOrphans(ctx context.Context) (Recovery, error) {
	var out Recovery

	n, err := m.expireRinging(ctx, m.now().Add(-m.ringTimeout))
	out.Missed = n
	if err != nil {
		return out, err
	}

	for {
		batch, err := m.calls.ListByState(ctx, calls.StateAccepted, m.now(), recoveryBatch)
		if err != nil {
			return out, fmt.Errorf("session: list accepted: %w", err)
		}
		progressed := 0
		for _, c := range batch {
			done, err := m.calls.Transition(ctx, calls.Transition{
				CallID:    c.ID,
				From:      calls.StateAccepted,
				To:        calls.StateCompleted,
				At:        m.now(),
				EndedBy:   calls.SideSystem,
				EndReason: calls.EndReasonNetworkIssue,
			})
			if errors.Is(err, calls.ErrNotFound) {
				continue
			}
			if err != nil {
				return out, fmt.Errorf("session: recover accepted: %w", err)
			}
			progressed++
			out.Completed++
			m.record(ctx, done, audit.EventCallRecovered, calls.StateAccepted, "", "")
			m.finishCompleted(ctx, done)
		}
		if len(batch) < recoveryBatch || progressed == 0 {
			break
		}
	}

	m.log.Info("orphaned calls recovered", "missed", out.Missed, "completed", out.Completed)
	return out, nil
}

// Sweep resolves ringing calls whose window elapsed without a timer firing,
// e.g. because the instance that armed it died. Both sides are notified in
// case they reconnected elsewhere.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	return m.expireRinging(ctx, m.now().Add(-m.ringTimeout))
}

func (m *Manager) expireRinging(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	for {
		batch, err := m.calls.ListByState(ctx, calls.StateRinging, cutoff, recoveryBatch)
		if err != nil {
			return n, fmt.Errorf("session: list ringing: %w", err)
		}
		before := n
		for _, c := range batch {
			ok, err := m.expire(ctx, c.ID)
			if err != nil {
				return n, err
			}
			if ok {
				n++
			}
		}
		if len(batch) < recoveryBatch || n == before {
			return n, nil
		}
	}
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = m.ringTimeout
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := m.Sweep(ctx)
			if err != nil {
				m.log.Error("sweep failed", "err", err)
				continue
			}
			if n > 0 {
				m.log.Info("swept stale ringing calls", "missed", n)
			}
		}
	}
}
