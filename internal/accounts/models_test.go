package accounts

import (
	"context"
	"errors"
	"testing"
)

func TestCallTakerNarrowing(t *testing.T) {
	caller := NewCaller("u1", "Asha", StatusActive)
	if _, ok := caller.CallTaker(); ok {
		t.Fatalf("caller must not narrow to call-taker")
	}
	if caller.IsApprovedCallTaker() {
		t.Fatalf("caller is never an approved call-taker")
	}

	ct := NewCallTaker("t1", "", StatusActive, CallTakerProfile{Approval: ApprovalApproved, Presence: PresenceOnline})
	p, ok := ct.CallTaker()
	if !ok || p.Presence != PresenceOnline {
		t.Fatalf("expected call-taker profile, got %+v ok=%v", p, ok)
	}
	if ct.DisplayName() != "Unknown" {
		t.Fatalf("expected Unknown display name, got %q", ct.DisplayName())
	}
	if s := ct.Summary(); s.Profile != nil || s.Name != "Unknown" {
		t.Fatalf("unexpected summary: %+v", s)
	}
}

func TestMemoryStore_SetPresence(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(
		NewCaller("u1", "Asha", StatusActive),
		NewCallTaker("t1", "Ravi", StatusActive, CallTakerProfile{Approval: ApprovalApproved, Presence: PresenceOffline}),
	)

	if err := s.SetPresence(ctx, "t1", PresenceOnCall); err != nil {
		t.Fatalf("set presence: %v", err)
	}
	if got := s.Presence("t1"); got != PresenceOnCall {
		t.Fatalf("expected ON_CALL, got %q", got)
	}
	if err := s.SetPresence(ctx, "u1", PresenceOnline); !errors.Is(err, ErrNotCallTaker) {
		t.Fatalf("expected ErrNotCallTaker, got %v", err)
	}
	if err := s.SetPresence(ctx, "missing", PresenceOnline); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.SetPresence(ctx, "t1", "AWAY"); !errors.Is(err, ErrInvalidPresence) {
		t.Fatalf("expected ErrInvalidPresence, got %v", err)
	}
}

func TestMemoryStore_ResetPresence(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(
		NewCallTaker("t1", "A", StatusActive, CallTakerProfile{Approval: ApprovalApproved, Presence: PresenceOnline}),
		NewCallTaker("t2", "B", StatusActive, CallTakerProfile{Approval: ApprovalApproved, Presence: PresenceOnCall}),
		NewCallTaker("t3", "C", StatusActive, CallTakerProfile{Approval: ApprovalApproved, Presence: PresenceOffline}),
	)
	n, err := s.ResetPresence(ctx)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 changed rows, got %d", n)
	}
	for _, id := range []string{"t1", "t2", "t3"} {
		if got := s.Presence(id); got != PresenceOffline {
			t.Fatalf("%s: expected OFFLINE, got %q", id, got)
		}
	}
}
