package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"telecom-signaling/internal/accounts"
	"telecom-signaling/internal/audit"
	"telecom-signaling/internal/calls"
	"telecom-signaling/internal/media"

	"github.com/google/uuid"
)

// Presence is the part of the presence registry the manager consults.
type Presence interface {
	IsOnline(ctx context.Context, role accounts.Role, id string) (bool, error)
}

// Timers arms one cancellable timer per ringing call.
type Timers interface {
	Arm(id string, onFire func())
	Disarm(id string) bool
}

// Media issues room credentials and tears rooms down.
type Media interface {
	IssueCredential(ctx context.Context, roomName, participantID, participantName string) (media.Credentials, error)
	DestroyRoom(ctx context.Context, roomName string) error
}

// Notifier delivers events to the registered connection of a participant, or
// to every connection of a role.
type Notifier interface {
	Notify(ctx context.Context, role accounts.Role, id, event string, payload any) error
	Broadcast(ctx context.Context, role accounts.Role, event string, payload any) error
}

// Auditor records lifecycle events. Failures are logged, never surfaced.
type Auditor interface {
	Append(ctx context.Context, e audit.Event) error
}

type Deps struct {
	Accounts accounts.Store
	Calls    calls.Repository
	Presence Presence
	Timers   Timers
	Media    Media
	Notifier Notifier
	Audit    Auditor

	Logger      *slog.Logger
	Clock       func() time.Time
	RingTimeout time.Duration
}

// Manager owns the call lifecycle.
//
// There is no in-process lock around a call: every transition is one
// conditional update in the calls repository, and whoever loses that race
// gets calls.ErrNotFound and backs off quietly.
type Manager struct {
	accounts accounts.Store
	calls    calls.Repository
	presence Presence
	timers   Timers
	media    Media
	notifier Notifier
	audit    Auditor

	log         *slog.Logger
	now         func() time.Time
	ringTimeout time.Duration

	// timerCtx bounds the work done by a fired timer.
	timerCtx func() (context.Context, context.CancelFunc)
}

func NewManager(d Deps) (*Manager, error) {
	if d.Accounts == nil || d.Calls == nil || d.Presence == nil || d.Timers == nil || d.Media == nil || d.Notifier == nil {
		return nil, errors.New("session: missing dependency")
	}
	m := &Manager{
		accounts:    d.Accounts,
		calls:       d.Calls,
		presence:    d.Presence,
		timers:      d.Timers,
		media:       d.Media,
		notifier:    d.Notifier,
		audit:       d.Audit,
		log:         d.Logger,
		now:         d.Clock,
		ringTimeout: d.RingTimeout,
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.ringTimeout <= 0 {
		m.ringTimeout = 30 * time.Second
	}
	m.timerCtx = func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.Background(), 15*time.Second)
	}
	return m, nil
}

// Initiate validates both participants and creates a RINGING call. Refusals
// are returned as *RefusalError and leave no state behind.
func (m *Manager) Initiate(ctx context.Context, callerID string, req InitiateRequest) (calls.Call, error) {
	if callerID == "" || req.CalleeID == "" || !req.Kind.Valid() {
		return calls.Call{}, ErrInvalidRequest
	}
	if callerID == req.CalleeID {
		return calls.Call{}, ErrSelfCall
	}

	caller, err := m.accounts.Get(ctx, callerID)
	if err != nil && !errors.Is(err, accounts.ErrNotFound) {
		return calls.Call{}, fmt.Errorf("session: load caller: %w", err)
	}
	if err != nil || caller.Role != accounts.RoleCaller || !caller.IsActive() {
		return calls.Call{}, refuse(ReasonAccountUnavailable, "")
	}

	callee, err := m.accounts.Get(ctx, req.CalleeID)
	if err != nil && !errors.Is(err, accounts.ErrNotFound) {
		return calls.Call{}, fmt.Errorf("session: load callee: %w", err)
	}
	if err != nil || !callee.IsActive() || !callee.IsApprovedCallTaker() {
		return calls.Call{}, refuse(ReasonNoLongerAvailable, "")
	}
	profile, _ := callee.CallTaker()
	switch profile.Presence {
	case accounts.PresenceOffline:
		return calls.Call{}, refuse(ReasonOffline, callee.Name)
	case accounts.PresenceOnCall:
		return calls.Call{}, refuse(ReasonBusy, callee.Name)
	}

	online, err := m.presence.IsOnline(ctx, accounts.RoleCallTaker, callee.ID)
	if err != nil {
		return calls.Call{}, fmt.Errorf("session: presence lookup: %w", err)
	}
	if !online {
		return calls.Call{}, refuse(ReasonUnavailable, callee.Name)
	}

	c, err := m.calls.Create(ctx, calls.Call{
		ID:          uuid.NewString(),
		CallerID:    caller.ID,
		CallTakerID: callee.ID,
		Kind:        req.Kind,
		CreatedAt:   m.now().UTC(),
	})
	switch {
	case errors.Is(err, calls.ErrCallTakerBusy):
		return calls.Call{}, refuse(ReasonBusy, callee.Name)
	case errors.Is(err, calls.ErrCallerBusy):
		return calls.Call{}, ErrAlreadyInCall
	case err != nil:
		return calls.Call{}, fmt.Errorf("session: create call: %w", err)
	}

	m.armTimeout(c.ID)
	m.log.Info("call initiated", "call_id", c.ID, "caller_id", c.CallerID, "call_taker_id", c.CallTakerID, "kind", c.Kind)
	m.record(ctx, c, audit.EventCallInitiated, "", caller.ID, accounts.RoleCaller)

	m.notify(ctx, accounts.RoleCallTaker, c.CallTakerID, EventIncoming, IncomingPayload{
		CallID: c.ID, Kind: c.Kind, Caller: caller.Summary(),
	})
	m.notify(ctx, accounts.RoleCaller, c.CallerID, EventRinging, RingingPayload{
		CallID: c.ID, Callee: callee.Summary(),
	})
	return c, nil
}

// Accept issues media credentials for both sides and only then commits the
// call to ACCEPTED. A credential failure rolls the call to MISSED so the
// call-taker is never stranded in a busy state.
func (m *Manager) Accept(ctx context.Context, callTakerID, callID string) error {
	if callTakerID == "" || callID == "" {
		return ErrInvalidRequest
	}
	c, err := m.calls.Get(ctx, callID)
	if errors.Is(err, calls.ErrNotFound) {
		return ErrCallUnavailable
	}
	if err != nil {
		return fmt.Errorf("session: load call: %w", err)
	}
	if c.CallTakerID != callTakerID || c.State != calls.StateRinging {
		m.log.Info("accept lost race", "call_id", callID, "state", c.State)
		return ErrCallUnavailable
	}

	caller := m.participant(ctx, c.CallerID)
	taker := m.participant(ctx, c.CallTakerID)

	callerCreds, err := m.media.IssueCredential(ctx, c.ID, caller.ID, caller.DisplayName())
	var takerCreds media.Credentials
	if err == nil {
		takerCreds, err = m.media.IssueCredential(ctx, c.ID, taker.ID, taker.DisplayName())
	}
	if err != nil {
		m.log.Error("media credentials failed", "call_id", c.ID, "err", err)
		return m.failSetup(ctx, c)
	}

	accepted, err := m.calls.Transition(ctx, calls.Transition{
		CallID:      c.ID,
		From:        calls.StateRinging,
		To:          calls.StateAccepted,
		CallTakerID: callTakerID,
		At:          m.now(),
	})
	if errors.Is(err, calls.ErrNotFound) {
		m.log.Info("accept lost race", "call_id", c.ID)
		return ErrCallUnavailable
	}
	if err != nil {
		return fmt.Errorf("session: accept: %w", err)
	}
	m.timers.Disarm(c.ID)

	// The caller may already have dropped and ended the call; settling
	// re-reads the call so a late ON_CALL never outlives it.
	m.settleReachability(ctx, callTakerID)
	m.log.Info("call accepted", "call_id", c.ID)
	m.record(ctx, accepted, audit.EventCallAccepted, calls.StateRinging, callTakerID, accounts.RoleCallTaker)

	m.notify(ctx, accounts.RoleCaller, accepted.CallerID, EventAccepted, CallerAcceptedPayload{
		CallID: accepted.ID, Credentials: callerCreds,
	})
	m.notify(ctx, accounts.RoleCallTaker, accepted.CallTakerID, EventAccepted, CallTakerAcceptedPayload{
		CallID: accepted.ID, Kind: accepted.Kind, Caller: caller.Summary(), Credentials: takerCreds,
	})
	return nil
}

// failSetup resolves a call whose media credentials could not be issued.
func (m *Manager) failSetup(ctx context.Context, c calls.Call) error {
	missed, err := m.calls.Transition(ctx, calls.Transition{
		CallID:    c.ID,
		From:      calls.StateRinging,
		To:        calls.StateMissed,
		At:        m.now(),
		EndedBy:   calls.SideSystem,
		EndReason: calls.EndReasonMediaUnavailable,
	})
	if errors.Is(err, calls.ErrNotFound) {
		return ErrCallUnavailable
	}
	if err != nil {
		return fmt.Errorf("session: roll back call: %w", err)
	}
	m.timers.Disarm(c.ID)
	m.restoreReachability(ctx, c.CallTakerID)
	m.record(ctx, missed, audit.EventCallSetupFailed, calls.StateRinging, "", "")

	m.notify(ctx, accounts.RoleCaller, c.CallerID, EventCallError, ErrorPayload{Message: PublicMessage(ErrMediaUnavailable)})
	return ErrMediaUnavailable
}

// Reject resolves a ringing call on the call-taker's behalf.
func (m *Manager) Reject(ctx context.Context, callTakerID, callID string) error {
	if callTakerID == "" || callID == "" {
		return ErrInvalidRequest
	}
	c, err := m.calls.Transition(ctx, calls.Transition{
		CallID:      callID,
		From:        calls.StateRinging,
		To:          calls.StateRejected,
		CallTakerID: callTakerID,
		At:          m.now(),
		EndedBy:     calls.SideCallTaker,
		EndReason:   calls.EndReasonRejected,
	})
	if err != nil {
		return m.raceOrErr("reject", callID, err)
	}
	// Disarm only after winning: a guard mismatch must not cancel someone else's timer.
	m.timers.Disarm(c.ID)
	m.log.Info("call rejected", "call_id", c.ID)
	m.record(ctx, c, audit.EventCallRejected, calls.StateRinging, callTakerID, accounts.RoleCallTaker)

	m.notify(ctx, accounts.RoleCaller, c.CallerID, EventRejected, CallRef{CallID: c.ID})
	return nil
}

// Cancel withdraws a ringing call on the caller's behalf. The call becomes
// MISSED, with CANCELLED recorded as the end reason.
func (m *Manager) Cancel(ctx context.Context, callerID, callID string) error {
	if callerID == "" || callID == "" {
		return ErrInvalidRequest
	}
	return m.cancel(ctx, callerID, callID, calls.EndReasonCancelled)
}

func (m *Manager) cancel(ctx context.Context, callerID, callID string, reason calls.EndReason) error {
	c, err := m.calls.Transition(ctx, calls.Transition{
		CallID:    callID,
		From:      calls.StateRinging,
		To:        calls.StateMissed,
		CallerID:  callerID,
		At:        m.now(),
		EndedBy:   calls.SideCaller,
		EndReason: reason,
	})
	if err != nil {
		return m.raceOrErr("cancel", callID, err)
	}
	m.timers.Disarm(c.ID)
	m.log.Info("call cancelled", "call_id", c.ID, "reason", reason)
	m.record(ctx, c, audit.EventCallCancelled, calls.StateRinging, callerID, accounts.RoleCaller)

	m.notify(ctx, accounts.RoleCallTaker, c.CallTakerID, EventCancelled, CallRef{CallID: c.ID})
	return nil
}

// rejectOnDisconnect is the call-taker side counterpart of cancel.
func (m *Manager) rejectOnDisconnect(ctx context.Context, callTakerID, callID string) error {
	c, err := m.calls.Transition(ctx, calls.Transition{
		CallID:      callID,
		From:        calls.StateRinging,
		To:          calls.StateRejected,
		CallTakerID: callTakerID,
		At:          m.now(),
		EndedBy:     calls.SideCallTaker,
		EndReason:   calls.EndReasonNetworkIssue,
	})
	if err != nil {
		return m.raceOrErr("reject", callID, err)
	}
	m.timers.Disarm(c.ID)
	m.log.Info("call rejected on disconnect", "call_id", c.ID)
	m.record(ctx, c, audit.EventCallRejected, calls.StateRinging, callTakerID, accounts.RoleCallTaker)

	m.notify(ctx, accounts.RoleCaller, c.CallerID, EventRejected, CallRef{CallID: c.ID})
	return nil
}

// HandleTimeout resolves a call that is still RINGING when its timer fires.
// The persisted state is the only truth: if anything else resolved the call
// first this is a no-op.
func (m *Manager) HandleTimeout(ctx context.Context, callID string) error {
	_, err := m.expire(ctx, callID)
	return err
}

// expire reports whether this attempt moved the call to MISSED.
func (m *Manager) expire(ctx context.Context, callID string) (bool, error) {
	c, err := m.calls.Transition(ctx, calls.Transition{
		CallID:    callID,
		From:      calls.StateRinging,
		To:        calls.StateMissed,
		At:        m.now(),
		EndedBy:   calls.SideSystem,
		EndReason: calls.EndReasonTimeout,
	})
	if errors.Is(err, calls.ErrNotFound) {
		m.log.Debug("timeout for resolved call", "call_id", callID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("session: timeout: %w", err)
	}
	m.timers.Disarm(c.ID)
	m.log.Info("call missed", "call_id", c.ID)
	m.record(ctx, c, audit.EventCallMissed, calls.StateRinging, "", "")

	m.notify(ctx, accounts.RoleCaller, c.CallerID, EventMissed, CallRef{CallID: c.ID})
	m.notify(ctx, accounts.RoleCallTaker, c.CallTakerID, EventMissed, CallRef{CallID: c.ID})
	return true, nil
}

// End completes an accepted call. enderID must be the participant on the
// claimed side.
func (m *Manager) End(ctx context.Context, side calls.Side, enderID, callID string) error {
	if enderID == "" || callID == "" {
		return ErrInvalidRequest
	}
	var reason calls.EndReason
	switch side {
	case calls.SideCaller:
		reason = calls.EndReasonCallerHangup
	case calls.SideCallTaker:
		reason = calls.EndReasonCallTakerHangup
	default:
		return ErrInvalidRequest
	}
	return m.end(ctx, side, enderID, callID, reason)
}

func (m *Manager) end(ctx context.Context, side calls.Side, enderID, callID string, reason calls.EndReason) error {
	t := calls.Transition{
		CallID:    callID,
		From:      calls.StateAccepted,
		To:        calls.StateCompleted,
		At:        m.now(),
		EndedBy:   side,
		EndReason: reason,
	}
	if side == calls.SideCaller {
		t.CallerID = enderID
	} else {
		t.CallTakerID = enderID
	}
	c, err := m.calls.Transition(ctx, t)
	if err != nil {
		return m.raceOrErr("end", callID, err)
	}
	m.log.Info("call completed", "call_id", c.ID, "ended_by", side, "reason", reason, "duration_s", c.DurationSeconds)
	m.record(ctx, c, audit.EventCallCompleted, calls.StateAccepted, enderID, accounts.Role(side))

	m.finishCompleted(ctx, c)

	peerRole, peerID := accounts.RoleCallTaker, c.CallTakerID
	if side == calls.SideCallTaker {
		peerRole, peerID = accounts.RoleCaller, c.CallerID
	}
	m.notify(ctx, peerRole, peerID, EventEnded, CallRef{CallID: c.ID})
	return nil
}

// finishCompleted restores reachability and tears the media room down.
func (m *Manager) finishCompleted(ctx context.Context, c calls.Call) {
	m.restoreReachability(ctx, c.CallTakerID)
	if err := m.media.DestroyRoom(ctx, c.ID); err != nil {
		m.log.Warn("room teardown failed", "call_id", c.ID, "err", err)
	}
}

func (m *Manager) raceOrErr(op, callID string, err error) error {
	if errors.Is(err, calls.ErrNotFound) {
		m.log.Info(op+" lost race", "call_id", callID)
		return ErrCallUnavailable
	}
	return fmt.Errorf("session: %s: %w", op, err)
}

func (m *Manager) armTimeout(callID string) {
	m.timers.Arm(callID, func() {
		ctx, cancel := m.timerCtx()
		defer cancel()
		if err := m.HandleTimeout(ctx, callID); err != nil {
			m.log.Error("timeout handling failed", "call_id", callID, "err", err)
		}
	})
}

// participant loads an account for display purposes, falling back to a bare
// summary when the account service cannot answer.
func (m *Manager) participant(ctx context.Context, id string) accounts.Account {
	a, err := m.accounts.Get(ctx, id)
	if err != nil {
		m.log.Warn("participant lookup failed", "account_id", id, "err", err)
		return accounts.Account{ID: id}
	}
	return a
}

func (m *Manager) notify(ctx context.Context, role accounts.Role, id, event string, payload any) {
	if err := m.notifier.Notify(ctx, role, id, event, payload); err != nil {
		m.log.Warn("event not delivered", "event", event, "role", role, "account_id", id, "err", err)
	}
}

func (m *Manager) record(ctx context.Context, c calls.Call, typ audit.EventType, from calls.State, actorID string, actorRole accounts.Role) {
	if m.audit == nil {
		return
	}
	e := audit.Event{
		CallID:    c.ID,
		Type:      typ,
		ActorID:   actorID,
		ActorRole: string(actorRole),
		FromState: string(from),
		ToState:   string(c.State),
		Reason:    string(c.EndReason),
	}
	if err := m.audit.Append(ctx, e); err != nil {
		m.log.Warn("audit append failed", "call_id", c.ID, "type", typ, "err", err)
	}
}
