package gateway

import (
	"context"
	"errors"
	"time"

	"telecom-signaling/internal/accounts"
	"telecom-signaling/internal/calls"
	"telecom-signaling/internal/session"
)

// Operator group events.
const (
	EventRequestCounts = "presence:request-counts"
	EventCounts        = "presence:counts"
)

type CountsPayload struct {
	OnlineUsers       int64     `json:"onlineUsers"`
	OnlineTelecallers int64     `json:"onlineTelecallers"`
	Timestamp         time.Time `json:"timestamp"`
}

var errRateLimited = errors.New("gateway: rate limited")

const (
	msgSocketError = "An error occurred"
	msgRateLimited = "Too many requests. Please slow down."
)

// dispatch handles one inbound frame. Each frame runs on its own goroutine.
func (s *Server) dispatch(cl *client, raw []byte) {
	ctx, cancel := context.WithTimeout(s.baseCtx, s.timing.EventTimeout)
	defer cancel()

	f, err := decodeFrame(raw)
	if err != nil {
		s.reply(cl, session.EventError, session.ErrorPayload{Message: msgSocketError})
		return
	}

	switch cl.ns.Role {
	case accounts.RoleCaller:
		err = s.dispatchCaller(ctx, cl, f)
	case accounts.RoleCallTaker:
		err = s.dispatchCallTaker(ctx, cl, f)
	default:
		err = s.dispatchAdmin(ctx, cl, f)
	}
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, errMalformedFrame):
		s.reply(cl, session.EventError, session.ErrorPayload{Message: msgSocketError})
	case errors.Is(err, errRateLimited):
		s.reply(cl, errorEvent(cl), session.ErrorPayload{Message: msgRateLimited})
	default:
		var ref *session.RefusalError
		if !errors.As(err, &ref) && !errors.Is(err, session.ErrCallUnavailable) {
			cl.log.Warn("event failed", "event", f.Event, "err", err)
		}
		s.reply(cl, errorEvent(cl), session.ErrorPayload{Message: session.PublicMessage(err)})
	}
}

func (s *Server) dispatchCaller(ctx context.Context, cl *client, f Frame) error {
	switch f.Event {
	case session.EventInitiate:
		var req session.InitiateRequest
		if err := decodeData(f, &req); err != nil {
			return err
		}
		if err := s.limit(ctx, s.initiateLimit, cl); err != nil {
			return err
		}
		_, err := s.sessions.Initiate(ctx, cl.userID, req)
		return err
	case session.EventCancel:
		ref, err := s.callRef(ctx, cl, f)
		if err != nil {
			return err
		}
		return s.sessions.Cancel(ctx, cl.userID, ref.CallID)
	case session.EventEnd:
		ref, err := s.callRef(ctx, cl, f)
		if err != nil {
			return err
		}
		return s.sessions.End(ctx, calls.SideCaller, cl.userID, ref.CallID)
	default:
		return errMalformedFrame
	}
}

func (s *Server) dispatchCallTaker(ctx context.Context, cl *client, f Frame) error {
	switch f.Event {
	case session.EventAccept:
		ref, err := s.callRef(ctx, cl, f)
		if err != nil {
			return err
		}
		return s.sessions.Accept(ctx, cl.userID, ref.CallID)
	case session.EventReject:
		ref, err := s.callRef(ctx, cl, f)
		if err != nil {
			return err
		}
		return s.sessions.Reject(ctx, cl.userID, ref.CallID)
	case session.EventEnd:
		ref, err := s.callRef(ctx, cl, f)
		if err != nil {
			return err
		}
		return s.sessions.End(ctx, calls.SideCallTaker, cl.userID, ref.CallID)
	default:
		return errMalformedFrame
	}
}

func (s *Server) dispatchAdmin(ctx context.Context, cl *client, f Frame) error {
	if f.Event != EventRequestCounts {
		return errMalformedFrame
	}
	users, err := s.registry.Count(ctx, accounts.RoleCaller)
	if err != nil {
		return err
	}
	takers, err := s.registry.Count(ctx, accounts.RoleCallTaker)
	if err != nil {
		return err
	}
	s.reply(cl, EventCounts, CountsPayload{OnlineUsers: users, OnlineTelecallers: takers, Timestamp: s.now().UTC()})
	return nil
}

// callRef decodes {callId} and spends one unit of the action budget.
func (s *Server) callRef(ctx context.Context, cl *client, f Frame) (session.CallRef, error) {
	var ref session.CallRef
	if err := decodeData(f, &ref); err != nil || ref.CallID == "" {
		return session.CallRef{}, errMalformedFrame
	}
	if err := s.limit(ctx, s.actionLimit, cl); err != nil {
		return session.CallRef{}, err
	}
	return ref, nil
}

func (s *Server) limit(ctx context.Context, l Limiter, cl *client) error {
	if l == nil {
		return nil
	}
	ok, err := l.Allow(ctx, string(cl.role())+":"+cl.userID)
	if err != nil {
		cl.log.Warn("event rate limit check failed", "err", err)
		return nil
	}
	if !ok {
		return errRateLimited
	}
	return nil
}

func (s *Server) reply(cl *client, event string, payload any) {
	msg, err := encodeFrame(event, payload)
	if err != nil {
		cl.log.Error("encode reply failed", "event", event, "err", err)
		return
	}
	_ = cl.enqueue(msg)
}

func errorEvent(cl *client) string {
	if cl.ns.Role == "" {
		return session.EventError
	}
	return session.ErrorEventFor(cl.role())
}
