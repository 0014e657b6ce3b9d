package reporting

import (
	"context"
	"errors"
	"time"

	"telecom-signaling/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// maxRange bounds one summary; wider ranges should be paged by the caller.
const maxRange = 93 * 24 * time.Hour

// Source is the slice of call storage reporting reads from.
type Source interface {
	ListCreated(ctx context.Context, from, to time.Time) ([]calls.Call, error)
}

type Service struct {
	src Source
}

func NewService(src Source) *Service { return &Service{src: src} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.To.Sub(req.Range.From) > maxRange {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.src == nil {
		return CallsSummary{}, errors.New("reporting: source not configured")
	}

	rows, err := s.src.ListCreated(ctx, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{Range: req.Range, ByEndReason: map[calls.EndReason]int{}}
	connected := 0
	for _, c := range rows {
		if req.CallerID != "" && c.CallerID != req.CallerID {
			continue
		}
		if req.CallTakerID != "" && c.CallTakerID != req.CallTakerID {
			continue
		}
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSeconds
		if c.EndReason != "" {
			out.ByEndReason[c.EndReason]++
		}
		switch c.State {
		case calls.StateRinging:
			out.RingingCalls++
		case calls.StateAccepted:
			out.AcceptedCalls++
			connected++
		case calls.StateCompleted:
			out.CompletedCalls++
			connected++
		case calls.StateRejected:
			out.RejectedCalls++
		case calls.StateMissed:
			out.MissedCalls++
		case calls.StateCancelled:
			out.CancelledCalls++
		}
	}
	if out.CompletedCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.CompletedCalls
	}
	if out.TotalCalls > 0 {
		out.AnswerRate = float64(connected) / float64(out.TotalCalls)
	}
	return out, nil
}
