package reporting

import (
	"time"

	"telecom-signaling/internal/calls"
)

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call outcomes for calls created in
// [From, To).
type CallsSummaryRequest struct {
	Range       TimeRange `json:"range"`
	CallerID    string    `json:"callerId,omitempty"`
	CallTakerID string    `json:"callTakerId,omitempty"`
}

type CallsSummary struct {
	Range TimeRange `json:"range"`

	TotalCalls     int `json:"totalCalls"`
	RingingCalls   int `json:"ringingCalls"`
	AcceptedCalls  int `json:"acceptedCalls"`
	CompletedCalls int `json:"completedCalls"`
	RejectedCalls  int `json:"rejectedCalls"`
	MissedCalls    int `json:"missedCalls"`
	CancelledCalls int `json:"cancelledCalls"`

	// ByEndReason counts terminal calls per end reason.
	ByEndReason map[calls.EndReason]int `json:"byEndReason"`

	TotalDurationSeconds   int `json:"totalDurationSeconds"`
	AverageDurationSeconds int `json:"averageDurationSeconds"`

	// AnswerRate is completed (or still accepted) calls over all calls.
	AnswerRate float64 `json:"answerRate"`
}
