package messaging

import (
	"context"
	"strings"
)

// Messenger delivers a text message to a phone number.
type Messenger interface {
	Send(ctx context.Context, to, body string) error
}

// Outcome is how a single dispatch ended.
type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Result reports a dispatch attempt. It is informational only: dispatch is
// fire-and-forget and never retried.
type Result struct {
	Outcome Outcome
	To      string
	Reason  string
	Err     error
}

// Dispatch sends body to the given phone once and reports what happened.
// A missing messenger or recipient is reported as skipped.
func Dispatch(ctx context.Context, m Messenger, to, body string) Result {
	to = strings.TrimSpace(to)
	if m == nil {
		return Result{Outcome: OutcomeSkipped, To: to, Reason: "no messenger configured"}
	}
	if to == "" {
		return Result{Outcome: OutcomeSkipped, Reason: "assignee has no phone"}
	}
	if err := m.Send(ctx, to, body); err != nil {
		return Result{Outcome: OutcomeFailed, To: to, Reason: err.Error(), Err: err}
	}
	return Result{Outcome: OutcomeSent, To: to}
}
