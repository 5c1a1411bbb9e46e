package queue

import (
	"time"

	"outbound-dialer/internal/calls"
)

// RetryPolicy decides how a transiently denied request is rescheduled.
type RetryPolicy struct {
	Backoff time.Duration
	// MaxRetries is the number of reschedules before discard. Zero or below never retries.
	MaxRetries int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Backoff: 5 * time.Minute, MaxRetries: 3}
}

// Limit returns the retry ceiling that applies to req.
// A request carrying its own MaxRetries overrides the policy default.
func (p RetryPolicy) Limit(req calls.CallRequest) int {
	if req.Retry.MaxRetries > 0 {
		return req.Retry.MaxRetries
	}
	return p.MaxRetries
}

// Next returns the rescheduled request, or false when retries are exhausted.
// A request already retried Limit times is discarded on its next denial.
func (p RetryPolicy) Next(req calls.CallRequest, now time.Time, reason string) (calls.CallRequest, bool) {
	if req.Retry.Attempts >= p.Limit(req) {
		return req, false
	}
	backoff := p.Backoff
	if backoff <= 0 {
		backoff = 5 * time.Minute
	}
	out := req
	out.Retry.Attempts++
	out.Retry.NextEligibleAt = now.Add(backoff)
	out.Retry.LastReason = reason
	return out, true
}
