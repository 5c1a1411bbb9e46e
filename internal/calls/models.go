package calls

import (
	"errors"
	"strings"
	"time"
)

// State is the internal lifecycle vocabulary of an outbound call.
//
// Provider-specific status strings never leave the telephony boundary;
// they are translated into a State through a StatusMap.
type State string

const (
	StateQueued       State = "queued"
	StateDialing      State = "dialing"
	StateRinging      State = "ringing"
	StateAnswered     State = "answered"
	StateInProgress   State = "in_progress"
	StateTransferring State = "transferring"
	StateTransferred  State = "transferred"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
	StateBusy         State = "busy"
	StateNoAnswer     State = "no_answer"
	StateCancelled    State = "cancelled"
)

// AllStates lists every lifecycle state in lifecycle order.
var AllStates = []State{
	StateQueued,
	StateDialing,
	StateRinging,
	StateAnswered,
	StateInProgress,
	StateTransferring,
	StateTransferred,
	StateCompleted,
	StateFailed,
	StateBusy,
	StateNoAnswer,
	StateCancelled,
}

func (s State) Valid() bool {
	for _, v := range AllStates {
		if v == s {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateTransferred, StateCompleted, StateFailed, StateBusy, StateNoAnswer, StateCancelled:
		return true
	default:
		return false
	}
}

// Answered reports whether the callee has picked up (answered or any later live state).
func (s State) Answered() bool {
	switch s {
	case StateAnswered, StateInProgress, StateTransferring, StateTransferred:
		return true
	default:
		return false
	}
}

// Rank orders states along the lifecycle. All terminal states share the highest rank.
func (s State) Rank() int {
	switch s {
	case StateQueued:
		return 0
	case StateDialing:
		return 1
	case StateRinging:
		return 2
	case StateAnswered:
		return 3
	case StateInProgress:
		return 4
	case StateTransferring:
		return 5
	default:
		if s.Terminal() {
			return 6
		}
		return -1
	}
}

// CanTransition reports whether moving from -> to is a forward lifecycle step.
// Provider callbacks can arrive out of order; stale reports fail this check.
func CanTransition(from, to State) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from.Terminal() || to == StateQueued || from == to {
		return false
	}
	if to == StateTransferred && from != StateTransferring {
		return false
	}
	return to.Rank() > from.Rank()
}

// CallRequest is a queued request to dial one lead for one campaign.
type CallRequest struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaign_id"`
	LeadID     string `json:"lead_id"`

	// Priority: lower dials sooner.
	Priority int `json:"priority"`

	// ScheduledAt is optional; zero means "as soon as possible".
	ScheduledAt time.Time `json:"scheduled_at,omitempty"`
	EnqueuedAt  time.Time `json:"enqueued_at"`

	Retry Retry `json:"retry"`
}

// Retry carries the retry bookkeeping of a request between dispatch attempts.
type Retry struct {
	Attempts       int       `json:"attempts"`
	MaxRetries     int       `json:"max_retries"`
	NextEligibleAt time.Time `json:"next_eligible_at,omitempty"`
	LastReason     string    `json:"last_reason,omitempty"`
}

// DueAt is the earliest time the request may be dispatched.
func (r CallRequest) DueAt() time.Time {
	due := r.ScheduledAt
	if r.Retry.NextEligibleAt.After(due) {
		due = r.Retry.NextEligibleAt
	}
	if due.IsZero() {
		return r.EnqueuedAt
	}
	return due
}

// IsDue reports whether the request may be dispatched at now.
func (r CallRequest) IsDue(now time.Time) bool {
	return !r.DueAt().After(now)
}

var ErrInvalidRequest = errors.New("calls: invalid request")

func (r CallRequest) Validate() error {
	if strings.TrimSpace(r.CampaignID) == "" || strings.TrimSpace(r.LeadID) == "" {
		return ErrInvalidRequest
	}
	if r.Retry.MaxRetries < 0 || r.Retry.Attempts < 0 {
		return ErrInvalidRequest
	}
	return nil
}

// Record is the persisted history row of a dispatched call.
//
// NOTE: provider identifiers stay in ProviderCallID; the core never depends on them.
type Record struct {
	CallID     string `json:"call_id" db:"call_id"`
	RequestID  string `json:"request_id" db:"request_id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`
	LeadID     string `json:"lead_id" db:"lead_id"`

	DIDID string `json:"did_id" db:"did_id"`
	From  string `json:"from" db:"from_number"`
	To    string `json:"to" db:"to_number"`

	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`

	State State `json:"state" db:"state"`

	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	DurationSeconds int   `json:"duration" db:"duration"`
	CostMinor       int64 `json:"cost_minor" db:"cost_minor"`

	EndReason string `json:"end_reason,omitempty" db:"end_reason"`
}
