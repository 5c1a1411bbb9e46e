package orchestrator

import (
	"context"
	"errors"
	"time"

	"outbound-dialer/internal/admission"
	"outbound-dialer/internal/budget"
	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/campaigns"
	"outbound-dialer/internal/did"
	"outbound-dialer/internal/pricing"
)

var (
	ErrAlreadyRunning    = errors.New("orchestrator: already running")
	ErrCallNotFound      = errors.New("orchestrator: call not found")
	ErrInvalidTransition = errors.New("orchestrator: invalid state transition")
	ErrNoDestination     = errors.New("orchestrator: transfer destination required")
)

// ActiveCall is a dispatched call the engine is tracking.
// Only the engine creates, mutates and removes ActiveCalls.
type ActiveCall struct {
	CallID  string
	Request calls.CallRequest

	DIDID string
	From  string
	To    string

	ProviderCallID string
	State          calls.State

	StartedAt  time.Time
	AnsweredAt time.Time

	// ProviderDuration is the billed duration reported by the provider, when known.
	ProviderDuration int
	TransferTo       string

	slotHeld  bool
	costMinor int64
}

// ActiveCallView is the read-only projection returned to callers.
type ActiveCallView struct {
	CallID          string      `json:"call_id"`
	CampaignID      string      `json:"campaign_id"`
	LeadID          string      `json:"lead_id"`
	DIDID           string      `json:"did_id"`
	State           calls.State `json:"state"`
	StartedAt       time.Time   `json:"started_at"`
	DurationSeconds int         `json:"duration"`
}

type QueueStatus struct {
	QueueSize     int  `json:"queue_size"`
	ActiveCalls   int  `json:"active_calls"`
	MaxConcurrent int  `json:"max_concurrent"`
	Running       bool `json:"running"`
}

type EnqueueResult struct {
	Accepted  bool   `json:"accepted"`
	RequestID string `json:"request_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

const (
	RejectInvalidRequest = "invalid_request"
	RejectDuplicateLead  = "duplicate_lead"
)

// Collaborator contracts. Concrete implementations live in their own packages;
// the engine only depends on these shapes.

type Admission interface {
	MayDispatch(ctx context.Context, req calls.CallRequest) admission.Decision
}

type DIDPool interface {
	Acquire(ctx context.Context, campaignID, preferredAreaCode string) (did.DID, bool)
	Release(ctx context.Context, didID string) bool
	RecordOutcome(ctx context.Context, didID string, outcome did.Outcome)
	PoolStatus(campaignID string) did.PoolStatus
	AnalyzeHealth(ctx context.Context, didID string) (did.HealthReport, error)
	Rotate(ctx context.Context, campaignID string) (did.RotationReport, error)
	Campaigns() []string
}

type Ledger interface {
	Record(ctx context.Context, ev budget.CostEvent) error
	Metrics(ctx context.Context, campaignID string) (budget.Metrics, error)
}

type Directory interface {
	GetCampaign(ctx context.Context, id string) (campaigns.Campaign, error)
	GetLead(ctx context.Context, id string) (campaigns.Lead, error)
	SetCampaignStatus(ctx context.Context, id string, status campaigns.Status) (bool, error)
}

type RecencyRecorder interface {
	MarkCompleted(ctx context.Context, leadID string, at time.Time) error
}

// SlotLimiter caps concurrent calls per campaign across dialer instances.
type SlotLimiter interface {
	Acquire(ctx context.Context, campaignID string) (bool, error)
	Release(ctx context.Context, campaignID string) error
}

type Rater interface {
	InitiationCost() int64
	CompletionCost(connected time.Duration) pricing.CallCost
}

// Handoff is what the conversation agent receives when a callee answers.
type Handoff struct {
	CallID         string    `json:"call_id"`
	CampaignID     string    `json:"campaign_id"`
	LeadID         string    `json:"lead_id"`
	ProviderCallID string    `json:"provider_call_id"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	AnsweredAt     time.Time `json:"answered_at"`
}

// Conversation is the AI agent hand-off collaborator.
type Conversation interface {
	Start(ctx context.Context, h Handoff) error
	End(ctx context.Context, callID string, final calls.State) error
}
