package campaigns

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("campaigns: not found")
	ErrInvalidStatus = errors.New("campaigns: invalid status")
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusPaused, StatusCompleted:
		return true
	default:
		return false
	}
}

// Campaign is the dialer's read model of a campaign. Authoring happens elsewhere.
type Campaign struct {
	ID     string `json:"id" db:"id"`
	Name   string `json:"name" db:"name"`
	Status Status `json:"status" db:"status"`

	DailyBudgetMinor           int64 `json:"daily_budget_minor" db:"daily_budget_minor"`
	TargetCostPerMinuteMinor   int64 `json:"target_cost_per_minute_minor" db:"target_cost_per_minute_minor"`
	TargetCostPerTransferMinor int64 `json:"target_cost_per_transfer_minor" db:"target_cost_per_transfer_minor"`

	// TransferNumber is where live transfers are sent when no destination is given.
	TransferNumber string `json:"transfer_number,omitempty" db:"transfer_number"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type LeadStatus string

const (
	LeadNew       LeadStatus = "new"
	LeadPending   LeadStatus = "pending"
	LeadRetry     LeadStatus = "retry"
	LeadContacted LeadStatus = "contacted"
	LeadConverted LeadStatus = "converted"
	LeadDNC       LeadStatus = "dnc"
	LeadInvalid   LeadStatus = "invalid"
)

// Dispatchable reports whether a lead in this status may be dialed.
func (s LeadStatus) Dispatchable() bool {
	switch s {
	case LeadNew, LeadPending, LeadRetry:
		return true
	default:
		return false
	}
}

type Lead struct {
	ID         string     `json:"id" db:"id"`
	CampaignID string     `json:"campaign_id" db:"campaign_id"`
	Phone      string     `json:"phone" db:"phone"`
	Status     LeadStatus `json:"status" db:"status"`
	Timezone   string     `json:"timezone,omitempty" db:"timezone"`
}
