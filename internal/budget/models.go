package budget

import (
	"context"
	"time"
)

// Kind distinguishes the two cost events a call produces.
type Kind string

const (
	KindInitiate Kind = "initiate"
	KindComplete Kind = "complete"
)

func (k Kind) Valid() bool { return k == KindInitiate || k == KindComplete }

// CostEvent is one accounting entry. A call produces at most one event per Kind.
//
// Amounts are integer minor units (cents) so spend never drifts.
type CostEvent struct {
	ID         string `json:"id" db:"id"`
	CallID     string `json:"call_id" db:"call_id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`
	Kind       Kind   `json:"kind" db:"kind"`

	AmountMinor     int64 `json:"amount_minor" db:"amount_minor"`
	DurationSeconds int   `json:"duration_seconds" db:"duration_seconds"`

	// Outcome is the final call state for complete events.
	Outcome     string `json:"outcome,omitempty" db:"outcome"`
	Answered    bool   `json:"answered" db:"answered"`
	Transferred bool   `json:"transferred" db:"transferred"`

	OccurredAt time.Time `json:"occurred_at" db:"occurred_at"`
}

// Policy is a campaign's budget configuration.
type Policy struct {
	DailyBudgetMinor           int64 `json:"daily_budget_minor"`
	TargetCostPerMinuteMinor   int64 `json:"target_cost_per_minute_minor"`
	TargetCostPerTransferMinor int64 `json:"target_cost_per_transfer_minor"`
}

// PolicySource resolves the budget policy of a campaign.
type PolicySource interface {
	BudgetPolicy(ctx context.Context, campaignID string) (Policy, error)
}

// PolicyFunc adapts a function to PolicySource.
type PolicyFunc func(ctx context.Context, campaignID string) (Policy, error)

func (f PolicyFunc) BudgetPolicy(ctx context.Context, campaignID string) (Policy, error) {
	return f(ctx, campaignID)
}

type AlertType string

const (
	AlertBudgetExceeded      AlertType = "BUDGET_EXCEEDED"
	AlertBudgetWarning       AlertType = "BUDGET_WARNING"
	AlertCostPerMinuteHigh   AlertType = "COST_PER_MINUTE_HIGH"
	AlertCostPerTransferHigh AlertType = "COST_PER_TRANSFER_HIGH"
	AlertEfficiencyPoor      AlertType = "EFFICIENCY_POOR"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
)

type Alert struct {
	Type      AlertType `json:"type"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	AutoPause bool      `json:"auto_pause"`
}

// Metrics is the day-to-date cost picture of one campaign.
type Metrics struct {
	CampaignID string `json:"campaign_id"`
	Day        string `json:"day"`

	DailyBudgetMinor int64 `json:"daily_budget_minor"`
	TotalCostMinor   int64 `json:"total_cost_minor"`

	Calls          int `json:"calls"`
	Answered       int `json:"answered"`
	Transfers      int `json:"transfers"`
	BilledSeconds  int `json:"billed_seconds"`
	CompletedCalls int `json:"completed_calls"`

	CostPerCallMinor     int64 `json:"cost_per_call_minor"`
	CostPerTransferMinor int64 `json:"cost_per_transfer_minor"`
	CostPerMinuteMinor   int64 `json:"cost_per_minute_minor"`

	UtilizationPct          float64 `json:"budget_utilization_pct"`
	ProjectedDailyCostMinor int64   `json:"projected_daily_cost_minor"`
	EfficiencyScore         float64 `json:"efficiency_score"`

	Alerts     []Alert   `json:"alerts"`
	ComputedAt time.Time `json:"computed_at"`
}

// AutoPause reports whether any outstanding alert carries an auto-pause directive.
func (m Metrics) AutoPause() bool {
	for _, a := range m.Alerts {
		if a.AutoPause {
			return true
		}
	}
	return false
}
