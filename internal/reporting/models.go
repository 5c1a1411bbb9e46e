package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) valid() bool {
	return !r.From.IsZero() && !r.To.IsZero() && r.To.After(r.From)
}

// CallsSummaryRequest requests call outcome metrics for one campaign.
type CallsSummaryRequest struct {
	CampaignID string    `json:"campaign_id"`
	Range      TimeRange `json:"range"`
}

// CallsSummary counts finished calls by final state. Calls still in flight
// are counted in TotalCalls and InFlightCalls only.
type CallsSummary struct {
	CampaignID string    `json:"campaign_id"`
	Range      TimeRange `json:"range"`

	TotalCalls       int `json:"total_calls"`
	CompletedCalls   int `json:"completed_calls"`
	TransferredCalls int `json:"transferred_calls"`
	FailedCalls      int `json:"failed_calls"`
	NoAnswerCalls    int `json:"no_answer_calls"`
	BusyCalls        int `json:"busy_calls"`
	CancelledCalls   int `json:"cancelled_calls"`
	InFlightCalls    int `json:"in_flight_calls"`
	AnsweredCalls    int `json:"answered_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	// EndReasons counts terminal calls by end reason (timeouts, operator cancels, provider status).
	EndReasons map[string]int `json:"end_reasons"`

	AnswerRate   float64 `json:"answer_rate"`
	TransferRate float64 `json:"transfer_rate"`
}

// SpendSummaryRequest requests aggregated cost-event spend for one campaign.
type SpendSummaryRequest struct {
	CampaignID string    `json:"campaign_id"`
	Range      TimeRange `json:"range"`
}

type SpendSummary struct {
	CampaignID string    `json:"campaign_id"`
	Range      TimeRange `json:"range"`

	TotalMinor      int64 `json:"total_minor"`
	InitiationMinor int64 `json:"initiation_minor"`
	UsageMinor      int64 `json:"usage_minor"`

	BilledSeconds int `json:"billed_seconds"`
	Transfers     int `json:"transfers"`

	CostPerTransferMinor int64 `json:"cost_per_transfer_minor"`
}
