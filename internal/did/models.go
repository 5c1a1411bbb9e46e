package did

import (
	"fmt"
	"strings"
	"time"
)

// DID is an outbound caller-ID number and its reputation state.
//
// Invariants:
// - InUse DIDs are never handed to a second call.
// - Retired is terminal; a retired DID is never selectable again.
// - Rows are never deleted, only retired.
type DID struct {
	ID         string `json:"id" db:"id"`
	Number     string `json:"number" db:"number"`
	AreaCode   string `json:"area_code" db:"area_code"`
	CampaignID string `json:"campaign_id,omitempty" db:"campaign_id"` // empty: shared pool

	HealthScore float64 `json:"health_score" db:"health_score"`
	SpamScore   float64 `json:"spam_score" db:"spam_score"`
	Status      Status  `json:"status" db:"status"`

	InUse bool `json:"in_use" db:"in_use"`

	CallsToday    int `json:"calls_today" db:"calls_today"`
	CallsThisWeek int `json:"calls_this_week" db:"calls_this_week"`
	DailyLimit    int `json:"daily_limit" db:"daily_limit"`

	// Lifetime outcome counters feeding the health score.
	TotalCalls    int `json:"total_calls" db:"total_calls"`
	AnsweredCalls int `json:"answered_calls" db:"answered_calls"`
	FailedCalls   int `json:"failed_calls" db:"failed_calls"`

	LastUsedAt    time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty" db:"cooldown_until"`
	LastScoredAt  time.Time `json:"last_scored_at,omitempty" db:"last_scored_at"`

	// UsageDay / UsageWeek key the daily and weekly counters (e.g. "2024-03-08", "2024-W10").
	UsageDay  string `json:"-" db:"usage_day"`
	UsageWeek string `json:"-" db:"usage_week"`
}

type Status string

const (
	StatusWarming    Status = "warming"
	StatusActive     Status = "active"
	StatusQuarantine Status = "quarantine"
	StatusRetired    Status = "retired"
)

// Outcome is the result of one call placed from a DID.
type Outcome string

const (
	OutcomeAnswered Outcome = "answered"
	OutcomeNoAnswer Outcome = "no_answer"
	OutcomeFailed   Outcome = "failed"
)

// Recommendation bands derived from the health score.
type Recommendation string

const (
	RecommendKeep    Recommendation = "keep_using"
	RecommendMonitor Recommendation = "monitor"
	RecommendReduce  Recommendation = "reduce_usage"
	RecommendRetire  Recommendation = "retire"
)

// HealthScore is the breakdown of a DID's composite score.
type HealthScore struct {
	Score          float64        `json:"score"`
	AnswerPoints   float64        `json:"answer_points"`
	FailurePoints  float64        `json:"failure_points"`
	SpamPoints     float64        `json:"spam_points"`
	SpamScore      float64        `json:"spam_score"`
	Recommendation Recommendation `json:"recommendation"`
}

// HealthReport is the per-DID result of AnalyzeHealth.
type HealthReport struct {
	DIDID      string      `json:"did_id"`
	Number     string      `json:"number"`
	Status     Status      `json:"status"`
	InUse      bool        `json:"in_use"`
	Health     HealthScore `json:"health"`
	AnswerRate float64     `json:"answer_rate"`
	FailRate   float64     `json:"fail_rate"`
	CallsToday int         `json:"calls_today"`
	DailyLimit int         `json:"daily_limit"`
}

// PoolStatus summarizes the DIDs usable by a campaign.
type PoolStatus struct {
	CampaignID    string         `json:"campaign_id"`
	Total         int            `json:"total"`
	ByStatus      map[Status]int `json:"by_status"`
	InUse         int            `json:"in_use"`
	Available     int            `json:"available"`
	AverageHealth float64        `json:"average_health"`
	CallsToday    int            `json:"calls_today"`
}

// RotationReport lists what a rotation pass changed.
type RotationReport struct {
	CampaignID         string   `json:"campaign_id"`
	Scored             int      `json:"scored"`
	Retired            []string `json:"retired,omitempty"`
	Quarantined        []string `json:"quarantined,omitempty"`
	Promoted           []string `json:"promoted,omitempty"`
	Restored           []string `json:"restored,omitempty"`
	ActiveCount        int      `json:"active_count"`
	ProvisionRequested int      `json:"provision_requested"`
}

// AreaCodeOf extracts the NANP area code from an E.164 or 10/11-digit number.
// Returns "" when the number does not look like a NANP number.
func AreaCodeOf(number string) string {
	var digits strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	switch {
	case len(d) == 11 && d[0] == '1':
		return d[1:4]
	case len(d) == 10:
		return d[:3]
	default:
		return ""
	}
}

func dayKey(t time.Time) string { return t.Format("2006-01-02") }

func weekKey(t time.Time) string {
	y, w := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", y, w)
}
