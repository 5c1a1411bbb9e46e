package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidEvent = errors.New("budget: invalid cost event")

type Config struct {
	// WarningPct raises BUDGET_WARNING at this utilization.
	WarningPct float64
	// EfficiencyFloor raises EFFICIENCY_POOR below this score.
	EfficiencyFloor float64
	// Location defines the budget day boundary.
	Location *time.Location
}

func (c Config) withDefaults() Config {
	out := c
	if out.WarningPct <= 0 {
		out.WarningPct = 80
	}
	if out.EfficiencyFloor <= 0 {
		out.EfficiencyFloor = 60
	}
	if out.Location == nil {
		out.Location = time.UTC
	}
	return out
}

// Ledger is the cost/accounting sink and the only writer of campaign budget snapshots.
//
// Metrics are always recomputed from the stored events of the current day; the
// snapshot is a cache of the last computation used by the admission fast path.
type Ledger struct {
	repo     Repository
	policies PolicySource
	cfg      Config
	log      *slog.Logger

	mu        sync.Mutex
	snapshots map[string]Metrics

	Now func() time.Time
}

func NewLedger(repo Repository, policies PolicySource, cfg Config, log *slog.Logger) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{
		repo:      repo,
		policies:  policies,
		cfg:       cfg.withDefaults(),
		log:       log.With("component", "budget_ledger"),
		snapshots: map[string]Metrics{},
		Now:       time.Now,
	}
}

// Record stores a cost event. Recording the same (call, kind) twice is a no-op.
func (l *Ledger) Record(ctx context.Context, ev CostEvent) error {
	if ev.CallID == "" || ev.CampaignID == "" || !ev.Kind.Valid() || ev.AmountMinor < 0 || ev.DurationSeconds < 0 {
		return ErrInvalidEvent
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = l.Now().UTC()
	}
	inserted, err := l.repo.Insert(ctx, ev)
	if err != nil {
		return fmt.Errorf("budget: record %s/%s: %w", ev.CallID, ev.Kind, err)
	}
	if !inserted {
		l.log.Debug("duplicate cost event ignored", "call_id", ev.CallID, "kind", ev.Kind)
	}
	return nil
}

func (l *Ledger) dayStart(now time.Time) time.Time {
	local := now.In(l.cfg.Location)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, l.cfg.Location)
}

// Metrics recomputes the campaign's cost metrics and alerts for the current day
// and stores them as the campaign's snapshot.
func (l *Ledger) Metrics(ctx context.Context, campaignID string) (Metrics, error) {
	now := l.Now()
	start := l.dayStart(now)

	policy, err := l.policy(ctx, campaignID)
	if err != nil {
		return Metrics{}, err
	}
	events, err := l.repo.ListSince(ctx, campaignID, start)
	if err != nil {
		return Metrics{}, fmt.Errorf("budget: list events: %w", err)
	}

	m := compute(campaignID, policy, events, now, start, l.cfg)

	l.mu.Lock()
	l.snapshots[campaignID] = m
	l.mu.Unlock()
	return m, nil
}

// BudgetAvailable is the admission fast path. It is false when today's spend has
// reached the daily budget or the latest snapshot carries an auto-pause directive.
// Lookup failures fail closed.
func (l *Ledger) BudgetAvailable(ctx context.Context, campaignID string) bool {
	now := l.Now()
	start := l.dayStart(now)

	if snap, ok := l.Snapshot(campaignID); ok && snap.Day == start.Format("2006-01-02") && snap.AutoPause() {
		return false
	}

	policy, err := l.policy(ctx, campaignID)
	if err != nil {
		l.log.Warn("budget policy lookup failed", "campaign_id", campaignID, "err", err)
		return false
	}
	if policy.DailyBudgetMinor <= 0 {
		return true
	}
	events, err := l.repo.ListSince(ctx, campaignID, start)
	if err != nil {
		l.log.Warn("cost event lookup failed", "campaign_id", campaignID, "err", err)
		return false
	}
	var spent int64
	for _, ev := range events {
		spent += ev.AmountMinor
	}
	return spent < policy.DailyBudgetMinor
}

// Snapshot returns the last computed metrics for a campaign.
func (l *Ledger) Snapshot(campaignID string) (Metrics, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.snapshots[campaignID]
	return m, ok
}

func (l *Ledger) policy(ctx context.Context, campaignID string) (Policy, error) {
	if l.policies == nil {
		return Policy{}, nil
	}
	p, err := l.policies.BudgetPolicy(ctx, campaignID)
	if err != nil {
		return Policy{}, fmt.Errorf("budget: policy %s: %w", campaignID, err)
	}
	return p, nil
}

func compute(campaignID string, policy Policy, events []CostEvent, now, start time.Time, cfg Config) Metrics {
	m := Metrics{
		CampaignID:       campaignID,
		Day:              start.Format("2006-01-02"),
		DailyBudgetMinor: policy.DailyBudgetMinor,
		Alerts:           []Alert{},
		ComputedAt:       now,
	}

	for _, ev := range events {
		m.TotalCostMinor += ev.AmountMinor
		switch ev.Kind {
		case KindInitiate:
			m.Calls++
		case KindComplete:
			m.CompletedCalls++
			m.BilledSeconds += ev.DurationSeconds
			if ev.Answered {
				m.Answered++
			}
			if ev.Transferred {
				m.Transfers++
			}
		}
	}

	if m.Calls > 0 {
		m.CostPerCallMinor = m.TotalCostMinor / int64(m.Calls)
	}
	if m.Transfers > 0 {
		m.CostPerTransferMinor = m.TotalCostMinor / int64(m.Transfers)
	}
	if m.BilledSeconds > 0 {
		m.CostPerMinuteMinor = m.TotalCostMinor * 60 / int64(m.BilledSeconds)
	}
	if policy.DailyBudgetMinor > 0 {
		m.UtilizationPct = round2(float64(m.TotalCostMinor) * 100 / float64(policy.DailyBudgetMinor))
	}

	elapsed := now.Sub(start)
	if elapsed < time.Hour {
		elapsed = time.Hour
	}
	m.ProjectedDailyCostMinor = int64(math.Round(float64(m.TotalCostMinor) * float64(24*time.Hour) / float64(elapsed)))

	m.EfficiencyScore = efficiency(m, policy)
	m.Alerts = alerts(m, policy, cfg)
	return m
}

// efficiency blends answer rate (0-50) with cost per transfer against target (0-50).
func efficiency(m Metrics, policy Policy) float64 {
	if m.Calls == 0 {
		return 100
	}
	answered := m.Answered
	if answered > m.Calls {
		answered = m.Calls
	}
	score := 50 * float64(answered) / float64(m.Calls)

	switch {
	case policy.TargetCostPerTransferMinor <= 0:
		score += 50
	case m.Transfers > 0 && m.CostPerTransferMinor > 0:
		score += 50 * math.Min(1, float64(policy.TargetCostPerTransferMinor)/float64(m.CostPerTransferMinor))
	case m.Transfers > 0:
		score += 50
	}
	return round2(score)
}

func alerts(m Metrics, policy Policy, cfg Config) []Alert {
	out := []Alert{}
	if policy.DailyBudgetMinor > 0 {
		switch {
		case m.UtilizationPct >= 100:
			out = append(out, Alert{
				Type:      AlertBudgetExceeded,
				Severity:  SeverityCritical,
				Message:   fmt.Sprintf("daily budget exhausted: spent %s of %s", formatMinor(m.TotalCostMinor), formatMinor(policy.DailyBudgetMinor)),
				AutoPause: true,
			})
		case m.UtilizationPct >= cfg.WarningPct:
			out = append(out, Alert{
				Type:     AlertBudgetWarning,
				Severity: SeverityHigh,
				Message:  fmt.Sprintf("budget %.1f%% used", m.UtilizationPct),
			})
		}
	}
	if policy.TargetCostPerMinuteMinor > 0 && m.BilledSeconds > 0 && m.CostPerMinuteMinor > policy.TargetCostPerMinuteMinor {
		out = append(out, Alert{
			Type:     AlertCostPerMinuteHigh,
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("cost per minute %s above target %s", formatMinor(m.CostPerMinuteMinor), formatMinor(policy.TargetCostPerMinuteMinor)),
		})
	}
	if policy.TargetCostPerTransferMinor > 0 && m.Transfers > 0 && m.CostPerTransferMinor > policy.TargetCostPerTransferMinor {
		out = append(out, Alert{
			Type:     AlertCostPerTransferHigh,
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("cost per transfer %s above target %s", formatMinor(m.CostPerTransferMinor), formatMinor(policy.TargetCostPerTransferMinor)),
		})
	}
	if m.Calls > 0 && m.EfficiencyScore < cfg.EfficiencyFloor {
		out = append(out, Alert{
			Type:     AlertEfficiencyPoor,
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("efficiency score %.1f", m.EfficiencyScore),
		})
	}
	return out
}

func formatMinor(v int64) string {
	sign := ""
	if v < 0 {
		sign, v = "-", -v
	}
	return fmt.Sprintf("%s$%d.%02d", sign, v/100, v%100)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
