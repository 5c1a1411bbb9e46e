package budget

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"
)

// Repository stores cost events. Insert is idempotent per (call_id, kind):
// a duplicate returns inserted=false and no error.
type Repository interface {
	Insert(ctx context.Context, ev CostEvent) (bool, error)
	ListSince(ctx context.Context, campaignID string, since time.Time) ([]CostEvent, error)
}

type MemoryRepo struct {
	mu     sync.Mutex
	events []CostEvent
	keys   map[string]struct{}
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{keys: map[string]struct{}{}} }

func (r *MemoryRepo) Insert(ctx context.Context, ev CostEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := ev.CallID + "|" + string(ev.Kind)
	if _, ok := r.keys[k]; ok {
		return false, nil
	}
	r.keys[k] = struct{}{}
	r.events = append(r.events, ev)
	return true, nil
}

func (r *MemoryRepo) ListSince(ctx context.Context, campaignID string, since time.Time) ([]CostEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CostEvent
	for _, ev := range r.events {
		if ev.CampaignID == campaignID && !ev.OccurredAt.Before(since) {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

// PostgresRepo stores events in cost_events with UNIQUE (call_id, kind).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Insert(ctx context.Context, ev CostEvent) (bool, error) {
	const q = `
INSERT INTO cost_events (
  id, call_id, campaign_id, kind, amount_minor, duration_seconds, outcome, answered, transferred, occurred_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (call_id, kind) DO NOTHING
`
	res, err := r.db.ExecContext(ctx, q,
		ev.ID,
		ev.CallID,
		ev.CampaignID,
		ev.Kind,
		ev.AmountMinor,
		ev.DurationSeconds,
		ev.Outcome,
		ev.Answered,
		ev.Transferred,
		ev.OccurredAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepo) ListSince(ctx context.Context, campaignID string, since time.Time) ([]CostEvent, error) {
	const q = `
SELECT id, call_id, campaign_id, kind, amount_minor, duration_seconds, outcome, answered, transferred, occurred_at
FROM cost_events
WHERE campaign_id = $1 AND occurred_at >= $2
ORDER BY occurred_at ASC
`
	rows, err := r.db.QueryContext(ctx, q, campaignID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CostEvent
	for rows.Next() {
		var ev CostEvent
		if err := rows.Scan(
			&ev.ID,
			&ev.CallID,
			&ev.CampaignID,
			&ev.Kind,
			&ev.AmountMinor,
			&ev.DurationSeconds,
			&ev.Outcome,
			&ev.Answered,
			&ev.Transferred,
			&ev.OccurredAt,
		); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
