package calls

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"
)

// Repository persists call records. Save is an upsert keyed by CallID.
type Repository interface {
	Save(ctx context.Context, r Record) error
}

var ErrNotFound = errors.New("calls: not found")

// MemoryRepo is an in-memory Repository for tests and local runs.
type MemoryRepo struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{records: map[string]Record{}} }

func (r *MemoryRepo) Save(ctx context.Context, rec Record) error {
	if rec.CallID == "" {
		return ErrInvalidRequest
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.CallID] = rec
	return nil
}

func (r *MemoryRepo) Get(callID string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[callID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// ListByCampaign returns records started in [from, to), oldest first.
func (r *MemoryRepo) ListByCampaign(ctx context.Context, campaignID string, from, to time.Time) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0)
	for _, rec := range r.records {
		if rec.CampaignID != campaignID || rec.StartedAt.Before(from) || !rec.StartedAt.Before(to) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].CallID < out[j].CallID
	})
	return out, nil
}

func (r *MemoryRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// PostgresRepo stores records in the call_records table.
//
// Assumed schema: call_records(call_id PK, request_id, campaign_id, lead_id, did_id,
// from_number, to_number, provider_call_id, state, started_at, answered_at, ended_at,
// duration, cost_minor, end_reason).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Save(ctx context.Context, rec Record) error {
	if rec.CallID == "" {
		return ErrInvalidRequest
	}
	const q = `
INSERT INTO call_records (
  call_id, request_id, campaign_id, lead_id, did_id, from_number, to_number,
  provider_call_id, state, started_at, answered_at, ended_at, duration, cost_minor, end_reason
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
)
ON CONFLICT (call_id)
DO UPDATE SET provider_call_id = EXCLUDED.provider_call_id,
              state = EXCLUDED.state,
              answered_at = EXCLUDED.answered_at,
              ended_at = EXCLUDED.ended_at,
              duration = EXCLUDED.duration,
              cost_minor = EXCLUDED.cost_minor,
              end_reason = EXCLUDED.end_reason
`
	_, err := r.db.ExecContext(ctx, q,
		rec.CallID,
		rec.RequestID,
		rec.CampaignID,
		rec.LeadID,
		rec.DIDID,
		rec.From,
		rec.To,
		rec.ProviderCallID,
		rec.State,
		rec.StartedAt,
		rec.AnsweredAt,
		rec.EndedAt,
		rec.DurationSeconds,
		rec.CostMinor,
		rec.EndReason,
	)
	return err
}

func (r *PostgresRepo) ListByCampaign(ctx context.Context, campaignID string, from, to time.Time) ([]Record, error) {
	const q = `
SELECT call_id, request_id, campaign_id, lead_id, did_id, from_number, to_number,
       provider_call_id, state, started_at, answered_at, ended_at, duration, cost_minor, end_reason
FROM call_records
WHERE campaign_id = $1 AND started_at >= $2 AND started_at < $3
ORDER BY started_at ASC, call_id ASC
`
	rows, err := r.db.QueryContext(ctx, q, campaignID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec               Record
			answered, ended   sql.NullTime
			providerID, cause sql.NullString
		)
		if err := rows.Scan(
			&rec.CallID,
			&rec.RequestID,
			&rec.CampaignID,
			&rec.LeadID,
			&rec.DIDID,
			&rec.From,
			&rec.To,
			&providerID,
			&rec.State,
			&rec.StartedAt,
			&answered,
			&ended,
			&rec.DurationSeconds,
			&rec.CostMinor,
			&cause,
		); err != nil {
			return nil, err
		}
		rec.ProviderCallID = providerID.String
		rec.EndReason = cause.String
		if answered.Valid {
			t := answered.Time
			rec.AnsweredAt = &t
		}
		if ended.Valid {
			t := ended.Time
			rec.EndedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
