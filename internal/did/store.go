package did

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"outbound-dialer/pkg/utils"
)

// Store persists DID rows. Save is an upsert keyed by ID; rows are never deleted.
type Store interface {
	LoadAll(ctx context.Context) ([]DID, error)
	Save(ctx context.Context, d DID) error
}

// BatchStore saves a set of rows atomically. Rotation uses it when available.
type BatchStore interface {
	SaveAll(ctx context.Context, ds []DID) error
}

type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]DID
}

func NewMemoryStore(seed ...DID) *MemoryStore {
	s := &MemoryStore{rows: map[string]DID{}}
	for _, d := range seed {
		s.rows[d.ID] = d
	}
	return s
}

func (s *MemoryStore) LoadAll(ctx context.Context) ([]DID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DID, 0, len(s.rows))
	for _, d := range s.rows {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Save(ctx context.Context, d DID) error {
	if d.ID == "" {
		return ErrInvalidDID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[d.ID] = d
	return nil
}

func (s *MemoryStore) SaveAll(ctx context.Context, ds []DID) error {
	for _, d := range ds {
		if d.ID == "" {
			return ErrInvalidDID
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range ds {
		s.rows[d.ID] = d
	}
	return nil
}

func (s *MemoryStore) Get(id string) (DID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.rows[id]
	return d, ok
}

// PostgresStore keeps DIDs in the dids table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) LoadAll(ctx context.Context) ([]DID, error) {
	const q = `
SELECT id, number, area_code, campaign_id, health_score, spam_score, status, in_use,
       calls_today, calls_this_week, daily_limit, total_calls, answered_calls, failed_calls,
       last_used_at, cooldown_until, last_scored_at, usage_day, usage_week
FROM dids
ORDER BY id
`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DID
	for rows.Next() {
		var (
			d                               DID
			lastUsed, cooldown, lastScored  sql.NullTime
			campaignID, usageDay, usageWeek sql.NullString
		)
		if err := rows.Scan(
			&d.ID, &d.Number, &d.AreaCode, &campaignID, &d.HealthScore, &d.SpamScore, &d.Status, &d.InUse,
			&d.CallsToday, &d.CallsThisWeek, &d.DailyLimit, &d.TotalCalls, &d.AnsweredCalls, &d.FailedCalls,
			&lastUsed, &cooldown, &lastScored, &usageDay, &usageWeek,
		); err != nil {
			return nil, err
		}
		d.CampaignID = campaignID.String
		d.UsageDay = usageDay.String
		d.UsageWeek = usageWeek.String
		d.LastUsedAt = nullTime(lastUsed)
		d.CooldownUntil = nullTime(cooldown)
		d.LastScoredAt = nullTime(lastScored)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Save(ctx context.Context, d DID) error {
	if d.ID == "" {
		return ErrInvalidDID
	}
	_, err := s.db.ExecContext(ctx, upsertDIDQuery, didArgs(d)...)
	return err
}

// SaveAll upserts ds in one transaction.
func (s *PostgresStore) SaveAll(ctx context.Context, ds []DID) error {
	rows := make([][]any, 0, len(ds))
	for _, d := range ds {
		if d.ID == "" {
			return ErrInvalidDID
		}
		rows = append(rows, didArgs(d))
	}
	return utils.ExecBatch(ctx, s.db, upsertDIDQuery, rows)
}

const upsertDIDQuery = `
INSERT INTO dids (
  id, number, area_code, campaign_id, health_score, spam_score, status, in_use,
  calls_today, calls_this_week, daily_limit, total_calls, answered_calls, failed_calls,
  last_used_at, cooldown_until, last_scored_at, usage_day, usage_week
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19
)
ON CONFLICT (id)
DO UPDATE SET health_score = EXCLUDED.health_score,
              spam_score = EXCLUDED.spam_score,
              status = EXCLUDED.status,
              in_use = EXCLUDED.in_use,
              calls_today = EXCLUDED.calls_today,
              calls_this_week = EXCLUDED.calls_this_week,
              daily_limit = EXCLUDED.daily_limit,
              total_calls = EXCLUDED.total_calls,
              answered_calls = EXCLUDED.answered_calls,
              failed_calls = EXCLUDED.failed_calls,
              last_used_at = EXCLUDED.last_used_at,
              cooldown_until = EXCLUDED.cooldown_until,
              last_scored_at = EXCLUDED.last_scored_at,
              usage_day = EXCLUDED.usage_day,
              usage_week = EXCLUDED.usage_week
`

func didArgs(d DID) []any {
	return []any{
		d.ID, d.Number, d.AreaCode, d.CampaignID, d.HealthScore, d.SpamScore, d.Status, d.InUse,
		d.CallsToday, d.CallsThisWeek, d.DailyLimit, d.TotalCalls, d.AnsweredCalls, d.FailedCalls,
		timeOrNil(d.LastUsedAt), timeOrNil(d.CooldownUntil), timeOrNil(d.LastScoredAt), d.UsageDay, d.UsageWeek,
	}
}

func nullTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time
}

func timeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
