package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends events to the audit_events table (INSERT-only).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (id, type, campaign_id, call_id, lead_id, did_id, reason, message, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.Type,
		e.CampaignID,
		e.CallID,
		e.LeadID,
		e.DIDID,
		e.Reason,
		e.Message,
		e.CreatedAt,
	)
	return err
}
