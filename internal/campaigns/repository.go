package campaigns

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"outbound-dialer/internal/budget"
)

// Repository is the campaign/lead directory the engine reads from.
// SetCampaignStatus returns changed=false when the campaign already had the status.
type Repository interface {
	GetCampaign(ctx context.Context, id string) (Campaign, error)
	GetLead(ctx context.Context, id string) (Lead, error)
	SetCampaignStatus(ctx context.Context, id string, status Status) (bool, error)
}

// MemoryRepo is an in-memory Repository for tests and local runs.
type MemoryRepo struct {
	mu        sync.Mutex
	campaigns map[string]Campaign
	leads     map[string]Lead
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{campaigns: map[string]Campaign{}, leads: map[string]Lead{}}
}

func (r *MemoryRepo) PutCampaign(c Campaign) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.campaigns[c.ID] = c
}

func (r *MemoryRepo) PutLead(l Lead) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leads[l.ID] = l
}

func (r *MemoryRepo) GetCampaign(ctx context.Context, id string) (Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return Campaign{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) GetLead(ctx context.Context, id string) (Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[id]
	if !ok {
		return Lead{}, ErrNotFound
	}
	return l, nil
}

func (r *MemoryRepo) SetCampaignStatus(ctx context.Context, id string, status Status) (bool, error) {
	if !status.Valid() {
		return false, ErrInvalidStatus
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return false, ErrNotFound
	}
	if c.Status == status {
		return false, nil
	}
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	r.campaigns[id] = c
	return true, nil
}

// PostgresRepo reads campaigns and leads from the shared campaign schema.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) GetCampaign(ctx context.Context, id string) (Campaign, error) {
	const q = `
SELECT id, name, status, daily_budget_minor, target_cost_per_minute_minor,
       target_cost_per_transfer_minor, COALESCE(transfer_number, ''), updated_at
FROM campaigns
WHERE id = $1
`
	var c Campaign
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&c.ID,
		&c.Name,
		&c.Status,
		&c.DailyBudgetMinor,
		&c.TargetCostPerMinuteMinor,
		&c.TargetCostPerTransferMinor,
		&c.TransferNumber,
		&c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Campaign{}, ErrNotFound
	}
	return c, err
}

func (r *PostgresRepo) GetLead(ctx context.Context, id string) (Lead, error) {
	const q = `
SELECT id, campaign_id, phone, status, COALESCE(timezone, '')
FROM leads
WHERE id = $1
`
	var l Lead
	err := r.db.QueryRowContext(ctx, q, id).Scan(&l.ID, &l.CampaignID, &l.Phone, &l.Status, &l.Timezone)
	if errors.Is(err, sql.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	return l, err
}

func (r *PostgresRepo) SetCampaignStatus(ctx context.Context, id string, status Status) (bool, error) {
	if !status.Valid() {
		return false, ErrInvalidStatus
	}
	const q = `
UPDATE campaigns
SET status = $2, updated_at = now()
WHERE id = $1 AND status <> $2
`
	res, err := r.db.ExecContext(ctx, q, id, status)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// BudgetPolicies exposes campaign budgets to the budget ledger.
type BudgetPolicies struct {
	Repo Repository
}

func (p BudgetPolicies) BudgetPolicy(ctx context.Context, campaignID string) (budget.Policy, error) {
	c, err := p.Repo.GetCampaign(ctx, campaignID)
	if err != nil {
		return budget.Policy{}, err
	}
	return budget.Policy{
		DailyBudgetMinor:           c.DailyBudgetMinor,
		TargetCostPerMinuteMinor:   c.TargetCostPerMinuteMinor,
		TargetCostPerTransferMinor: c.TargetCostPerTransferMinor,
	}, nil
}
