package campaigns

import (
	"context"
	"testing"
)

func TestMemoryRepo_SetCampaignStatusReportsChange(t *testing.T) {
	repo := NewMemoryRepo()
	repo.PutCampaign(Campaign{ID: "c1", Status: StatusActive})
	ctx := context.Background()

	changed, err := repo.SetCampaignStatus(ctx, "c1", StatusPaused)
	if err != nil || !changed {
		t.Fatalf("expected change, got changed=%v err=%v", changed, err)
	}
	changed, err = repo.SetCampaignStatus(ctx, "c1", StatusPaused)
	if err != nil || changed {
		t.Fatalf("expected no-op, got changed=%v err=%v", changed, err)
	}
	if _, err := repo.SetCampaignStatus(ctx, "missing", StatusPaused); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := repo.SetCampaignStatus(ctx, "c1", "archived"); err != ErrInvalidStatus {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestLeadStatus_Dispatchable(t *testing.T) {
	for _, s := range []LeadStatus{LeadNew, LeadPending, LeadRetry} {
		if !s.Dispatchable() {
			t.Fatalf("expected %s dispatchable", s)
		}
	}
	for _, s := range []LeadStatus{LeadContacted, LeadConverted, LeadDNC, LeadInvalid, ""} {
		if s.Dispatchable() {
			t.Fatalf("expected %s not dispatchable", s)
		}
	}
}

func TestBudgetPolicies_MapsCampaign(t *testing.T) {
	repo := NewMemoryRepo()
	repo.PutCampaign(Campaign{ID: "c1", DailyBudgetMinor: 1000, TargetCostPerMinuteMinor: 12, TargetCostPerTransferMinor: 300})

	p, err := BudgetPolicies{Repo: repo}.BudgetPolicy(context.Background(), "c1")
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if p.DailyBudgetMinor != 1000 || p.TargetCostPerMinuteMinor != 12 || p.TargetCostPerTransferMinor != 300 {
		t.Fatalf("unexpected policy: %+v", p)
	}
	if _, err := (BudgetPolicies{Repo: repo}).BudgetPolicy(context.Background(), "nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
