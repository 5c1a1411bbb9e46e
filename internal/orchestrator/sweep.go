package orchestrator

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"outbound-dialer/internal/budget"
	"outbound-dialer/internal/campaigns"
)

// sweepBudgets refreshes the metrics of every campaign with queued or active
// calls and pauses the ones whose alerts demand it.
func (e *Engine) sweepBudgets(ctx context.Context) {
	ids := e.busyCampaigns()
	if len(ids) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.SweepConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			mctx, cancel := e.bounded(gctx)
			m, err := e.ledger.Metrics(mctx, id)
			cancel()
			if err != nil {
				e.log.Warn("budget metrics unavailable", "campaign_id", id, "err", err)
				return nil
			}
			if m.AutoPause() {
				e.autoPause(gctx, id, m)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Engine) busyCampaigns() []string {
	set := map[string]struct{}{}
	for _, id := range e.queue.Campaigns() {
		set[id] = struct{}{}
	}
	e.mu.Lock()
	for _, c := range e.active {
		set[c.Request.CampaignID] = struct{}{}
	}
	e.mu.Unlock()

	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// autoPause pauses a campaign and drops its queued requests. Active calls run to completion.
func (e *Engine) autoPause(ctx context.Context, campaignID string, m budget.Metrics) {
	sctx, cancel := e.bounded(ctx)
	changed, err := e.directory.SetCampaignStatus(sctx, campaignID, campaigns.StatusPaused)
	cancel()
	if err != nil {
		e.log.Error("campaign auto-pause failed", "campaign_id", campaignID, "err", err)
	}
	dropped := e.queue.RemoveCampaign(campaignID)
	if !changed {
		if dropped > 0 {
			e.log.Info("dropped queued requests of paused campaign", "campaign_id", campaignID, "dropped", dropped)
		}
		return
	}

	reason, message := string(budget.AlertBudgetExceeded), ""
	for _, a := range m.Alerts {
		if a.AutoPause {
			reason, message = string(a.Type), a.Message
			break
		}
	}
	e.log.Warn("campaign auto-paused",
		"campaign_id", campaignID,
		"reason", reason,
		"spent_minor", m.TotalCostMinor,
		"budget_minor", m.DailyBudgetMinor,
		"dropped", dropped,
	)
	if e.audit != nil {
		actx, cancel := e.detached(ctx)
		defer cancel()
		if err := e.audit.CampaignPaused(actx, campaignID, reason, message); err != nil {
			e.log.Error("audit append failed", "campaign_id", campaignID, "err", err)
		}
	}
}

// maybeRotate schedules a rotation pass over every pool campaign once per RotateEvery.
// The first tick only sets the baseline.
func (e *Engine) maybeRotate(ctx context.Context, now time.Time) {
	if e.cfg.RotateEvery <= 0 {
		return
	}
	if e.lastRotation.IsZero() {
		e.lastRotation = now
		return
	}
	if now.Sub(e.lastRotation) < e.cfg.RotateEvery {
		return
	}
	e.lastRotation = now

	e.tasks.submit(ctx, "did_rotation", func(ctx context.Context) {
		for _, id := range e.pool.Campaigns() {
			rep, err := e.pool.Rotate(ctx, id)
			if err != nil {
				e.log.Error("did rotation failed", "campaign_id", id, "err", err)
				continue
			}
			e.log.Info("did rotation complete",
				"campaign_id", id,
				"scored", rep.Scored,
				"retired", len(rep.Retired),
				"quarantined", len(rep.Quarantined),
				"promoted", len(rep.Promoted),
				"active", rep.ActiveCount,
			)
		}
	})
}
