package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"outbound-dialer/internal/audit"
	"outbound-dialer/internal/budget"
	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/did"
	"outbound-dialer/internal/telephony"
)

const (
	endReasonProvider    = "provider_status"
	endReasonUnmapped    = "unmapped_provider_status"
	endReasonTimeout     = "max_duration_exceeded"
	endReasonCancelled   = "cancelled_by_operator"
	endReasonTransferred = "transferred"
)

// monitor applies buffered provider notifications, then enforces the duration ceiling.
func (e *Engine) monitor(ctx context.Context, now time.Time) {
	pending := len(e.status)
drain:
	for i := 0; i < pending; i++ {
		select {
		case ev := <-e.status:
			e.applyStatus(ctx, ev, now)
		default:
			break drain
		}
	}
	e.enforceTimeouts(ctx, now)
}

func (e *Engine) applyStatus(ctx context.Context, ev telephony.StatusEvent, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("status handling panicked", "call_id", ev.CallID, "status", ev.Status, "panic", r)
		}
	}()

	next, known := e.statusMap.Map(ev.Status)
	if !known {
		e.log.Warn("unmapped provider status, failing call",
			"call_id", ev.CallID,
			"provider_call_id", ev.ProviderCallID,
			"status", ev.Status,
		)
	}

	e.mu.Lock()
	call := e.lookupLocked(ev.CallID, ev.ProviderCallID)
	if call == nil {
		e.mu.Unlock()
		e.log.Debug("status for unknown call", "call_id", ev.CallID, "provider_call_id", ev.ProviderCallID, "status", ev.Status)
		return
	}
	if call.ProviderCallID == "" && ev.ProviderCallID != "" {
		call.ProviderCallID = ev.ProviderCallID
		e.byProvider[ev.ProviderCallID] = call.CallID
	}
	if next == calls.StateCompleted && call.State == calls.StateTransferring {
		next = calls.StateTransferred
	}
	if !calls.CanTransition(call.State, next) {
		from := call.State
		e.mu.Unlock()
		e.log.Debug("stale status ignored", "call_id", call.CallID, "from", from, "to", next, "status", ev.Status)
		return
	}
	if ev.DurationSeconds > 0 {
		call.ProviderDuration = ev.DurationSeconds
	}

	if next.Terminal() {
		e.claimLocked(call)
		e.mu.Unlock()

		reason := endReasonProvider
		switch {
		case !known:
			reason = endReasonUnmapped + ":" + strings.ToLower(strings.TrimSpace(ev.Status))
		case next == calls.StateTransferred:
			reason = endReasonTransferred
		}
		e.finalize(ctx, call, next, reason, now)
		return
	}

	call.State = next
	var handoff *Handoff
	if next == calls.StateAnswered {
		call.AnsweredAt = now
		handoff = &Handoff{
			CallID:         call.CallID,
			CampaignID:     call.Request.CampaignID,
			LeadID:         call.Request.LeadID,
			ProviderCallID: call.ProviderCallID,
			From:           call.From,
			To:             call.To,
			AnsweredAt:     now,
		}
		call.State = calls.StateInProgress
	}
	rec := recordOf(call)
	e.mu.Unlock()

	if handoff != nil {
		e.startConversation(*handoff)
		e.persist(rec)
		e.log.Info("call answered", "call_id", call.CallID, "campaign_id", rec.CampaignID, "did_id", rec.DIDID)
	}
}

func (e *Engine) startConversation(h Handoff) {
	if e.conversation == nil {
		return
	}
	e.tasks.submit(context.Background(), "conversation_start", func(ctx context.Context) {
		if err := e.conversation.Start(ctx, h); err != nil {
			e.log.Error("conversation hand-off failed", "call_id", h.CallID, "campaign_id", h.CampaignID, "err", err)
		}
	})
}

// enforceTimeouts force-ends calls that have been active longer than MaxCallDuration.
func (e *Engine) enforceTimeouts(ctx context.Context, now time.Time) {
	e.mu.Lock()
	var expired []*ActiveCall
	for _, c := range e.active {
		if now.Sub(c.StartedAt) > e.cfg.MaxCallDuration {
			e.claimLocked(c)
			expired = append(expired, c)
		}
	}
	e.mu.Unlock()

	for _, c := range expired {
		e.log.Warn("call exceeded max duration, forcing hangup",
			"call_id", c.CallID,
			"campaign_id", c.Request.CampaignID,
			"did_id", c.DIDID,
			"state", c.State,
			"age", now.Sub(c.StartedAt).String(),
		)
		e.auditAsync(audit.Event{
			Type:       audit.EventTypeCallForceEnded,
			CampaignID: c.Request.CampaignID,
			CallID:     c.CallID,
			LeadID:     c.Request.LeadID,
			DIDID:      c.DIDID,
			Reason:     endReasonTimeout,
		})
		e.endClaimed(ctx, c, calls.StateFailed, endReasonTimeout, now)
	}
}

// endClaimed hangs up a claimed call and finalizes it. A panicking hangup
// still finalizes the call.
func (e *Engine) endClaimed(ctx context.Context, c *ActiveCall, final calls.State, reason string, now time.Time) {
	finalizing := false
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("call teardown panicked", "call_id", c.CallID, "reason", reason, "panic", r)
			if !finalizing {
				e.finalize(ctx, c, final, reason, now)
			}
		}
	}()
	e.hangup(ctx, c)
	finalizing = true
	e.finalize(ctx, c, final, reason, now)
}

// CancelCall hangs up an active call and finalizes it as cancelled.
// It returns false when the call is not active.
func (e *Engine) CancelCall(ctx context.Context, callID string) bool {
	e.mu.Lock()
	call, ok := e.active[callID]
	if ok {
		e.claimLocked(call)
	}
	e.mu.Unlock()
	if !ok {
		return false
	}

	e.endClaimed(ctx, call, calls.StateCancelled, endReasonCancelled, e.now())
	return true
}

// TransferCall moves an answered call to a live destination. An empty destination
// falls back to the campaign's transfer number.
func (e *Engine) TransferCall(ctx context.Context, callID, destination string) error {
	e.mu.Lock()
	call, ok := e.active[callID]
	if !ok {
		e.mu.Unlock()
		return ErrCallNotFound
	}
	if call.State != calls.StateAnswered && call.State != calls.StateInProgress {
		e.mu.Unlock()
		return ErrInvalidTransition
	}
	providerCallID, campaignID := call.ProviderCallID, call.Request.CampaignID
	e.mu.Unlock()

	destination = strings.TrimSpace(destination)
	if destination == "" {
		c, err := e.directory.GetCampaign(ctx, campaignID)
		if err != nil {
			return fmt.Errorf("orchestrator: transfer destination: %w", err)
		}
		destination = strings.TrimSpace(c.TransferNumber)
	}
	if destination == "" {
		return ErrNoDestination
	}

	if err := e.provider.Transfer(ctx, providerCallID, destination); err != nil {
		return fmt.Errorf("orchestrator: transfer: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	call, ok = e.active[callID]
	if !ok {
		return ErrCallNotFound
	}
	if !calls.CanTransition(call.State, calls.StateTransferring) {
		return ErrInvalidTransition
	}
	call.State = calls.StateTransferring
	call.TransferTo = destination
	e.log.Info("call transferring", "call_id", callID, "campaign_id", campaignID, "destination", destination)
	return nil
}

func (e *Engine) hangup(ctx context.Context, c *ActiveCall) {
	if c.ProviderCallID == "" {
		return
	}
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.DispatchTimeout)
	defer cancel()
	if err := e.provider.Hangup(hctx, c.ProviderCallID); err != nil {
		e.log.Warn("provider hangup failed", "call_id", c.CallID, "provider_call_id", c.ProviderCallID, "err", err)
	}
}

// finalize releases everything a claimed call holds. Callers must have removed
// the call from the active set first, so this runs once per call.
func (e *Engine) finalize(ctx context.Context, c *ActiveCall, final calls.State, reason string, now time.Time) {
	c.State = final

	e.pool.Release(ctx, c.DIDID)
	e.releaseSlot(ctx, c.Request.CampaignID, c.slotHeld)

	answered := !c.AnsweredAt.IsZero()
	duration := c.ProviderDuration
	if duration == 0 && answered {
		duration = int(now.Sub(c.AnsweredAt) / time.Second)
	}

	var amount int64
	billed := duration
	if e.rater != nil && answered {
		cost := e.rater.CompletionCost(time.Duration(duration) * time.Second)
		amount, billed = cost.TotalMinor, cost.BillableSeconds
	}
	if !answered {
		billed = 0
	}
	c.costMinor += amount

	e.recordCost(ctx, budget.CostEvent{
		CallID:          c.CallID,
		CampaignID:      c.Request.CampaignID,
		Kind:            budget.KindComplete,
		AmountMinor:     amount,
		DurationSeconds: billed,
		Outcome:         string(final),
		Answered:        answered,
		Transferred:     final == calls.StateTransferred,
		OccurredAt:      now,
	})

	e.pool.RecordOutcome(ctx, c.DIDID, outcomeOf(final, answered))

	if e.recency != nil && (final == calls.StateCompleted || final == calls.StateTransferred) {
		rctx, cancel := e.detached(ctx)
		if err := e.recency.MarkCompleted(rctx, c.Request.LeadID, now); err != nil {
			e.log.Warn("lead recency not recorded", "lead_id", c.Request.LeadID, "err", err)
		}
		cancel()
	}

	if answered && e.conversation != nil {
		callID := c.CallID
		e.tasks.submit(ctx, "conversation_end", func(ctx context.Context) {
			if err := e.conversation.End(ctx, callID, final); err != nil {
				e.log.Warn("conversation end failed", "call_id", callID, "err", err)
			}
		})
	}

	rec := recordOf(c)
	ended := now
	rec.EndedAt = &ended
	rec.DurationSeconds = duration
	rec.EndReason = reason
	e.persist(rec)

	e.log.Info("call finalized",
		"call_id", c.CallID,
		"campaign_id", c.Request.CampaignID,
		"lead_id", c.Request.LeadID,
		"did_id", c.DIDID,
		"state", final,
		"reason", reason,
		"duration", duration,
		"cost_minor", c.costMinor,
	)
}

func outcomeOf(final calls.State, answered bool) did.Outcome {
	switch {
	case answered:
		return did.OutcomeAnswered
	case final == calls.StateFailed:
		return did.OutcomeFailed
	default:
		return did.OutcomeNoAnswer
	}
}
