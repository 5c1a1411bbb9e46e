package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"outbound-dialer/internal/audit"
	"outbound-dialer/internal/budget"
	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/did"
	"outbound-dialer/internal/queue"
	"outbound-dialer/internal/telephony"
)

// Transient dispatch failures that are not admission denials.
const (
	reasonAtCapacity     = "campaign_at_capacity"
	reasonSlotError      = "slot_limiter_error"
	reasonLeadLookup     = "lead_lookup_failed"
	reasonNoDID          = "no_did_available"
	reasonProviderError  = "provider_error"
	reasonDispatchPanic  = "dispatch_panic"
	reasonRetryExhausted = "retries_exhausted"
	reasonLeadActive     = "lead_already_active"
)

// dispatch places calls for due requests until the concurrency cap is reached.
// Each queued request is looked at no more than once per tick.
func (e *Engine) dispatch(ctx context.Context, now time.Time) {
	n := e.queue.Len()
	for i := 0; i < n; i++ {
		if ctx.Err() != nil || e.activeCount() >= e.cfg.MaxConcurrent {
			return
		}
		req, ok := e.queue.DequeueNext(now)
		if !ok {
			return
		}
		e.dispatchOne(ctx, req, now)
	}
}

func (e *Engine) dispatchOne(ctx context.Context, req calls.CallRequest, now time.Time) {
	// Resources held so far, released if a collaborator panics.
	var (
		slotHeld       bool
		didID          string
		callID         string
		providerCallID string
		tracked        bool
	)
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		e.log.Error("dispatch panicked", "request_id", req.ID, "campaign_id", req.CampaignID, "lead_id", req.LeadID, "panic", r)
		if tracked {
			return
		}
		if providerCallID != "" {
			e.hangup(ctx, &ActiveCall{CallID: callID, ProviderCallID: providerCallID})
		}
		if didID != "" {
			e.pool.Release(ctx, didID)
		}
		e.releaseSlot(ctx, req.CampaignID, slotHeld)
		e.retry(req, now, reasonDispatchPanic)
	}()

	if e.leadActive(req.LeadID) {
		e.discard(req, reasonLeadActive)
		return
	}

	actx, cancel := e.bounded(ctx)
	dec := e.admission.MayDispatch(actx, req)
	cancel()
	if !dec.Allowed {
		if dec.Permanent {
			e.discard(req, string(dec.Reason))
			return
		}
		e.retry(req, now, string(dec.Reason))
		return
	}

	if e.slots != nil {
		sctx, cancel := e.bounded(ctx)
		ok, err := e.slots.Acquire(sctx, req.CampaignID)
		cancel()
		if err != nil {
			e.log.Warn("campaign slot acquire failed", "campaign_id", req.CampaignID, "err", err)
			e.retry(req, now, reasonSlotError)
			return
		}
		if !ok {
			e.retry(req, now, reasonAtCapacity)
			return
		}
		slotHeld = true
	}

	lctx, cancel := e.bounded(ctx)
	lead, err := e.directory.GetLead(lctx, req.LeadID)
	cancel()
	if err != nil {
		e.log.Warn("lead lookup failed", "lead_id", req.LeadID, "err", err)
		e.releaseSlot(ctx, req.CampaignID, slotHeld)
		e.retry(req, now, reasonLeadLookup)
		return
	}

	number, ok := e.pool.Acquire(ctx, req.CampaignID, did.AreaCodeOf(lead.Phone))
	if !ok {
		e.releaseSlot(ctx, req.CampaignID, slotHeld)
		e.retry(req, now, reasonNoDID)
		return
	}
	didID = number.ID

	callID = uuid.NewString()
	pctx, cancel := context.WithTimeout(ctx, e.cfg.DispatchTimeout)
	res, err := e.provider.PlaceCall(pctx, telephony.PlaceCallRequest{
		CallID:     callID,
		CampaignID: req.CampaignID,
		LeadID:     req.LeadID,
		From:       number.Number,
		To:         lead.Phone,
	})
	cancel()
	if err != nil {
		e.log.Warn("place call failed",
			"call_id", callID,
			"campaign_id", req.CampaignID,
			"lead_id", req.LeadID,
			"did_id", number.ID,
			"err", err,
		)
		e.pool.Release(ctx, number.ID)
		e.releaseSlot(ctx, req.CampaignID, slotHeld)
		e.retry(req, now, reasonProviderError)
		return
	}
	providerCallID = res.ProviderCallID

	initiation := e.initiationCost()
	call := &ActiveCall{
		CallID:         callID,
		Request:        req,
		DIDID:          number.ID,
		From:           number.Number,
		To:             lead.Phone,
		ProviderCallID: res.ProviderCallID,
		State:          calls.StateDialing,
		StartedAt:      now,
		slotHeld:       slotHeld,
		costMinor:      initiation,
	}
	rec := recordOf(call)

	e.mu.Lock()
	e.active[callID] = call
	if res.ProviderCallID != "" {
		e.byProvider[res.ProviderCallID] = callID
	}
	e.mu.Unlock()
	tracked = true

	e.recordCost(ctx, budget.CostEvent{
		CallID:      callID,
		CampaignID:  req.CampaignID,
		Kind:        budget.KindInitiate,
		AmountMinor: initiation,
		OccurredAt:  now,
	})
	e.persist(rec)

	e.log.Info("call dispatched",
		"call_id", callID,
		"campaign_id", req.CampaignID,
		"lead_id", req.LeadID,
		"did_id", number.ID,
		"provider_call_id", res.ProviderCallID,
	)
}

// retry reschedules a transiently denied request, or discards it once retries are exhausted.
func (e *Engine) retry(req calls.CallRequest, now time.Time, reason string) {
	next, ok := e.cfg.Retry.Next(req, now, reason)
	if !ok {
		e.discard(req, reasonRetryExhausted+":"+reason)
		return
	}
	if err := e.queue.Enqueue(next); err != nil {
		if errors.Is(err, queue.ErrDuplicateLead) {
			e.log.Info("retry superseded by newer request", "request_id", req.ID, "lead_id", req.LeadID)
			return
		}
		e.log.Error("retry enqueue failed", "request_id", req.ID, "lead_id", req.LeadID, "err", err)
		return
	}
	e.log.Debug("request rescheduled",
		"request_id", req.ID,
		"campaign_id", req.CampaignID,
		"lead_id", req.LeadID,
		"reason", reason,
		"attempts", next.Retry.Attempts,
		"next_eligible_at", next.Retry.NextEligibleAt,
	)
}

func (e *Engine) discard(req calls.CallRequest, reason string) {
	e.log.Info("request discarded",
		"request_id", req.ID,
		"campaign_id", req.CampaignID,
		"lead_id", req.LeadID,
		"reason", reason,
		"attempts", req.Retry.Attempts,
	)
	e.auditAsync(audit.Event{
		Type:       audit.EventTypeRequestDiscarded,
		CampaignID: req.CampaignID,
		LeadID:     req.LeadID,
		Reason:     reason,
		Message:    "request " + req.ID,
	})
}

func (e *Engine) releaseSlot(ctx context.Context, campaignID string, held bool) {
	if !held || e.slots == nil {
		return
	}
	rctx, cancel := e.detached(ctx)
	defer cancel()
	if err := e.slots.Release(rctx, campaignID); err != nil {
		e.log.Warn("campaign slot release failed", "campaign_id", campaignID, "err", err)
	}
}

func (e *Engine) initiationCost() int64 {
	if e.rater == nil {
		return 0
	}
	return e.rater.InitiationCost()
}

func (e *Engine) recordCost(ctx context.Context, ev budget.CostEvent) {
	rctx, cancel := e.detached(ctx)
	defer cancel()
	if err := e.ledger.Record(rctx, ev); err != nil {
		e.log.Error("cost event not recorded",
			"call_id", ev.CallID,
			"campaign_id", ev.CampaignID,
			"kind", ev.Kind,
			"err", err,
		)
	}
}

// persist saves a call record snapshot off the tick.
func (e *Engine) persist(rec calls.Record) {
	if e.records == nil {
		return
	}
	e.tasks.submit(context.Background(), "persist_call", func(ctx context.Context) {
		if err := e.records.Save(ctx, rec); err != nil {
			e.log.Error("call record not saved", "call_id", rec.CallID, "state", rec.State, "err", err)
		}
	})
}

func recordOf(c *ActiveCall) calls.Record {
	rec := calls.Record{
		CallID:         c.CallID,
		RequestID:      c.Request.ID,
		CampaignID:     c.Request.CampaignID,
		LeadID:         c.Request.LeadID,
		DIDID:          c.DIDID,
		From:           c.From,
		To:             c.To,
		ProviderCallID: c.ProviderCallID,
		State:          c.State,
		StartedAt:      c.StartedAt,
		CostMinor:      c.costMinor,
	}
	if !c.AnsweredAt.IsZero() {
		at := c.AnsweredAt
		rec.AnsweredAt = &at
	}
	return rec
}
