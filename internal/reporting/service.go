package reporting

import (
	"context"
	"errors"
	"time"

	"outbound-dialer/internal/budget"
	"outbound-dialer/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// CallSource lists persisted call records. Reports read immutable sources only
// (call records, cost events), never the live engine.
type CallSource interface {
	ListByCampaign(ctx context.Context, campaignID string, from, to time.Time) ([]calls.Record, error)
}

// CostSource lists cost events from the budget ledger store.
type CostSource interface {
	ListSince(ctx context.Context, campaignID string, since time.Time) ([]budget.CostEvent, error)
}

type Service struct {
	calls CallSource
	costs CostSource
}

func NewService(callSrc CallSource, costSrc CostSource) *Service {
	return &Service{calls: callSrc, costs: costSrc}
}

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.CampaignID == "" || !req.Range.valid() {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.calls == nil {
		return CallsSummary{}, errors.New("reporting: call source not configured")
	}

	rows, err := s.calls.ListByCampaign(ctx, req.CampaignID, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{CampaignID: req.CampaignID, Range: req.Range, EndReasons: map[string]int{}}
	for _, r := range rows {
		out.TotalCalls++
		if r.AnsweredAt != nil {
			out.AnsweredCalls++
		}
		if !r.State.Terminal() {
			out.InFlightCalls++
			continue
		}
		out.TotalDurationSeconds += r.DurationSeconds
		if r.EndReason != "" {
			out.EndReasons[r.EndReason]++
		}
		switch r.State {
		case calls.StateCompleted:
			out.CompletedCalls++
		case calls.StateTransferred:
			out.TransferredCalls++
		case calls.StateFailed:
			out.FailedCalls++
		case calls.StateNoAnswer:
			out.NoAnswerCalls++
		case calls.StateBusy:
			out.BusyCalls++
		case calls.StateCancelled:
			out.CancelledCalls++
		}
	}

	finished := out.TotalCalls - out.InFlightCalls
	if finished > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / finished
	}
	if out.TotalCalls > 0 {
		out.AnswerRate = float64(out.AnsweredCalls) / float64(out.TotalCalls)
	}
	if out.AnsweredCalls > 0 {
		out.TransferRate = float64(out.TransferredCalls) / float64(out.AnsweredCalls)
	}
	return out, nil
}

func (s *Service) SpendSummary(ctx context.Context, req SpendSummaryRequest) (SpendSummary, error) {
	if req.CampaignID == "" || !req.Range.valid() {
		return SpendSummary{}, ErrInvalidRequest
	}
	if s.costs == nil {
		return SpendSummary{}, errors.New("reporting: cost source not configured")
	}

	events, err := s.costs.ListSince(ctx, req.CampaignID, req.Range.From)
	if err != nil {
		return SpendSummary{}, err
	}

	out := SpendSummary{CampaignID: req.CampaignID, Range: req.Range}
	for _, ev := range events {
		if !ev.OccurredAt.Before(req.Range.To) {
			continue
		}
		out.TotalMinor += ev.AmountMinor
		switch ev.Kind {
		case budget.KindInitiate:
			out.InitiationMinor += ev.AmountMinor
		case budget.KindComplete:
			out.UsageMinor += ev.AmountMinor
			out.BilledSeconds += ev.DurationSeconds
			if ev.Transferred {
				out.Transfers++
			}
		}
	}
	if out.Transfers > 0 {
		out.CostPerTransferMinor = out.TotalMinor / int64(out.Transfers)
	}
	return out, nil
}
