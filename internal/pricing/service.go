package pricing

import (
	"errors"
	"time"
)

// RateCard holds the per-call charges used to price outbound calls.
// Amounts are expressed in minor units (e.g., cents) using int64.
type RateCard struct {
	Currency string `json:"currency"`

	// InitiationFeeMinor is charged once when a call is placed, answered or not.
	InitiationFeeMinor int64 `json:"initiation_fee_minor"`

	// PerMinuteMinor covers carrier minutes plus the conversational agent.
	PerMinuteMinor int64 `json:"per_minute_minor"`

	// BillingIncrementSeconds (e.g., 60 for per-minute, 1 for per-second billing).
	BillingIncrementSeconds int `json:"billing_increment_seconds"`

	// MinimumBillableSeconds enforces a minimum charge duration for connected calls.
	MinimumBillableSeconds int `json:"minimum_billable_seconds"`
}

var ErrInvalidRateCard = errors.New("pricing: invalid rate card")

func (r RateCard) Validate() error {
	if r.InitiationFeeMinor < 0 || r.PerMinuteMinor < 0 {
		return ErrInvalidRateCard
	}
	if r.BillingIncrementSeconds < 0 || r.MinimumBillableSeconds < 0 {
		return ErrInvalidRateCard
	}
	return nil
}

// Service prices call-cost events for the budget ledger.
// Pure calculation, no provider calls.
type Service struct {
	card RateCard
}

func NewService(card RateCard) (*Service, error) {
	if err := card.Validate(); err != nil {
		return nil, err
	}
	return &Service{card: card}, nil
}

func (s *Service) Card() RateCard { return s.card }

// InitiationCost is the amount of the "initiate" cost event.
func (s *Service) InitiationCost() int64 { return s.card.InitiationFeeMinor }

// CallCost is a priced connected duration.
type CallCost struct {
	BillableSeconds int
	BillableMinutes int
	TotalMinor      int64
}

// CompletionCost prices the connected portion of a call for the "complete" cost event.
// Unconnected calls (zero duration) cost nothing beyond the initiation fee.
func (s *Service) CompletionCost(connected time.Duration) CallCost {
	sec := int(connected / time.Second)
	if sec <= 0 {
		return CallCost{}
	}
	billableSec := billableSeconds(sec, s.card.MinimumBillableSeconds, s.card.BillingIncrementSeconds)
	billableMin := billableMinutesFromSeconds(billableSec)
	total := s.card.PerMinuteMinor * int64(billableSec) / 60
	if s.card.BillingIncrementSeconds == 0 || s.card.BillingIncrementSeconds%60 == 0 {
		total = s.card.PerMinuteMinor * int64(billableMin)
	}
	return CallCost{BillableSeconds: billableSec, BillableMinutes: billableMin, TotalMinor: total}
}

func billableSeconds(actualSec int, minSec int, incrementSec int) int {
	if actualSec < 0 {
		return 0
	}
	if minSec <= 0 {
		minSec = 0
	}
	if incrementSec <= 0 {
		incrementSec = 60
	}

	sec := actualSec
	if sec < minSec {
		sec = minSec
	}

	// round up to nearest increment
	q := sec / incrementSec
	r := sec % incrementSec
	if r != 0 {
		q++
	}
	return q * incrementSec
}

func billableMinutesFromSeconds(sec int) int {
	if sec <= 0 {
		return 0
	}
	m := sec / 60
	if sec%60 != 0 {
		m++
	}
	return m
}
