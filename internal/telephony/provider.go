package telephony

import (
	"context"
	"errors"
	"time"
)

// Provider is the provider-agnostic call-control boundary used by the engine.
//
// Rules:
// - No provider API calls outside telephony adapters.
// - Provider status strings never leave this package untranslated; the engine
//   maps them through a calls.StatusMap.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error)
	Hangup(ctx context.Context, providerCallID string) error
	Transfer(ctx context.Context, providerCallID, destination string) error

	BuyNumbers(ctx context.Context, req BuyNumbersRequest) (BuyNumbersResult, error)
}

var (
	ErrInvalidRequest = errors.New("telephony: invalid request")
	ErrUnknownCall    = errors.New("telephony: unknown provider call")
)

// PlaceCallRequest asks the provider to dial To from the DID From.
type PlaceCallRequest struct {
	// CallID is our internal call id; adapters echo it back on status callbacks.
	CallID     string `json:"call_id"`
	CampaignID string `json:"campaign_id"`
	LeadID     string `json:"lead_id"`

	// From and To are E.164.
	From string `json:"from"`
	To   string `json:"to"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

func (r PlaceCallRequest) Validate() error {
	if r.CallID == "" || r.From == "" || r.To == "" {
		return ErrInvalidRequest
	}
	return nil
}

type PlaceCallResult struct {
	ProviderCallID string `json:"provider_call_id"`
}

type BuyNumbersRequest struct {
	CountryISO2 string `json:"country_iso2"`
	AreaCode    string `json:"area_code,omitempty"`
	Count       int    `json:"count"`
}

type PurchasedNumber struct {
	Number           string `json:"number"`
	ProviderNumberID string `json:"provider_number_id"`
}

type BuyNumbersResult struct {
	Numbers []PurchasedNumber `json:"numbers"`
}

// StatusEvent is one asynchronous provider status notification.
type StatusEvent struct {
	// CallID is set when the provider echoes our id back (callback query string).
	CallID         string `json:"call_id,omitempty"`
	ProviderCallID string `json:"provider_call_id"`

	// Status is the raw provider status string.
	Status string `json:"status"`

	DurationSeconds int       `json:"duration_seconds,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// StatusSink accepts status notifications. It must not block; false means dropped.
type StatusSink interface {
	HandleStatus(ev StatusEvent) bool
}
