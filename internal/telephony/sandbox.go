package telephony

import (
	"context"
	"fmt"
	"sync"
)

// SandboxProvider is an in-process provider for local runs and tests.
//
// It never dials anything. Calls are recorded and given sequential provider ids;
// status progress is injected by whoever drives the sandbox (tests, the dev
// status endpoint) through the engine's StatusSink.
type SandboxProvider struct {
	mu        sync.Mutex
	seq       int
	calls     map[string]PlaceCallRequest // provider_call_id -> request
	hangups   []string
	transfers map[string]string

	// PlaceErr, when set, fails every PlaceCall.
	PlaceErr error
	// HangupErr, when set, fails every Hangup.
	HangupErr error
}

func NewSandboxProvider() *SandboxProvider {
	return &SandboxProvider{calls: map[string]PlaceCallRequest{}, transfers: map[string]string{}}
}

func (p *SandboxProvider) Name() string { return "sandbox" }

func (p *SandboxProvider) HealthCheck(ctx context.Context) error { return nil }

func (p *SandboxProvider) PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error) {
	if err := req.Validate(); err != nil {
		return PlaceCallResult{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PlaceErr != nil {
		return PlaceCallResult{}, p.PlaceErr
	}
	p.seq++
	id := fmt.Sprintf("SB%06d", p.seq)
	p.calls[id] = req
	return PlaceCallResult{ProviderCallID: id}, nil
}

func (p *SandboxProvider) Hangup(ctx context.Context, providerCallID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.HangupErr != nil {
		return p.HangupErr
	}
	if _, ok := p.calls[providerCallID]; !ok {
		return ErrUnknownCall
	}
	p.hangups = append(p.hangups, providerCallID)
	return nil
}

func (p *SandboxProvider) Transfer(ctx context.Context, providerCallID, destination string) error {
	if destination == "" {
		return ErrInvalidRequest
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.calls[providerCallID]; !ok {
		return ErrUnknownCall
	}
	p.transfers[providerCallID] = destination
	return nil
}

func (p *SandboxProvider) BuyNumbers(ctx context.Context, req BuyNumbersRequest) (BuyNumbersResult, error) {
	if req.Count <= 0 {
		return BuyNumbersResult{}, ErrInvalidRequest
	}
	areaCode := req.AreaCode
	if areaCode == "" {
		areaCode = "555"
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var out BuyNumbersResult
	for i := 0; i < req.Count; i++ {
		p.seq++
		out.Numbers = append(out.Numbers, PurchasedNumber{
			Number:           fmt.Sprintf("+1%s%07d", areaCode, p.seq%10000000),
			ProviderNumberID: fmt.Sprintf("PN%06d", p.seq),
		})
	}
	return out, nil
}

// Placed returns the requests placed so far, keyed by provider call id.
func (p *SandboxProvider) Placed() map[string]PlaceCallRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]PlaceCallRequest, len(p.calls))
	for k, v := range p.calls {
		out[k] = v
	}
	return out
}

func (p *SandboxProvider) Hangups() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.hangups...)
}

func (p *SandboxProvider) TransferredTo(providerCallID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.transfers[providerCallID]
	return d, ok
}
