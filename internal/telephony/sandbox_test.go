package telephony

import (
	"context"
	"errors"
	"sync"
	"testing"

	"outbound-dialer/internal/did"
)

func TestSandboxProvider_ImplementsProvider(t *testing.T) {
	var _ Provider = (*SandboxProvider)(nil)
	var _ Provider = (*TwilioProvider)(nil)
	var _ did.Provisioner = ProvisionerAdapter{}
}

func TestSandboxProvider_CallControl(t *testing.T) {
	p := NewSandboxProvider()
	ctx := context.Background()

	res, err := p.PlaceCall(ctx, PlaceCallRequest{CallID: "c1", From: "+13105550001", To: "+12125550100"})
	if err != nil || res.ProviderCallID == "" {
		t.Fatalf("place: %+v %v", res, err)
	}
	if _, err := p.PlaceCall(ctx, PlaceCallRequest{CallID: "c2"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if err := p.Transfer(ctx, res.ProviderCallID, "+18005550199"); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if d, ok := p.TransferredTo(res.ProviderCallID); !ok || d != "+18005550199" {
		t.Fatalf("unexpected transfer target %q", d)
	}
	if err := p.Hangup(ctx, res.ProviderCallID); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if err := p.Hangup(ctx, "unknown"); !errors.Is(err, ErrUnknownCall) {
		t.Fatalf("expected ErrUnknownCall, got %v", err)
	}
	if got := p.Hangups(); len(got) != 1 || got[0] != res.ProviderCallID {
		t.Fatalf("unexpected hangups: %v", got)
	}
}

type recordingRegistrar struct {
	mu    sync.Mutex
	added []did.DID
}

func (r *recordingRegistrar) Add(ctx context.Context, d did.DID) (did.DID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d.AreaCode = did.AreaCodeOf(d.Number)
	r.added = append(r.added, d)
	return d, nil
}

func TestProvisionerAdapter_RegistersPurchasedNumbers(t *testing.T) {
	reg := &recordingRegistrar{}
	a := ProvisionerAdapter{Provider: NewSandboxProvider(), Registrar: reg}

	if err := a.RequestNumbers(context.Background(), did.ProvisionRequest{CampaignID: "c1", AreaCode: "310", Count: 2}); err != nil {
		t.Fatalf("request numbers: %v", err)
	}
	if len(reg.added) != 2 {
		t.Fatalf("expected 2 registered, got %d", len(reg.added))
	}
	for _, d := range reg.added {
		if d.CampaignID != "c1" || d.AreaCode != "310" || d.ID == "" {
			t.Fatalf("unexpected registered DID: %+v", d)
		}
	}
}

func TestProvisionerAdapter_RequiresCollaborators(t *testing.T) {
	if err := (ProvisionerAdapter{}).RequestNumbers(context.Background(), did.ProvisionRequest{Count: 1}); err == nil {
		t.Fatalf("expected error")
	}
}
