package telephony

import (
	"context"
	"fmt"
	"log/slog"

	"outbound-dialer/internal/did"

	"github.com/google/uuid"
)

// NumberRegistrar is where purchased numbers are registered (the DID pool).
type NumberRegistrar interface {
	Add(ctx context.Context, d did.DID) (did.DID, error)
}

// ProvisionerAdapter turns pool provisioning signals into number purchases.
type ProvisionerAdapter struct {
	Provider    Provider
	Registrar   NumberRegistrar
	CountryISO2 string
	Log         *slog.Logger
}

func (a ProvisionerAdapter) RequestNumbers(ctx context.Context, req did.ProvisionRequest) error {
	log := a.Log
	if log == nil {
		log = slog.Default()
	}
	if a.Provider == nil || a.Registrar == nil {
		return fmt.Errorf("telephony: provisioner not configured")
	}

	res, err := a.Provider.BuyNumbers(ctx, BuyNumbersRequest{
		CountryISO2: a.CountryISO2,
		AreaCode:    req.AreaCode,
		Count:       req.Count,
	})
	// Register whatever was bought, even on a partial failure.
	for _, n := range res.Numbers {
		d, addErr := a.Registrar.Add(ctx, did.DID{
			ID:         uuid.NewString(),
			Number:     n.Number,
			CampaignID: req.CampaignID,
		})
		if addErr != nil {
			log.Error("register purchased number failed", "number", n.Number, "err", addErr)
			continue
		}
		log.Info("number provisioned", "did_id", d.ID, "campaign_id", req.CampaignID, "area_code", d.AreaCode, "provider", a.Provider.Name())
	}
	if err != nil {
		return fmt.Errorf("telephony: buy numbers: %w", err)
	}
	return nil
}
