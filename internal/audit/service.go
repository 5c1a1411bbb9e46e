package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only. No Update/Delete methods are provided.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information for automated policy actions.
// Callers should treat audit logging as best-effort. A nil *Service is a no-op.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil {
		return nil
	}
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.CampaignID == "" && e.CallID == "" && e.DIDID == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// CampaignPaused records an automatic campaign pause.
func (s *Service) CampaignPaused(ctx context.Context, campaignID, reason, message string) error {
	return s.Append(ctx, Event{
		Type:       EventTypeCampaignAutoPaused,
		CampaignID: campaignID,
		Reason:     reason,
		Message:    message,
	})
}

// CallForceEnded records a call terminated by the engine rather than the provider.
func (s *Service) CallForceEnded(ctx context.Context, campaignID, callID, didID, reason string) error {
	return s.Append(ctx, Event{
		Type:       EventTypeCallForceEnded,
		CampaignID: campaignID,
		CallID:     callID,
		DIDID:      didID,
		Reason:     reason,
	})
}
