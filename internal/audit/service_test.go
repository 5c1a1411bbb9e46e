package audit

import (
	"context"
	"testing"
)

func TestService_AppendRequiresTypeAndSubject(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{CampaignID: "c"}); err != ErrInvalidEvent {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if err := svc.Append(context.Background(), Event{Type: EventTypeDIDRetired}); err != ErrInvalidEvent {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestService_AppendsImmutableEvents(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.CallForceEnded(context.Background(), "camp", "call-1", "did-1", "max_duration_exceeded"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event")
	}
	if evs[0].ID == "" || evs[0].CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp filled")
	}
	if evs[0].Type != EventTypeCallForceEnded || evs[0].DIDID != "did-1" {
		t.Fatalf("unexpected event: %+v", evs[0])
	}
	if got := repo.OfType(EventTypeCallForceEnded); len(got) != 1 {
		t.Fatalf("expected OfType to find the event")
	}
}

func TestService_NilIsNoop(t *testing.T) {
	var svc *Service
	if err := svc.CampaignPaused(context.Background(), "c", "budget_exceeded", ""); err != nil {
		t.Fatalf("expected nil service to be a no-op, got %v", err)
	}
}
