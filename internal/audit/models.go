package audit

import "time"

// Event is an immutable, append-only audit log record of an automated policy action.
//
// Invariants:
// - Events are never updated or deleted.
// - Every event names at least one subject (campaign, call or DID).
// - Audit capture is best-effort; do not block the dispatch loop on audit failures.
type Event struct {
	ID string `json:"id" db:"id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	// Subject identifiers (optional, depending on the event type).
	CampaignID string `json:"campaign_id,omitempty" db:"campaign_id"`
	CallID     string `json:"call_id,omitempty" db:"call_id"`
	LeadID     string `json:"lead_id,omitempty" db:"lead_id"`
	DIDID      string `json:"did_id,omitempty" db:"did_id"`

	// Reason is a stable machine-readable code (e.g. "max_duration_exceeded").
	Reason string `json:"reason,omitempty" db:"reason"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCampaignAutoPaused EventType = "campaign_auto_paused"
	EventTypeDIDRetired         EventType = "did_retired"
	EventTypeDIDQuarantined     EventType = "did_quarantined"
	EventTypeDIDProvisioning    EventType = "did_provisioning_requested"
	EventTypeCallForceEnded     EventType = "call_force_ended"
	EventTypeRequestDiscarded   EventType = "request_discarded"
)
