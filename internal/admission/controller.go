package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/campaigns"
)

type Reason string

const (
	ReasonNone                Reason = ""
	ReasonCampaignNotFound    Reason = "campaign_not_found"
	ReasonCampaignInactive    Reason = "campaign_inactive"
	ReasonLeadNotFound        Reason = "lead_not_found"
	ReasonLeadNotDispatchable Reason = "lead_not_dispatchable"
	ReasonDNC                 Reason = "dnc_suppressed"
	ReasonOutsideHours        Reason = "outside_calling_hours"
	ReasonRecentlyCalled      Reason = "recently_called"
	ReasonBudgetExhausted     Reason = "budget_exhausted"
	ReasonLookupFailed        Reason = "lookup_failed"
)

// Decision is the admission verdict. Permanent denials discard the request;
// transient ones go through the retry policy.
type Decision struct {
	Allowed   bool   `json:"allowed"`
	Reason    Reason `json:"reason,omitempty"`
	Permanent bool   `json:"permanent"`
}

func allow() Decision { return Decision{Allowed: true} }

func permanent(r Reason) Decision { return Decision{Reason: r, Permanent: true} }

func transient(r Reason) Decision { return Decision{Reason: r} }

// Directory resolves campaigns and leads.
type Directory interface {
	GetCampaign(ctx context.Context, id string) (campaigns.Campaign, error)
	GetLead(ctx context.Context, id string) (campaigns.Lead, error)
}

// DNCLookup reports whether a phone number is suppressed.
type DNCLookup interface {
	IsSuppressed(ctx context.Context, phone string) (bool, error)
}

// RecencyChecker returns when a call to the lead last completed.
type RecencyChecker interface {
	LastCompleted(ctx context.Context, leadID string) (time.Time, bool, error)
}

type BudgetChecker interface {
	BudgetAvailable(ctx context.Context, campaignID string) bool
}

// CallingHours is the local-time window [Start, End) in which leads may be dialed.
type CallingHours struct {
	StartHour int
	EndHour   int
	Location  *time.Location
}

func DefaultCallingHours() CallingHours {
	return CallingHours{StartHour: 9, EndHour: 20, Location: time.UTC}
}

func (h CallingHours) Validate() error {
	if h.StartHour < 0 || h.StartHour > 23 || h.EndHour < 1 || h.EndHour > 24 || h.StartHour >= h.EndHour {
		return fmt.Errorf("admission: invalid calling hours [%d, %d)", h.StartHour, h.EndHour)
	}
	return nil
}

// Contains reports whether t falls inside the window in loc (or the window's own location).
func (h CallingHours) Contains(t time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = h.Location
	}
	if loc == nil {
		loc = time.UTC
	}
	hour := t.In(loc).Hour()
	return hour >= h.StartHour && hour < h.EndHour
}

type Config struct {
	Hours         CallingHours
	RecencyWindow time.Duration
}

// Controller is the admission gate run before every dispatch.
//
// Checks run in a fixed order and stop at the first denial. The controller holds
// no state of its own, so identical inputs yield identical decisions.
type Controller struct {
	dir     Directory
	dnc     DNCLookup
	recency RecencyChecker
	budget  BudgetChecker
	cfg     Config
	log     *slog.Logger

	Now func() time.Time
}

type Deps struct {
	Directory Directory
	DNC       DNCLookup
	Recency   RecencyChecker
	Budget    BudgetChecker
	Logger    *slog.Logger
}

func NewController(cfg Config, deps Deps) *Controller {
	if cfg.Hours.EndHour == 0 {
		cfg.Hours = DefaultCallingHours()
	}
	if cfg.Hours.Location == nil {
		cfg.Hours.Location = time.UTC
	}
	if cfg.RecencyWindow <= 0 {
		cfg.RecencyWindow = 24 * time.Hour
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		dir:     deps.Directory,
		dnc:     deps.DNC,
		recency: deps.Recency,
		budget:  deps.Budget,
		cfg:     cfg,
		log:     log.With("component", "admission"),
		Now:     time.Now,
	}
}

// MayDispatch decides whether req may be dialed now. It never returns an error;
// collaborator failures become transient denials.
func (c *Controller) MayDispatch(ctx context.Context, req calls.CallRequest) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("admission panic", "request_id", req.ID, "panic", r)
			d = transient(ReasonLookupFailed)
		}
	}()

	camp, err := c.dir.GetCampaign(ctx, req.CampaignID)
	switch {
	case errors.Is(err, campaigns.ErrNotFound):
		return permanent(ReasonCampaignNotFound)
	case err != nil:
		c.lookupFailed("campaign", req, err)
		return transient(ReasonLookupFailed)
	case camp.Status != campaigns.StatusActive:
		return permanent(ReasonCampaignInactive)
	}

	lead, err := c.dir.GetLead(ctx, req.LeadID)
	switch {
	case errors.Is(err, campaigns.ErrNotFound):
		return permanent(ReasonLeadNotFound)
	case err != nil:
		c.lookupFailed("lead", req, err)
		return transient(ReasonLookupFailed)
	case lead.CampaignID != "" && lead.CampaignID != req.CampaignID:
		return permanent(ReasonLeadNotFound)
	case !lead.Status.Dispatchable():
		return permanent(ReasonLeadNotDispatchable)
	}

	if c.dnc != nil {
		suppressed, err := c.dnc.IsSuppressed(ctx, lead.Phone)
		if err != nil {
			c.lookupFailed("dnc", req, err)
			return transient(ReasonLookupFailed)
		}
		if suppressed {
			return permanent(ReasonDNC)
		}
	}

	now := c.Now()
	if !c.cfg.Hours.Contains(now, leadLocation(lead)) {
		return permanent(ReasonOutsideHours)
	}

	if c.recency != nil {
		last, ok, err := c.recency.LastCompleted(ctx, lead.ID)
		if err != nil {
			c.lookupFailed("recency", req, err)
			return transient(ReasonLookupFailed)
		}
		if ok && now.Sub(last) < c.cfg.RecencyWindow {
			return permanent(ReasonRecentlyCalled)
		}
	}

	if c.budget != nil && !c.budget.BudgetAvailable(ctx, req.CampaignID) {
		return transient(ReasonBudgetExhausted)
	}
	return allow()
}

func (c *Controller) lookupFailed(what string, req calls.CallRequest, err error) {
	c.log.Warn("admission lookup failed",
		"lookup", what,
		"request_id", req.ID,
		"campaign_id", req.CampaignID,
		"lead_id", req.LeadID,
		"err", err,
	)
}

// leadLocation returns the lead's own timezone when it has a valid one.
func leadLocation(l campaigns.Lead) *time.Location {
	if l.Timezone == "" {
		return nil
	}
	loc, err := time.LoadLocation(l.Timezone)
	if err != nil {
		return nil
	}
	return loc
}
