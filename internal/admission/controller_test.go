package admission

import (
	"context"
	"errors"
	"testing"
	"time"

	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/campaigns"
)

var noon = time.Date(2023, 11, 14, 14, 0, 0, 0, time.UTC)

type stubDNC struct {
	numbers map[string]bool
	err     error
}

func (s stubDNC) IsSuppressed(ctx context.Context, phone string) (bool, error) {
	return s.numbers[phone], s.err
}

type stubRecency struct {
	last map[string]time.Time
	err  error
}

func (s stubRecency) LastCompleted(ctx context.Context, leadID string) (time.Time, bool, error) {
	if s.err != nil {
		return time.Time{}, false, s.err
	}
	t, ok := s.last[leadID]
	return t, ok, nil
}

type stubBudget bool

func (b stubBudget) BudgetAvailable(ctx context.Context, campaignID string) bool { return bool(b) }

type failingDirectory struct{}

func (failingDirectory) GetCampaign(ctx context.Context, id string) (campaigns.Campaign, error) {
	return campaigns.Campaign{}, errors.New("db down")
}

func (failingDirectory) GetLead(ctx context.Context, id string) (campaigns.Lead, error) {
	return campaigns.Lead{}, errors.New("db down")
}

func fixture() (*campaigns.MemoryRepo, calls.CallRequest) {
	dir := campaigns.NewMemoryRepo()
	dir.PutCampaign(campaigns.Campaign{ID: "camp", Status: campaigns.StatusActive})
	dir.PutLead(campaigns.Lead{ID: "lead", CampaignID: "camp", Phone: "+12125550100", Status: campaigns.LeadNew})
	return dir, calls.CallRequest{ID: "r1", CampaignID: "camp", LeadID: "lead"}
}

func newController(deps Deps) *Controller {
	c := NewController(Config{}, deps)
	c.Now = func() time.Time { return noon }
	return c
}

func TestMayDispatch_AllowsWhenAllChecksPass(t *testing.T) {
	dir, req := fixture()
	c := newController(Deps{Directory: dir, DNC: stubDNC{}, Recency: stubRecency{}, Budget: stubBudget(true)})

	if d := c.MayDispatch(context.Background(), req); !d.Allowed || d.Reason != ReasonNone {
		t.Fatalf("expected allow, got %+v", d)
	}
}

func TestMayDispatch_Denials(t *testing.T) {
	cases := []struct {
		name      string
		mutate    func(dir *campaigns.MemoryRepo, deps *Deps, req *calls.CallRequest)
		reason    Reason
		permanent bool
	}{
		{
			name: "campaign paused",
			mutate: func(dir *campaigns.MemoryRepo, deps *Deps, req *calls.CallRequest) {
				dir.PutCampaign(campaigns.Campaign{ID: "camp", Status: campaigns.StatusPaused})
			},
			reason: ReasonCampaignInactive, permanent: true,
		},
		{
			name:   "campaign missing",
			mutate: func(dir *campaigns.MemoryRepo, deps *Deps, req *calls.CallRequest) { req.CampaignID = "nope" },
			reason: ReasonCampaignNotFound, permanent: true,
		},
		{
			name:   "lead missing",
			mutate: func(dir *campaigns.MemoryRepo, deps *Deps, req *calls.CallRequest) { req.LeadID = "nope" },
			reason: ReasonLeadNotFound, permanent: true,
		},
		{
			name: "lead converted",
			mutate: func(dir *campaigns.MemoryRepo, deps *Deps, req *calls.CallRequest) {
				dir.PutLead(campaigns.Lead{ID: "lead", CampaignID: "camp", Phone: "+12125550100", Status: campaigns.LeadConverted})
			},
			reason: ReasonLeadNotDispatchable, permanent: true,
		},
		{
			name: "dnc",
			mutate: func(dir *campaigns.MemoryRepo, deps *Deps, req *calls.CallRequest) {
				deps.DNC = stubDNC{numbers: map[string]bool{"+12125550100": true}}
			},
			reason: ReasonDNC, permanent: true,
		},
		{
			name: "recently called",
			mutate: func(dir *campaigns.MemoryRepo, deps *Deps, req *calls.CallRequest) {
				deps.Recency = stubRecency{last: map[string]time.Time{"lead": noon.Add(-23 * time.Hour)}}
			},
			reason: ReasonRecentlyCalled, permanent: true,
		},
		{
			name: "budget exhausted",
			mutate: func(dir *campaigns.MemoryRepo, deps *Deps, req *calls.CallRequest) {
				deps.Budget = stubBudget(false)
			},
			reason: ReasonBudgetExhausted, permanent: false,
		},
		{
			name: "dnc lookup failure",
			mutate: func(dir *campaigns.MemoryRepo, deps *Deps, req *calls.CallRequest) {
				deps.DNC = stubDNC{err: errors.New("timeout")}
			},
			reason: ReasonLookupFailed, permanent: false,
		},
		{
			name: "directory failure",
			mutate: func(dir *campaigns.MemoryRepo, deps *Deps, req *calls.CallRequest) {
				deps.Directory = failingDirectory{}
			},
			reason: ReasonLookupFailed, permanent: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir, req := fixture()
			deps := Deps{Directory: dir, DNC: stubDNC{}, Recency: stubRecency{}, Budget: stubBudget(true)}
			tc.mutate(dir, &deps, &req)
			c := newController(deps)

			d := c.MayDispatch(context.Background(), req)
			if d.Allowed || d.Reason != tc.reason || d.Permanent != tc.permanent {
				t.Fatalf("expected deny %s permanent=%v, got %+v", tc.reason, tc.permanent, d)
			}
		})
	}
}

func TestMayDispatch_ChecksRunInOrder(t *testing.T) {
	dir, req := fixture()
	dir.PutCampaign(campaigns.Campaign{ID: "camp", Status: campaigns.StatusPaused})
	c := newController(Deps{
		Directory: dir,
		DNC:       stubDNC{numbers: map[string]bool{"+12125550100": true}},
		Budget:    stubBudget(false),
	})

	if d := c.MayDispatch(context.Background(), req); d.Reason != ReasonCampaignInactive {
		t.Fatalf("expected first failing check to win, got %+v", d)
	}
}

func TestMayDispatch_CallingHours(t *testing.T) {
	dir, req := fixture()
	c := newController(Deps{Directory: dir})

	for _, tc := range []struct {
		at    time.Time
		allow bool
	}{
		{time.Date(2023, 11, 14, 8, 59, 0, 0, time.UTC), false},
		{time.Date(2023, 11, 14, 9, 0, 0, 0, time.UTC), true},
		{time.Date(2023, 11, 14, 19, 59, 0, 0, time.UTC), true},
		{time.Date(2023, 11, 14, 20, 0, 0, 0, time.UTC), false},
	} {
		c.Now = func() time.Time { return tc.at }
		d := c.MayDispatch(context.Background(), req)
		if d.Allowed != tc.allow {
			t.Fatalf("at %s expected allowed=%v, got %+v", tc.at.Format("15:04"), tc.allow, d)
		}
		if !tc.allow && (d.Reason != ReasonOutsideHours || !d.Permanent) {
			t.Fatalf("expected permanent outside-hours denial, got %+v", d)
		}
	}
}

func TestMayDispatch_CallingHoursUseConfiguredLocation(t *testing.T) {
	dir, req := fixture()
	est := time.FixedZone("EST", -5*3600)
	c := NewController(Config{Hours: CallingHours{StartHour: 9, EndHour: 20, Location: est}}, Deps{Directory: dir})

	// 13:00 UTC is 08:00 EST.
	c.Now = func() time.Time { return time.Date(2023, 11, 14, 13, 0, 0, 0, time.UTC) }
	if d := c.MayDispatch(context.Background(), req); d.Reason != ReasonOutsideHours {
		t.Fatalf("expected outside hours in EST, got %+v", d)
	}
}

func TestMayDispatch_RecencyWindowElapsed(t *testing.T) {
	dir, req := fixture()
	c := newController(Deps{Directory: dir, Recency: stubRecency{last: map[string]time.Time{"lead": noon.Add(-25 * time.Hour)}}})

	if d := c.MayDispatch(context.Background(), req); !d.Allowed {
		t.Fatalf("expected allow after 24h window, got %+v", d)
	}
}

func TestMayDispatch_Idempotent(t *testing.T) {
	dir, req := fixture()
	c := newController(Deps{Directory: dir, DNC: stubDNC{}, Recency: stubRecency{}, Budget: stubBudget(false)})

	first := c.MayDispatch(context.Background(), req)
	second := c.MayDispatch(context.Background(), req)
	if first != second {
		t.Fatalf("expected identical decisions, got %+v and %+v", first, second)
	}
}

func TestCallingHours_Validate(t *testing.T) {
	if err := DefaultCallingHours().Validate(); err != nil {
		t.Fatalf("default hours invalid: %v", err)
	}
	if err := (CallingHours{StartHour: 20, EndHour: 9}).Validate(); err == nil {
		t.Fatalf("expected error for inverted window")
	}
}
