package did

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"outbound-dialer/internal/audit"

	"golang.org/x/sync/errgroup"
)

var (
	ErrNotFound   = errors.New("did: not found")
	ErrInvalidDID = errors.New("did: invalid did")
)

// Provisioner receives "buy more numbers" signals. Purchasing is outside the pool.
type Provisioner interface {
	RequestNumbers(ctx context.Context, req ProvisionRequest) error
}

type ProvisionRequest struct {
	CampaignID string `json:"campaign_id"`
	AreaCode   string `json:"area_code,omitempty"`
	Count      int    `json:"count"`
}

// Config holds the selection and rotation thresholds.
type Config struct {
	ActiveFloor  float64 // acquire: active DIDs must score above this
	WarmingFloor float64 // acquire: warming fallback must score above this

	RetireBelow     float64
	QuarantineBelow float64
	PromoteAbove    float64

	QuarantineCooldown time.Duration
	MinActive          int

	DefaultDailyLimit int
	WarmingDailyLimit int

	StoreTimeout time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.ActiveFloor <= 0 {
		out.ActiveFloor = 70
	}
	if out.WarmingFloor <= 0 {
		out.WarmingFloor = 60
	}
	if out.RetireBelow <= 0 {
		out.RetireBelow = 30
	}
	if out.QuarantineBelow <= 0 {
		out.QuarantineBelow = 50
	}
	if out.PromoteAbove <= 0 {
		out.PromoteAbove = 70
	}
	if out.QuarantineCooldown <= 0 {
		out.QuarantineCooldown = 7 * 24 * time.Hour
	}
	if out.MinActive <= 0 {
		out.MinActive = 5
	}
	if out.DefaultDailyLimit <= 0 {
		out.DefaultDailyLimit = 100
	}
	if out.WarmingDailyLimit <= 0 {
		out.WarmingDailyLimit = 20
	}
	if out.StoreTimeout <= 0 {
		out.StoreTimeout = 2 * time.Second
	}
	return out
}

// Pool owns the DID set. It is the only writer of DID health and status,
// and Acquire/Release are the only places the in-use flag changes.
type Pool struct {
	mu   sync.Mutex
	dids map[string]*DID

	cfg         Config
	store       Store
	reputation  ReputationChecker
	provisioner Provisioner
	audit       *audit.Service
	log         *slog.Logger

	// Now is injectable for deterministic tests.
	Now func() time.Time
}

type Options struct {
	Store       Store
	Reputation  ReputationChecker
	Provisioner Provisioner
	Audit       *audit.Service
	Logger      *slog.Logger
}

func NewPool(cfg Config, opts Options) *Pool {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		dids:        map[string]*DID{},
		cfg:         cfg.withDefaults(),
		store:       opts.Store,
		reputation:  opts.Reputation,
		provisioner: opts.Provisioner,
		audit:       opts.Audit,
		log:         log.With("component", "did_pool"),
		Now:         time.Now,
	}
}

// SetProvisioner wires the provisioning collaborator after construction.
// The telephony provisioner needs the pool to register purchased numbers.
func (p *Pool) SetProvisioner(pr Provisioner) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.provisioner = pr
}

// Load hydrates the pool from its store. In-use flags left by a previous
// process are cleared: no call survives a restart.
func (p *Pool) Load(ctx context.Context) (int, error) {
	if p.store == nil {
		return 0, nil
	}
	rows, err := p.store.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("did: load: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range rows {
		d := rows[i]
		d.InUse = false
		p.dids[d.ID] = &d
	}
	return len(rows), nil
}

// Add registers a provisioned number. New numbers start warming.
func (p *Pool) Add(ctx context.Context, d DID) (DID, error) {
	if d.ID == "" || d.Number == "" {
		return DID{}, ErrInvalidDID
	}
	if d.Status == "" {
		d.Status = StatusWarming
	}
	if d.AreaCode == "" {
		d.AreaCode = AreaCodeOf(d.Number)
	}
	if d.DailyLimit <= 0 {
		d.DailyLimit = p.cfg.DefaultDailyLimit
	}
	if d.HealthScore == 0 && d.LastScoredAt.IsZero() {
		hs := computeHealth(d, nil)
		d.HealthScore = hs.Score
	}
	d.InUse = false

	p.mu.Lock()
	if _, exists := p.dids[d.ID]; exists {
		p.mu.Unlock()
		return DID{}, fmt.Errorf("did: %s already registered", d.ID)
	}
	stored := d
	p.dids[d.ID] = &stored
	p.mu.Unlock()

	p.persist(ctx, d)
	return d, nil
}

// Acquire selects a DID for a campaign and marks it in use.
//
// Selection: active DIDs scoring above ActiveFloor first, warming DIDs above
// WarmingFloor as fallback. Within a tier: exact area-code match, then
// highest health, then least recently used. Selection, the in-use flip and
// the counter increments happen in one critical section.
//
// ok=false means the pool is exhausted; it is not an error.
func (p *Pool) Acquire(ctx context.Context, campaignID, preferredAreaCode string) (DID, bool) {
	now := p.Now()

	p.mu.Lock()
	var best *DID
	for _, tier := range []struct {
		status Status
		floor  float64
	}{
		{StatusActive, p.cfg.ActiveFloor},
		{StatusWarming, p.cfg.WarmingFloor},
	} {
		best = p.selectLocked(campaignID, preferredAreaCode, tier.status, tier.floor, now)
		if best != nil {
			break
		}
	}
	if best == nil {
		p.mu.Unlock()
		return DID{}, false
	}
	best.InUse = true
	best.CallsToday++
	best.CallsThisWeek++
	best.LastUsedAt = now
	snap := *best
	p.mu.Unlock()

	p.persist(ctx, snap)
	return snap, true
}

func (p *Pool) selectLocked(campaignID, areaCode string, status Status, floor float64, now time.Time) *DID {
	var best *DID
	for _, d := range p.dids {
		if d.Status != status || d.InUse {
			continue
		}
		if d.CampaignID != "" && d.CampaignID != campaignID {
			continue
		}
		if d.HealthScore <= floor {
			continue
		}
		if now.Before(d.CooldownUntil) {
			continue
		}
		rollCounters(d, now)
		if d.CallsToday >= p.effectiveLimit(d) {
			continue
		}
		if best == nil || better(d, best, areaCode) {
			best = d
		}
	}
	return best
}

func (p *Pool) effectiveLimit(d *DID) int {
	limit := d.DailyLimit
	if limit <= 0 {
		limit = p.cfg.DefaultDailyLimit
	}
	if d.Status == StatusWarming && p.cfg.WarmingDailyLimit < limit {
		limit = p.cfg.WarmingDailyLimit
	}
	return limit
}

func better(a, b *DID, areaCode string) bool {
	if areaCode != "" {
		am, bm := a.AreaCode == areaCode, b.AreaCode == areaCode
		if am != bm {
			return am
		}
	}
	if a.HealthScore != b.HealthScore {
		return a.HealthScore > b.HealthScore
	}
	if !a.LastUsedAt.Equal(b.LastUsedAt) {
		return a.LastUsedAt.Before(b.LastUsedAt)
	}
	return a.ID < b.ID
}

func rollCounters(d *DID, now time.Time) {
	if day := dayKey(now); d.UsageDay != day {
		d.UsageDay = day
		d.CallsToday = 0
	}
	if week := weekKey(now); d.UsageWeek != week {
		d.UsageWeek = week
		d.CallsThisWeek = 0
	}
}

// Release clears the in-use flag. Health is not touched.
// Returns false when the DID is unknown or was not in use.
func (p *Pool) Release(ctx context.Context, didID string) bool {
	p.mu.Lock()
	d, ok := p.dids[didID]
	if !ok || !d.InUse {
		p.mu.Unlock()
		return false
	}
	d.InUse = false
	snap := *d
	p.mu.Unlock()

	p.persist(ctx, snap)
	return true
}

// RecordOutcome feeds a finished call into the DID's answer/failure history.
func (p *Pool) RecordOutcome(ctx context.Context, didID string, outcome Outcome) {
	p.mu.Lock()
	d, ok := p.dids[didID]
	if !ok {
		p.mu.Unlock()
		return
	}
	d.TotalCalls++
	switch outcome {
	case OutcomeAnswered:
		d.AnsweredCalls++
	case OutcomeFailed:
		d.FailedCalls++
	}
	snap := *d
	p.mu.Unlock()

	p.persist(ctx, snap)
}

// Get returns a copy of a DID.
func (p *Pool) Get(didID string) (DID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.dids[didID]
	if !ok {
		return DID{}, false
	}
	return *d, true
}

// ScoreHealth computes a DID's composite health score. Reputation lookups
// that fail fall back to the last known spam score.
func (p *Pool) ScoreHealth(ctx context.Context, d DID) HealthScore {
	if p.reputation == nil {
		return computeHealth(d, nil)
	}
	rep, err := p.reputation.SpamScore(ctx, d.Number)
	if err != nil {
		p.log.Warn("reputation lookup failed", "did_id", d.ID, "err", err)
		return computeHealth(d, nil)
	}
	return computeHealth(d, &rep)
}

// AnalyzeHealth reports the current health of one DID without changing it.
func (p *Pool) AnalyzeHealth(ctx context.Context, didID string) (HealthReport, error) {
	d, ok := p.Get(didID)
	if !ok {
		return HealthReport{}, ErrNotFound
	}
	now := p.Now()
	if d.UsageDay != dayKey(now) {
		d.CallsToday = 0
	}
	return HealthReport{
		DIDID:      d.ID,
		Number:     d.Number,
		Status:     d.Status,
		InUse:      d.InUse,
		Health:     p.ScoreHealth(ctx, d),
		AnswerRate: round2(d.answerRate()),
		FailRate:   round2(d.failRate()),
		CallsToday: d.CallsToday,
		DailyLimit: d.DailyLimit,
	}, nil
}

// PoolStatus summarizes the DIDs owned by campaignID (shared DIDs when campaignID is empty).
func (p *Pool) PoolStatus(campaignID string) PoolStatus {
	now := p.Now()
	out := PoolStatus{CampaignID: campaignID, ByStatus: map[Status]int{}}

	p.mu.Lock()
	defer p.mu.Unlock()

	var healthSum float64
	var scored int
	for _, d := range p.dids {
		if d.CampaignID != campaignID {
			continue
		}
		out.Total++
		out.ByStatus[d.Status]++
		if d.InUse {
			out.InUse++
		}
		if d.UsageDay == dayKey(now) {
			out.CallsToday += d.CallsToday
		}
		if d.Status != StatusRetired {
			healthSum += d.HealthScore
			scored++
		}
		if !d.InUse && (d.Status == StatusActive || d.Status == StatusWarming) && !now.Before(d.CooldownUntil) {
			out.Available++
		}
	}
	if scored > 0 {
		out.AverageHealth = round2(healthSum / float64(scored))
	}
	return out
}

// Rotate re-scores every DID owned by campaignID and applies status changes:
// retire below RetireBelow, quarantine below QuarantineBelow, promote warming
// DIDs above PromoteAbove, and return quarantined DIDs to warming once their
// cooldown has passed. When too few active DIDs remain, the provisioner is asked
// for more numbers.
func (p *Pool) Rotate(ctx context.Context, campaignID string) (RotationReport, error) {
	report := RotationReport{CampaignID: campaignID}

	p.mu.Lock()
	var candidates []DID
	for _, d := range p.dids {
		if d.CampaignID == campaignID && d.Status != StatusRetired {
			candidates = append(candidates, *d)
		}
	}
	p.mu.Unlock()

	// Reputation lookups are I/O; score outside the critical section.
	scores := make([]HealthScore, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range candidates {
		i := i
		g.Go(func() error {
			scores[i] = p.ScoreHealth(gctx, candidates[i])
			return nil
		})
	}
	_ = g.Wait()

	now := p.Now()
	var changed []DID

	p.mu.Lock()
	for i, c := range candidates {
		d, ok := p.dids[c.ID]
		if !ok || d.Status == StatusRetired {
			continue
		}
		hs := scores[i]
		d.HealthScore = hs.Score
		d.SpamScore = hs.SpamScore
		d.LastScoredAt = now
		report.Scored++

		switch {
		case hs.Score < p.cfg.RetireBelow:
			d.Status = StatusRetired
			report.Retired = append(report.Retired, d.ID)
		case hs.Score < p.cfg.QuarantineBelow:
			if d.Status != StatusQuarantine {
				d.Status = StatusQuarantine
				d.CooldownUntil = now.Add(p.cfg.QuarantineCooldown)
				report.Quarantined = append(report.Quarantined, d.ID)
			}
		case d.Status == StatusWarming && hs.Score > p.cfg.PromoteAbove:
			d.Status = StatusActive
			report.Promoted = append(report.Promoted, d.ID)
		case d.Status == StatusQuarantine && !now.Before(d.CooldownUntil):
			d.Status = StatusWarming
			report.Restored = append(report.Restored, d.ID)
		}
		changed = append(changed, *d)
	}
	areaCodes := map[string]int{}
	for _, d := range p.dids {
		if d.CampaignID != campaignID {
			continue
		}
		if d.Status == StatusActive {
			report.ActiveCount++
		}
		if d.AreaCode != "" {
			areaCodes[d.AreaCode]++
		}
	}
	provisioner := p.provisioner
	p.mu.Unlock()

	p.persistAll(ctx, changed)
	for _, id := range report.Retired {
		p.auditStatus(ctx, audit.EventTypeDIDRetired, campaignID, id, "health_below_retire_threshold")
	}
	for _, id := range report.Quarantined {
		p.auditStatus(ctx, audit.EventTypeDIDQuarantined, campaignID, id, "health_below_quarantine_threshold")
	}

	if report.ActiveCount < p.cfg.MinActive && provisioner != nil {
		need := p.cfg.MinActive - report.ActiveCount
		req := ProvisionRequest{CampaignID: campaignID, AreaCode: dominantAreaCode(areaCodes), Count: need}
		if err := provisioner.RequestNumbers(ctx, req); err != nil {
			p.log.Error("provisioning request failed", "campaign_id", campaignID, "count", need, "err", err)
		} else {
			report.ProvisionRequested = need
			p.auditStatus(ctx, audit.EventTypeDIDProvisioning, campaignID, "", fmt.Sprintf("active_below_minimum:%d", need))
		}
	}

	p.log.Info("did rotation",
		"campaign_id", campaignID,
		"scored", report.Scored,
		"retired", len(report.Retired),
		"quarantined", len(report.Quarantined),
		"promoted", len(report.Promoted),
		"restored", len(report.Restored),
		"active", report.ActiveCount,
	)
	return report, nil
}

// Campaigns returns the distinct campaign ids owning at least one non-retired DID.
func (p *Pool) Campaigns() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	seen := map[string]struct{}{}
	for _, d := range p.dids {
		if d.Status != StatusRetired {
			seen[d.CampaignID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (p *Pool) auditStatus(ctx context.Context, t audit.EventType, campaignID, didID, reason string) {
	if p.audit == nil {
		return
	}
	if err := p.audit.Append(ctx, audit.Event{Type: t, CampaignID: campaignID, DIDID: didID, Reason: reason}); err != nil {
		p.log.Warn("audit append failed", "type", t, "did_id", didID, "err", err)
	}
}

func (p *Pool) persist(ctx context.Context, d DID) {
	if p.store == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.StoreTimeout)
	defer cancel()
	if err := p.store.Save(sctx, d); err != nil {
		p.log.Error("did persist failed", "did_id", d.ID, "err", err)
	}
}

func (p *Pool) persistAll(ctx context.Context, ds []DID) {
	if p.store == nil || len(ds) == 0 {
		return
	}
	batch, ok := p.store.(BatchStore)
	if !ok {
		for _, d := range ds {
			p.persist(ctx, d)
		}
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.StoreTimeout)
	defer cancel()
	if err := batch.SaveAll(sctx, ds); err != nil {
		p.log.Error("did batch persist failed", "count", len(ds), "err", err)
	}
}

func dominantAreaCode(counts map[string]int) string {
	best, bestN := "", 0
	for code, n := range counts {
		if n > bestN || (n == bestN && code < best) {
			best, bestN = code, n
		}
	}
	return best
}
