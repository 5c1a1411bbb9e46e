package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"outbound-dialer/internal/audit"
	"outbound-dialer/internal/budget"
	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/did"
	"outbound-dialer/internal/queue"
	"outbound-dialer/internal/telephony"
)

type Config struct {
	TickInterval    time.Duration
	MaxConcurrent   int
	MaxCallDuration time.Duration
	// Retry.MaxRetries of zero takes the default. A negative value disables retries.
	Retry           queue.RetryPolicy

	// RotateEvery is the DID rotation period. Zero disables rotation from the loop.
	RotateEvery         time.Duration
	DispatchTimeout     time.Duration
	// CollaboratorTimeout bounds each directory, ledger, admission or slot call made on the tick.
	CollaboratorTimeout time.Duration

	StatusBuffer     int
	TaskWorkers      int
	TaskBuffer       int
	TaskTimeout      time.Duration
	SweepConcurrency int
}

func DefaultConfig() Config {
	return Config{
		TickInterval:        time.Second,
		MaxConcurrent:       10,
		MaxCallDuration:     300 * time.Second,
		Retry:               queue.DefaultRetryPolicy(),
		RotateEvery:         time.Hour,
		DispatchTimeout:     10 * time.Second,
		CollaboratorTimeout: 5 * time.Second,
		StatusBuffer:        1024,
		TaskWorkers:         4,
		TaskBuffer:          256,
		TaskTimeout:         10 * time.Second,
		SweepConcurrency:    4,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.MaxCallDuration <= 0 {
		c.MaxCallDuration = d.MaxCallDuration
	}
	if c.Retry.Backoff <= 0 {
		c.Retry.Backoff = d.Retry.Backoff
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = d.Retry.MaxRetries
	}
	if c.RotateEvery < 0 {
		c.RotateEvery = 0
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = d.DispatchTimeout
	}
	if c.CollaboratorTimeout <= 0 {
		c.CollaboratorTimeout = d.CollaboratorTimeout
	}
	if c.StatusBuffer <= 0 {
		c.StatusBuffer = d.StatusBuffer
	}
	if c.TaskWorkers <= 0 {
		c.TaskWorkers = d.TaskWorkers
	}
	if c.TaskBuffer <= 0 {
		c.TaskBuffer = d.TaskBuffer
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = d.TaskTimeout
	}
	if c.SweepConcurrency <= 0 {
		c.SweepConcurrency = d.SweepConcurrency
	}
	return c
}

// Deps are the engine's collaborators. Queue, StatusMap, Calls, Recency,
// Conversation, Slots, Rater and Audit are optional.
type Deps struct {
	Queue        *queue.Queue
	Admission    Admission
	Pool         DIDPool
	Ledger       Ledger
	Directory    Directory
	Provider     telephony.Provider
	StatusMap    calls.StatusMap
	Calls        calls.Repository
	Recency      RecencyRecorder
	Conversation Conversation
	Slots        SlotLimiter
	Rater        Rater
	Audit        *audit.Service
	Logger       *slog.Logger
}

// Engine owns the dispatch queue and the set of active calls.
//
// Tick is serialized; operator calls (cancel, transfer, enqueue) may run
// concurrently with it. Every ActiveCall is finalized exactly once: whoever
// removes it from the active set under mu does the cleanup.
type Engine struct {
	cfg Config

	queue        *queue.Queue
	admission    Admission
	pool         DIDPool
	ledger       Ledger
	directory    Directory
	provider     telephony.Provider
	statusMap    calls.StatusMap
	records      calls.Repository
	recency      RecencyRecorder
	conversation Conversation
	slots        SlotLimiter
	rater        Rater
	audit        *audit.Service
	log          *slog.Logger

	// Now is injectable for tests.
	Now func() time.Time

	status chan telephony.StatusEvent
	tasks  *taskQueue

	tickMu       sync.Mutex
	lastRotation time.Time

	mu         sync.Mutex
	active     map[string]*ActiveCall
	byProvider map[string]string
	running    bool
}

func NewEngine(cfg Config, deps Deps) (*Engine, error) {
	var missing []error
	if deps.Admission == nil {
		missing = append(missing, errors.New("admission"))
	}
	if deps.Pool == nil {
		missing = append(missing, errors.New("did pool"))
	}
	if deps.Ledger == nil {
		missing = append(missing, errors.New("budget ledger"))
	}
	if deps.Directory == nil {
		missing = append(missing, errors.New("campaign directory"))
	}
	if deps.Provider == nil {
		missing = append(missing, errors.New("telephony provider"))
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("orchestrator: missing dependencies: %w", errors.Join(missing...))
	}

	cfg = cfg.withDefaults()
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	q := deps.Queue
	if q == nil {
		q = queue.New()
	}
	sm := deps.StatusMap
	if sm.Len() == 0 {
		sm = calls.TwilioStatusMap()
	}

	return &Engine{
		cfg:          cfg,
		queue:        q,
		admission:    deps.Admission,
		pool:         deps.Pool,
		ledger:       deps.Ledger,
		directory:    deps.Directory,
		provider:     deps.Provider,
		statusMap:    sm,
		records:      deps.Calls,
		recency:      deps.Recency,
		conversation: deps.Conversation,
		slots:        deps.Slots,
		rater:        deps.Rater,
		audit:        deps.Audit,
		log:          log.With("component", "orchestrator"),
		Now:          time.Now,
		status:       make(chan telephony.StatusEvent, cfg.StatusBuffer),
		tasks:        newTaskQueue(cfg.TaskBuffer, cfg.TaskTimeout, log),
		active:       map[string]*ActiveCall{},
		byProvider:   map[string]string{},
	}, nil
}

func (e *Engine) now() time.Time { return e.Now().UTC() }

// bounded caps a collaborator call made on the tick.
func (e *Engine) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.CollaboratorTimeout)
}

// detached is bounded for cleanup that must outlive cancellation of ctx.
// A sooner deadline on ctx still applies.
func (e *Engine) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := e.cfg.CollaboratorTimeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

// Run ticks until ctx is cancelled. Queued collaborator tasks are drained before it returns.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	e.tasks.start(ctx, e.cfg.TaskWorkers)
	defer e.tasks.stop()

	t := time.NewTicker(e.cfg.TickInterval)
	defer t.Stop()

	e.log.Info("orchestrator started",
		"tick", e.cfg.TickInterval.String(),
		"max_concurrent", e.cfg.MaxConcurrent,
		"provider", e.provider.Name(),
	)
	for {
		select {
		case <-ctx.Done():
			e.log.Info("orchestrator stopping", "active_calls", e.activeCount(), "queue_size", e.queue.Len())
			return nil
		case <-t.C:
			e.Tick(ctx)
		}
	}
}

// Tick runs one iteration of the loop: dispatch, monitor, budget sweep, rotation.
func (e *Engine) Tick(ctx context.Context) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	now := e.now()
	e.dispatch(ctx, now)
	e.monitor(ctx, now)
	e.sweepBudgets(ctx)
	e.maybeRotate(ctx, now)
}

// HandleStatus buffers a provider status notification for the next tick.
// It returns false when the buffer is full so the caller can ask for redelivery.
func (e *Engine) HandleStatus(ev telephony.StatusEvent) bool {
	select {
	case e.status <- ev:
		return true
	default:
		e.log.Warn("status buffer full, dropping notification",
			"call_id", ev.CallID,
			"provider_call_id", ev.ProviderCallID,
			"status", ev.Status,
		)
		return false
	}
}

// EnqueueCall schedules a lead for dialing. A lead may be queued or active at most once.
func (e *Engine) EnqueueCall(campaignID, leadID string, priority int, scheduledAt time.Time) EnqueueResult {
	req := calls.CallRequest{
		ID:          uuid.NewString(),
		CampaignID:  campaignID,
		LeadID:      leadID,
		Priority:    priority,
		ScheduledAt: scheduledAt.UTC(),
		EnqueuedAt:  e.now(),
	}
	if err := req.Validate(); err != nil {
		return EnqueueResult{Reason: RejectInvalidRequest}
	}
	if e.leadActive(leadID) {
		return EnqueueResult{Reason: RejectDuplicateLead}
	}
	if err := e.queue.Enqueue(req); err != nil {
		if errors.Is(err, queue.ErrDuplicateLead) {
			return EnqueueResult{Reason: RejectDuplicateLead}
		}
		return EnqueueResult{Reason: RejectInvalidRequest}
	}
	e.log.Debug("call enqueued", "request_id", req.ID, "campaign_id", campaignID, "lead_id", leadID, "priority", priority)
	return EnqueueResult{Accepted: true, RequestID: req.ID}
}

func (e *Engine) QueueStatus() QueueStatus {
	e.mu.Lock()
	active, running := len(e.active), e.running
	e.mu.Unlock()
	return QueueStatus{
		QueueSize:     e.queue.Len(),
		ActiveCalls:   active,
		MaxConcurrent: e.cfg.MaxConcurrent,
		Running:       running,
	}
}

// QueuedRequests returns the pending requests in dispatch order.
func (e *Engine) QueuedRequests() []calls.CallRequest { return e.queue.Snapshot() }

// ActiveCalls lists active calls, oldest first.
func (e *Engine) ActiveCalls() []ActiveCallView {
	now := e.now()
	e.mu.Lock()
	out := make([]ActiveCallView, 0, len(e.active))
	for _, c := range e.active {
		out = append(out, ActiveCallView{
			CallID:          c.CallID,
			CampaignID:      c.Request.CampaignID,
			LeadID:          c.Request.LeadID,
			DIDID:           c.DIDID,
			State:           c.State,
			StartedAt:       c.StartedAt,
			DurationSeconds: int(now.Sub(c.StartedAt) / time.Second),
		})
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].CallID < out[j].CallID
	})
	return out
}

func (e *Engine) PoolStatus(campaignID string) did.PoolStatus { return e.pool.PoolStatus(campaignID) }

func (e *Engine) AnalyzeDIDHealth(ctx context.Context, didID string) (did.HealthReport, error) {
	return e.pool.AnalyzeHealth(ctx, didID)
}

func (e *Engine) RotateDIDs(ctx context.Context, campaignID string) (did.RotationReport, error) {
	return e.pool.Rotate(ctx, campaignID)
}

func (e *Engine) BudgetMetrics(ctx context.Context, campaignID string) (budget.Metrics, error) {
	return e.ledger.Metrics(ctx, campaignID)
}

func (e *Engine) activeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

func (e *Engine) leadActive(leadID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.active {
		if c.Request.LeadID == leadID {
			return true
		}
	}
	return false
}

// claimLocked removes a call from the active set. The caller becomes its sole finalizer.
func (e *Engine) claimLocked(c *ActiveCall) {
	delete(e.active, c.CallID)
	if c.ProviderCallID != "" {
		delete(e.byProvider, c.ProviderCallID)
	}
}

func (e *Engine) lookupLocked(callID, providerCallID string) *ActiveCall {
	if callID != "" {
		if c, ok := e.active[callID]; ok {
			return c
		}
	}
	if providerCallID != "" {
		if id, ok := e.byProvider[providerCallID]; ok {
			return e.active[id]
		}
	}
	return nil
}

func (e *Engine) auditAsync(ev audit.Event) {
	if e.audit == nil {
		return
	}
	e.tasks.submit(context.Background(), "audit", func(ctx context.Context) {
		if err := e.audit.Append(ctx, ev); err != nil {
			e.log.Error("audit append failed", "type", ev.Type, "campaign_id", ev.CampaignID, "err", err)
		}
	})
}
