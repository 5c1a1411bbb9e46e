package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"outbound-dialer/internal/auth"
	"outbound-dialer/internal/budget"
	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/did"
	"outbound-dialer/internal/orchestrator"
	"outbound-dialer/internal/reporting"
	"outbound-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Dialer is the operator surface of the orchestration engine.
type Dialer interface {
	EnqueueCall(campaignID, leadID string, priority int, scheduledAt time.Time) orchestrator.EnqueueResult
	QueueStatus() orchestrator.QueueStatus
	QueuedRequests() []calls.CallRequest
	ActiveCalls() []orchestrator.ActiveCallView
	CancelCall(ctx context.Context, callID string) bool
	TransferCall(ctx context.Context, callID, destination string) error
	PoolStatus(campaignID string) did.PoolStatus
	AnalyzeDIDHealth(ctx context.Context, didID string) (did.HealthReport, error)
	RotateDIDs(ctx context.Context, campaignID string) (did.RotationReport, error)
	BudgetMetrics(ctx context.Context, campaignID string) (budget.Metrics, error)
}

// Reports serves historical campaign reports.
type Reports interface {
	CallsSummary(ctx context.Context, req reporting.CallsSummaryRequest) (reporting.CallsSummary, error)
	SpendSummary(ctx context.Context, req reporting.SpendSummaryRequest) (reporting.SpendSummary, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call the engine, return JSON.
type Handlers struct {
	Dialer  Dialer
	Reports Reports

	Now func() time.Time
}

// --- Queue ---

type enqueueCallRequest struct {
	LeadID      string     `json:"lead_id"`
	Priority    int        `json:"priority"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

// EnqueueCall schedules a call to a lead of the campaign in the path.
func (h Handlers) EnqueueCall(c *gin.Context) {
	log := logger.FromGin(c)

	var req enqueueCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.LeadID = strings.TrimSpace(req.LeadID)
	if req.LeadID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "lead_id required"})
		return
	}
	var scheduledAt time.Time
	if req.ScheduledAt != nil {
		scheduledAt = req.ScheduledAt.UTC()
	}

	campaignID := c.Param("campaign_id")
	res := h.Dialer.EnqueueCall(campaignID, req.LeadID, req.Priority, scheduledAt)
	if !res.Accepted {
		status := http.StatusBadRequest
		if res.Reason == orchestrator.RejectDuplicateLead {
			status = http.StatusConflict
		}
		log.Info("call request rejected", "campaign_id", campaignID, "lead_id", req.LeadID, "reason", res.Reason)
		c.AbortWithStatusJSON(status, gin.H{"error": res.Reason})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"request_id": res.RequestID, "status": "queued"})
}

// QueueStatus reports queue depth and active call counts with the pending requests.
func (h Handlers) QueueStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   h.Dialer.QueueStatus(),
		"requests": h.Dialer.QueuedRequests(),
	})
}

// --- Calls ---

func (h Handlers) ActiveCalls(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"calls": h.Dialer.ActiveCalls()})
}

func (h Handlers) CancelCall(c *gin.Context) {
	callID := c.Param("call_id")
	if !h.Dialer.CancelCall(c.Request.Context(), callID) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not active"})
		return
	}
	operatorID, _ := auth.OperatorID(c.Request.Context())
	logger.FromGin(c).Info("call cancelled by operator", "call_id", callID, "operator_id", operatorID)
	c.JSON(http.StatusOK, gin.H{"call_id": callID, "status": "cancelled"})
}

type transferCallRequest struct {
	Destination string `json:"destination"`
}

// TransferCall hands an answered call to a human. An empty destination uses
// the campaign's transfer number.
func (h Handlers) TransferCall(c *gin.Context) {
	log := logger.FromGin(c)

	var req transferCallRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}

	callID := c.Param("call_id")
	err := h.Dialer.TransferCall(c.Request.Context(), callID, strings.TrimSpace(req.Destination))
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"call_id": callID, "status": "transferring"})
	case errors.Is(err, orchestrator.ErrCallNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not active"})
	case errors.Is(err, orchestrator.ErrInvalidTransition):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "call cannot be transferred in its current state"})
	case errors.Is(err, orchestrator.ErrNoDestination):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "no transfer destination"})
	default:
		log.Error("transfer failed", "call_id", callID, "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "transfer failed"})
	}
}

// --- DIDs ---

// PoolStatus reports the campaign pool. Without a campaign in the path it
// reports the shared pool.
func (h Handlers) PoolStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.Dialer.PoolStatus(c.Param("campaign_id")))
}

func (h Handlers) RotateDIDs(c *gin.Context) {
	campaignID := c.Param("campaign_id")
	report, err := h.Dialer.RotateDIDs(c.Request.Context(), campaignID)
	if err != nil {
		logger.FromGin(c).Error("did rotation failed", "campaign_id", campaignID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "rotation failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h Handlers) DIDHealth(c *gin.Context) {
	report, err := h.Dialer.AnalyzeDIDHealth(c.Request.Context(), c.Param("did_id"))
	if err != nil {
		if errors.Is(err, did.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "did not found"})
			return
		}
		logger.FromGin(c).Error("did health failed", "did_id", c.Param("did_id"), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "health analysis failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// --- Budget ---

func (h Handlers) BudgetMetrics(c *gin.Context) {
	campaignID := c.Param("campaign_id")
	m, err := h.Dialer.BudgetMetrics(c.Request.Context(), campaignID)
	if err != nil {
		logger.FromGin(c).Error("budget metrics failed", "campaign_id", campaignID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "budget metrics unavailable"})
		return
	}
	c.JSON(http.StatusOK, m)
}

// --- Reports ---

const defaultReportWindow = 24 * time.Hour

// CampaignReport returns call outcomes and spend for ?from=&to= (RFC 3339).
// The default window is the last 24 hours.
func (h Handlers) CampaignReport(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "reports not configured"})
		return
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}

	end := now().UTC()
	rng := reporting.TimeRange{From: end.Add(-defaultReportWindow), To: end}
	for key, dst := range map[string]*time.Time{"from": &rng.From, "to": &rng.To} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": key + " must be RFC 3339"})
			return
		}
		*dst = t.UTC()
	}

	campaignID := c.Param("campaign_id")
	ctx := c.Request.Context()
	summary, err := h.Reports.CallsSummary(ctx, reporting.CallsSummaryRequest{CampaignID: campaignID, Range: rng})
	if err == nil {
		var spend reporting.SpendSummary
		spend, err = h.Reports.SpendSummary(ctx, reporting.SpendSummaryRequest{CampaignID: campaignID, Range: rng})
		if err == nil {
			c.JSON(http.StatusOK, gin.H{"calls": summary, "spend": spend})
			return
		}
	}
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid report range"})
		return
	}
	logger.FromGin(c).Error("campaign report failed", "campaign_id", campaignID, "err", err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report unavailable"})
}

// --- Identity ---

func (h Handlers) Me(c *gin.Context) {
	ctx := c.Request.Context()
	operatorID, _ := auth.OperatorID(ctx)
	role, _ := auth.Role(ctx)
	c.JSON(http.StatusOK, gin.H{"operator_id": operatorID, "role": role, "campaigns": auth.CampaignScope(ctx)})
}
