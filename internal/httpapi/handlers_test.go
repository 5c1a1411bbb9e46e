package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"outbound-dialer/internal/auth"
	"outbound-dialer/internal/budget"
	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/did"
	"outbound-dialer/internal/orchestrator"
	"outbound-dialer/internal/rbac"
	"outbound-dialer/internal/reporting"

	"github.com/gin-gonic/gin"
)

type stubDialer struct {
	enqueued    []calls.CallRequest
	enqueueRes  orchestrator.EnqueueResult
	cancelled   []string
	cancelOK    bool
	transferErr error
	transferTo  string
	healthErr   error
	rotated     []string
}

func (s *stubDialer) EnqueueCall(campaignID, leadID string, priority int, scheduledAt time.Time) orchestrator.EnqueueResult {
	s.enqueued = append(s.enqueued, calls.CallRequest{CampaignID: campaignID, LeadID: leadID, Priority: priority, ScheduledAt: scheduledAt})
	return s.enqueueRes
}

func (s *stubDialer) QueueStatus() orchestrator.QueueStatus {
	return orchestrator.QueueStatus{QueueSize: len(s.enqueued), MaxConcurrent: 10, Running: true}
}

func (s *stubDialer) QueuedRequests() []calls.CallRequest { return s.enqueued }

func (s *stubDialer) ActiveCalls() []orchestrator.ActiveCallView {
	return []orchestrator.ActiveCallView{{CallID: "call-1", CampaignID: "c1", State: calls.StateInProgress}}
}

func (s *stubDialer) CancelCall(ctx context.Context, callID string) bool {
	s.cancelled = append(s.cancelled, callID)
	return s.cancelOK
}

func (s *stubDialer) TransferCall(ctx context.Context, callID, destination string) error {
	s.transferTo = destination
	return s.transferErr
}

func (s *stubDialer) PoolStatus(campaignID string) did.PoolStatus {
	return did.PoolStatus{CampaignID: campaignID, Total: 2}
}

func (s *stubDialer) AnalyzeDIDHealth(ctx context.Context, didID string) (did.HealthReport, error) {
	if s.healthErr != nil {
		return did.HealthReport{}, s.healthErr
	}
	return did.HealthReport{DIDID: didID}, nil
}

func (s *stubDialer) RotateDIDs(ctx context.Context, campaignID string) (did.RotationReport, error) {
	s.rotated = append(s.rotated, campaignID)
	return did.RotationReport{CampaignID: campaignID}, nil
}

func (s *stubDialer) BudgetMetrics(ctx context.Context, campaignID string) (budget.Metrics, error) {
	return budget.Metrics{CampaignID: campaignID, TotalCostMinor: 25}, nil
}

func newRouter(d Dialer, role string, campaigns ...string) *gin.Engine {
	return newRouterWith(Handlers{Dialer: d}, role, campaigns...)
}

func newRouterWith(h Handlers, role string, campaigns ...string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	v1 := r.Group("/v1")
	v1.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), "op-1", role, campaigns))
		c.Next()
	})
	Register(v1, h)
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestEnqueueCall_Accepted(t *testing.T) {
	d := &stubDialer{enqueueRes: orchestrator.EnqueueResult{Accepted: true, RequestID: "req-1"}}
	r := newRouter(d, rbac.RoleSupervisor)

	w := do(r, http.MethodPost, "/v1/campaigns/c1/calls", `{"lead_id":"l1","priority":3,"scheduled_at":"2026-01-02T15:04:05Z"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var body map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["request_id"] != "req-1" {
		t.Fatalf("unexpected body %v", body)
	}
	if len(d.enqueued) != 1 {
		t.Fatalf("expected one enqueue, got %d", len(d.enqueued))
	}
	got := d.enqueued[0]
	if got.CampaignID != "c1" || got.LeadID != "l1" || got.Priority != 3 || !got.ScheduledAt.Equal(time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)) {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestEnqueueCall_Rejections(t *testing.T) {
	cases := []struct {
		name string
		res  orchestrator.EnqueueResult
		body string
		want int
	}{
		{"duplicate", orchestrator.EnqueueResult{Reason: orchestrator.RejectDuplicateLead}, `{"lead_id":"l1"}`, http.StatusConflict},
		{"invalid", orchestrator.EnqueueResult{Reason: orchestrator.RejectInvalidRequest}, `{"lead_id":"l1"}`, http.StatusBadRequest},
		{"missing lead", orchestrator.EnqueueResult{Accepted: true}, `{"priority":1}`, http.StatusBadRequest},
		{"bad json", orchestrator.EnqueueResult{Accepted: true}, `{`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		r := newRouter(&stubDialer{enqueueRes: tc.res}, rbac.RoleSupervisor)
		if w := do(r, http.MethodPost, "/v1/campaigns/c1/calls", tc.body); w.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, w.Code)
		}
	}
}

func TestEnqueueCall_ViewerAndScopeDenied(t *testing.T) {
	d := &stubDialer{enqueueRes: orchestrator.EnqueueResult{Accepted: true}}

	if w := do(newRouter(d, rbac.RoleViewer), http.MethodPost, "/v1/campaigns/c1/calls", `{"lead_id":"l1"}`); w.Code != http.StatusForbidden {
		t.Fatalf("expected viewer forbidden, got %d", w.Code)
	}
	if w := do(newRouter(d, rbac.RoleSupervisor, "c2"), http.MethodPost, "/v1/campaigns/c1/calls", `{"lead_id":"l1"}`); w.Code != http.StatusForbidden {
		t.Fatalf("expected out of scope forbidden, got %d", w.Code)
	}
	if len(d.enqueued) != 0 {
		t.Fatalf("expected no enqueue, got %d", len(d.enqueued))
	}
}

func TestQueueAndActiveCalls(t *testing.T) {
	d := &stubDialer{enqueued: []calls.CallRequest{{ID: "r1", CampaignID: "c1", LeadID: "l1"}}}
	r := newRouter(d, rbac.RoleViewer)

	w := do(r, http.MethodGet, "/v1/queue", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var q struct {
		Status   orchestrator.QueueStatus `json:"status"`
		Requests []calls.CallRequest      `json:"requests"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &q); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if q.Status.QueueSize != 1 || len(q.Requests) != 1 {
		t.Fatalf("unexpected queue body %s", w.Body.String())
	}

	w = do(r, http.MethodGet, "/v1/calls/active", "")
	var active struct {
		Calls []orchestrator.ActiveCallView `json:"calls"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &active)
	if w.Code != http.StatusOK || len(active.Calls) != 1 || active.Calls[0].CallID != "call-1" {
		t.Fatalf("unexpected active calls %d %s", w.Code, w.Body.String())
	}
}

func TestCancelCall(t *testing.T) {
	d := &stubDialer{cancelOK: true}
	r := newRouter(d, rbac.RoleSupervisor)
	if w := do(r, http.MethodPost, "/v1/calls/call-1/cancel", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	d.cancelOK = false
	if w := do(r, http.MethodPost, "/v1/calls/call-2/cancel", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if len(d.cancelled) != 2 || d.cancelled[0] != "call-1" {
		t.Fatalf("unexpected cancellations %v", d.cancelled)
	}
}

func TestTransferCall_MapsErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusAccepted},
		{orchestrator.ErrCallNotFound, http.StatusNotFound},
		{orchestrator.ErrInvalidTransition, http.StatusConflict},
		{orchestrator.ErrNoDestination, http.StatusUnprocessableEntity},
		{errors.New("carrier down"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		d := &stubDialer{transferErr: tc.err}
		r := newRouter(d, rbac.RoleSupervisor)
		if w := do(r, http.MethodPost, "/v1/calls/call-1/transfer", `{"destination":" +18005550100 "}`); w.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, w.Code)
		}
		if d.transferTo != "+18005550100" {
			t.Fatalf("expected trimmed destination, got %q", d.transferTo)
		}
	}

	d := &stubDialer{}
	if w := do(newRouter(d, rbac.RoleSupervisor), http.MethodPost, "/v1/calls/call-1/transfer", ""); w.Code != http.StatusAccepted || d.transferTo != "" {
		t.Fatalf("expected empty body to fall back to campaign number, got %d %q", w.Code, d.transferTo)
	}
}

func TestDIDRoutes(t *testing.T) {
	d := &stubDialer{}
	r := newRouter(d, rbac.RoleSupervisor)

	if w := do(r, http.MethodGet, "/v1/campaigns/c1/dids", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/v1/campaigns/c1/dids/rotate", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/v1/dids/d1/health", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/v1/pool/rotate", ""); w.Code != http.StatusForbidden {
		t.Fatalf("expected shared pool to be admin only, got %d", w.Code)
	}

	d.healthErr = did.ErrNotFound
	if w := do(r, http.MethodGet, "/v1/dids/missing/health", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	admin := newRouter(d, rbac.RoleAdmin)
	if w := do(admin, http.MethodPost, "/v1/pool/rotate", ""); w.Code != http.StatusOK {
		t.Fatalf("expected admin rotation of shared pool, got %d", w.Code)
	}
	if len(d.rotated) != 2 || d.rotated[0] != "c1" || d.rotated[1] != "" {
		t.Fatalf("unexpected rotations %v", d.rotated)
	}
}

func TestBudgetMetricsAndMe(t *testing.T) {
	r := newRouter(&stubDialer{}, rbac.RoleViewer, "c1")

	w := do(r, http.MethodGet, "/v1/campaigns/c1/budget", "")
	var m budget.Metrics
	_ = json.Unmarshal(w.Body.Bytes(), &m)
	if w.Code != http.StatusOK || m.CampaignID != "c1" || m.TotalCostMinor != 25 {
		t.Fatalf("unexpected budget response %d %s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodGet, "/v1/me", "")
	var me struct {
		OperatorID string   `json:"operator_id"`
		Role       string   `json:"role"`
		Campaigns  []string `json:"campaigns"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &me)
	if me.OperatorID != "op-1" || me.Role != rbac.RoleViewer || len(me.Campaigns) != 1 {
		t.Fatalf("unexpected identity %s", w.Body.String())
	}
}

type stubReports struct {
	got reporting.CallsSummaryRequest
}

func (s *stubReports) CallsSummary(ctx context.Context, req reporting.CallsSummaryRequest) (reporting.CallsSummary, error) {
	s.got = req
	if !req.Range.To.After(req.Range.From) {
		return reporting.CallsSummary{}, reporting.ErrInvalidRequest
	}
	return reporting.CallsSummary{CampaignID: req.CampaignID, TotalCalls: 4}, nil
}

func (s *stubReports) SpendSummary(ctx context.Context, req reporting.SpendSummaryRequest) (reporting.SpendSummary, error) {
	return reporting.SpendSummary{CampaignID: req.CampaignID, TotalMinor: 30}, nil
}

func TestCampaignReport(t *testing.T) {
	fixed := time.Unix(1700000000, 0).UTC()
	rep := &stubReports{}
	r := newRouterWith(Handlers{Dialer: &stubDialer{}, Reports: rep, Now: func() time.Time { return fixed }}, rbac.RoleViewer)

	w := do(r, http.MethodGet, "/v1/campaigns/c1/report", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !rep.got.Range.To.Equal(fixed) || !rep.got.Range.From.Equal(fixed.Add(-24*time.Hour)) {
		t.Fatalf("unexpected default range %+v", rep.got.Range)
	}
	var body struct {
		Calls reporting.CallsSummary `json:"calls"`
		Spend reporting.SpendSummary `json:"spend"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body.Calls.TotalCalls != 4 || body.Spend.TotalMinor != 30 {
		t.Fatalf("unexpected report %s", w.Body.String())
	}

	if w := do(r, http.MethodGet, "/v1/campaigns/c1/report?from=yesterday", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad from, got %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/v1/campaigns/c1/report?from=2023-11-15T00:00:00Z&to=2023-11-14T00:00:00Z", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inverted range, got %d", w.Code)
	}
}
