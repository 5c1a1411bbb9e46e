package telephony

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type recordingSink struct {
	mu     sync.Mutex
	events []StatusEvent
	accept bool
}

func (s *recordingSink) HandleStatus(ev StatusEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.accept {
		return false
	}
	s.events = append(s.events, ev)
	return true
}

func TestParseTwilioStatusCallback(t *testing.T) {
	body := strings.NewReader("CallSid=CA123&CallStatus=in-progress&CallDuration=42&Timestamp=Tue%2C+14+Nov+2023+22%3A13%3A20+%2B0000")
	r := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status?call_id=c1", body)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	form, err := ParseTwilioStatusCallback(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	ev := form.ToStatusEvent("c1", time.Time{})
	if ev.CallID != "c1" || ev.ProviderCallID != "CA123" || ev.Status != "in-progress" || ev.DurationSeconds != 42 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if !ev.OccurredAt.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("expected provider timestamp, got %v", ev.OccurredAt)
	}
}

func TestTwilioSignature_RoundTrip(t *testing.T) {
	params := url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}, "To": {"+12125550100"}}
	u := "https://dialer.example.com/webhooks/twilio/status?call_id=c1"
	sig := TwilioSignature("token", u, params)

	if !ValidTwilioSignature("token", u, params, sig) {
		t.Fatalf("expected signature to validate")
	}
	if ValidTwilioSignature("other", u, params, sig) {
		t.Fatalf("expected wrong token to fail")
	}
	params.Set("CallStatus", "busy")
	if ValidTwilioSignature("token", u, params, sig) {
		t.Fatalf("expected tampered params to fail")
	}
	if ValidTwilioSignature("", u, params, sig) {
		t.Fatalf("expected empty token to fail")
	}
}

func newWebhookRouter(h TwilioWebhookHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhooks/twilio/status", h.HandleStatus)
	r.POST("/webhooks/twilio/answer", h.HandleAnswer)
	return r
}

func postForm(r http.Handler, target string, form url.Values, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if sig != "" {
		req.Header.Set("X-Twilio-Signature", sig)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStatusWebhook_VerifiesAndForwards(t *testing.T) {
	sink := &recordingSink{accept: true}
	h := TwilioWebhookHandler{AuthToken: "token", PublicBaseURL: "https://dialer.example.com/", Sink: sink}
	r := newWebhookRouter(h)

	form := url.Values{"CallSid": {"CA1"}, "CallStatus": {"ringing"}}
	target := "/webhooks/twilio/status?call_id=c1"

	if w := postForm(r, target, form, "bogus"); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for bad signature, got %d", w.Code)
	}

	sig := TwilioSignature("token", "https://dialer.example.com"+target, form)
	w := postForm(r, target, form, sig)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d body=%s", w.Code, w.Body.String())
	}
	if len(sink.events) != 1 || sink.events[0].CallID != "c1" || sink.events[0].Status != "ringing" {
		t.Fatalf("unexpected forwarded events: %+v", sink.events)
	}
}

func TestStatusWebhook_BusySinkAsksForRedelivery(t *testing.T) {
	h := TwilioWebhookHandler{Sink: &recordingSink{accept: false}}
	r := newWebhookRouter(h)

	w := postForm(r, "/webhooks/twilio/status", url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}}, "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestStatusWebhook_RequiresFields(t *testing.T) {
	h := TwilioWebhookHandler{Sink: &recordingSink{accept: true}}
	r := newWebhookRouter(h)

	if w := postForm(r, "/webhooks/twilio/status", url.Values{"CallSid": {"CA1"}}, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestAnswerWebhook_ConnectsStream(t *testing.T) {
	h := TwilioWebhookHandler{StreamURL: "wss://agent.example.com/media"}
	r := newWebhookRouter(h)

	w := postForm(r, "/webhooks/twilio/answer?call_id=c1", url.Values{"CallSid": {"CA1"}}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"<Connect>", `url="wss://agent.example.com/media"`, `name="call_id" value="c1"`, `name="call_sid" value="CA1"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in %s", want, body)
		}
	}
}
