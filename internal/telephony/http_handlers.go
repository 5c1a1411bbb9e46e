package telephony

import (
	"net/http"
	"strings"
	"time"

	"outbound-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
)

// TwilioWebhookHandler converts Twilio callbacks to internal types and hands
// them to the engine. No business logic here.
type TwilioWebhookHandler struct {
	// AuthToken verifies X-Twilio-Signature. Empty disables verification (local only).
	AuthToken string
	// PublicBaseURL is the externally visible scheme+host Twilio signed against.
	PublicBaseURL string

	Sink StatusSink

	// StreamURL is the conversation agent's media websocket.
	StreamURL string

	Now func() time.Time
}

func (h TwilioWebhookHandler) verify(c *gin.Context) bool {
	if h.AuthToken == "" {
		return true
	}
	full := strings.TrimRight(h.PublicBaseURL, "/") + c.Request.URL.RequestURI()
	return ValidTwilioSignature(h.AuthToken, full, c.Request.PostForm, c.GetHeader("X-Twilio-Signature"))
}

// HandleStatus receives call progress callbacks.
func (h TwilioWebhookHandler) HandleStatus(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Now == nil {
		h.Now = time.Now
	}
	if h.Sink == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "status sink not configured"})
		return
	}

	form, err := ParseTwilioStatusCallback(c.Request)
	if err != nil {
		log.Warn("twilio status parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	if !h.verify(c) {
		log.Warn("twilio signature rejected", "call_sid", form.CallSid)
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
		return
	}
	if form.CallSid == "" || form.CallStatus == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "CallSid and CallStatus required"})
		return
	}

	ev := form.ToStatusEvent(c.Query("call_id"), h.Now())
	if !h.Sink.HandleStatus(ev) {
		// Twilio retries on 5xx; let it redeliver rather than lose the event.
		log.Warn("status event dropped", "call_sid", form.CallSid, "status", form.CallStatus)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "busy"})
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleAnswer serves the TwiML executed when the callee picks up: the call's
// media is connected to the conversation agent.
func (h TwilioWebhookHandler) HandleAnswer(c *gin.Context) {
	log := logger.FromGin(c)

	if err := c.Request.ParseForm(); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	if !h.verify(c) {
		log.Warn("twilio signature rejected on answer")
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
		return
	}

	var (
		twiml string
		err   error
	)
	if h.StreamURL == "" {
		twiml, err = RenderHangup()
	} else {
		twiml, err = RenderConnectStream(h.StreamURL, map[string]string{
			"call_id":  c.Query("call_id"),
			"call_sid": c.Request.PostFormValue("CallSid"),
		})
	}
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}

	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}
