package main

import (
	"outbound-dialer/internal/config"
	"outbound-dialer/internal/httpapi"
	"outbound-dialer/internal/orchestrator"
	"outbound-dialer/internal/reporting"
	"outbound-dialer/internal/telephony"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, cfg config.Config, engine *orchestrator.Engine, reports *reporting.Service, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		st := engine.QueueStatus()
		c.JSON(200, gin.H{"status": "ok", "running": st.Running, "active_calls": st.ActiveCalls})
	})

	// Provider webhooks (public, signature-verified).
	{
		h := telephony.TwilioWebhookHandler{
			AuthToken:     cfg.Twilio.AuthToken,
			PublicBaseURL: cfg.Twilio.PublicBaseURL,
			Sink:          engine,
			StreamURL:     cfg.Twilio.StreamURL,
		}
		r.POST("/webhooks/twilio/status", h.HandleStatus)
		r.POST("/webhooks/twilio/answer", h.HandleAnswer)
	}

	// protected operator API
	v1 := r.Group("/v1")
	v1.Use(authMW)
	httpapi.Register(v1, httpapi.Handlers{Dialer: engine, Reports: reports})
}
