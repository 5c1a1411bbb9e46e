package httpapi

import (
	"outbound-dialer/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register mounts the operator API on an authenticated group.
// Viewers can read; supervisors can also steer calls and pools. The shared
// DID pool is admin only.
func Register(v1 gin.IRouter, h Handlers) {
	read := rbac.RequireAnyRole(rbac.RoleSupervisor, rbac.RoleViewer)
	write := rbac.RequireAnyRole(rbac.RoleSupervisor)
	scoped := rbac.RequireCampaignScope("campaign_id")

	v1.GET("/me", h.Me)
	v1.GET("/queue", read, h.QueueStatus)

	callsGroup := v1.Group("/calls")
	{
		callsGroup.GET("/active", read, h.ActiveCalls)
		callsGroup.POST("/:call_id/cancel", write, h.CancelCall)
		callsGroup.POST("/:call_id/transfer", write, h.TransferCall)
	}

	campaign := v1.Group("/campaigns/:campaign_id")
	campaign.Use(scoped)
	{
		campaign.POST("/calls", write, h.EnqueueCall)
		campaign.GET("/dids", read, h.PoolStatus)
		campaign.POST("/dids/rotate", write, h.RotateDIDs)
		campaign.GET("/budget", read, h.BudgetMetrics)
		campaign.GET("/report", read, h.CampaignReport)
	}

	v1.GET("/dids/:did_id/health", read, h.DIDHealth)

	pool := v1.Group("/pool")
	pool.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
	{
		pool.GET("/status", h.PoolStatus)
		pool.POST("/rotate", h.RotateDIDs)
	}
}
