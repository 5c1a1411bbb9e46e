package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"outbound-dialer/internal/auth"

	"github.com/gin-gonic/gin"
)

func withIdentity(role string, campaigns ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), "op", role, campaigns)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func serve(r *gin.Engine, path string) int {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w.Code
}

func TestRequireAnyRole_AdminBypasses(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", withIdentity(RoleAdmin), RequireAnyRole(RoleSupervisor), func(c *gin.Context) {
		c.Status(200)
	})
	if code := serve(r, "/x"); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_DeniesOtherRoles(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/viewer", withIdentity(RoleViewer), RequireAnyRole(RoleSupervisor), func(c *gin.Context) {
		c.Status(200)
	})
	r.GET("/unknown", withIdentity("owner"), RequireAnyRole("owner"), func(c *gin.Context) {
		c.Status(200)
	})
	r.GET("/anon", RequireAnyRole(RoleViewer), func(c *gin.Context) {
		c.Status(200)
	})

	if code := serve(r, "/viewer"); code != 403 {
		t.Fatalf("expected 403 for viewer, got %d", code)
	}
	if code := serve(r, "/unknown"); code != 403 {
		t.Fatalf("expected 403 for unknown role, got %d", code)
	}
	if code := serve(r, "/anon"); code != 401 {
		t.Fatalf("expected 401 without identity, got %d", code)
	}
}

func TestRequireCampaignScope(t *testing.T) {
	gin.SetMode(gin.TestMode)

	ok := func(c *gin.Context) { c.Status(200) }
	r := gin.New()
	r.GET("/scoped/:campaign_id", withIdentity(RoleSupervisor, "c1"), RequireCampaignScope("campaign_id"), ok)
	r.GET("/open/:campaign_id", withIdentity(RoleSupervisor), RequireCampaignScope("campaign_id"), ok)
	r.GET("/admin/:campaign_id", withIdentity(RoleAdmin, "c1"), RequireCampaignScope("campaign_id"), ok)

	if code := serve(r, "/scoped/c1"); code != 200 {
		t.Fatalf("expected in-scope campaign allowed, got %d", code)
	}
	if code := serve(r, "/scoped/c2"); code != 403 {
		t.Fatalf("expected out-of-scope campaign denied, got %d", code)
	}
	if code := serve(r, "/open/c2"); code != 200 {
		t.Fatalf("expected unscoped operator allowed, got %d", code)
	}
	if code := serve(r, "/admin/c2"); code != 200 {
		t.Fatalf("expected admin allowed, got %d", code)
	}
}
