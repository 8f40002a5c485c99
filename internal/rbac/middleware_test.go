package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"reminder-voice/internal/auth"

	"github.com/gin-gonic/gin"
)

func serve(t *testing.T, userID, role string, chain ...gin.HandlerFunc) int {
	t.Helper()
	gin.SetMode(gin.TestMode)

	handlers := []gin.HandlerFunc{func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), userID, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}}
	handlers = append(handlers, chain...)
	handlers = append(handlers, func(c *gin.Context) { c.Status(200) })

	r := gin.New()
	r.GET("/x", handlers...)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRequireAnyRole_SuperAdminBypasses(t *testing.T) {
	if code := serve(t, "u", RoleSuperAdmin, RequireIdentity(), RequireAnyRole(RoleUser)); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_ViewerDeniedWrite(t *testing.T) {
	if code := serve(t, "u", RoleViewer, RequireIdentity(), RequireAnyRole(RoleUser)); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireIdentity_UserIDRequired(t *testing.T) {
	if code := serve(t, "", RoleUser, RequireIdentity(), RequireAnyRole(RoleUser)); code != 401 {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestOwnerScope(t *testing.T) {
	admin := auth.WithIdentity(context.Background(), "root", RoleSuperAdmin)
	user := auth.WithIdentity(context.Background(), "u1", RoleUser)

	if s, err := OwnerScope(admin); err != nil || s != "" {
		t.Fatalf("admin scope = %q, %v", s, err)
	}
	if s, err := OwnerScope(user); err != nil || s != "u1" {
		t.Fatalf("user scope = %q, %v", s, err)
	}
	if _, err := OwnerScope(context.Background()); err == nil {
		t.Fatalf("expected error without identity")
	}

	if !CanSee(admin, "u2") || !CanSee(user, "u1") || CanSee(user, "u2") {
		t.Fatalf("unexpected visibility")
	}
}
