package rbac

import (
	"context"
	"net/http"

	"reminder-voice/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireIdentity enforces owner isolation: user_id must exist in context.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, err := auth.UserID(c.Request.Context())
		if err != nil || uid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// super_admin bypasses all checks.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}

		if IsSuperAdmin(role) {
			c.Next()
			return
		}

		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// OwnerScope returns the owner a caller may see. An empty result with no
// error means every owner (super_admin).
func OwnerScope(ctx context.Context) (string, error) {
	id, ok := auth.IdentityFrom(ctx)
	if !ok || id.UserID == "" || id.Role == "" {
		return "", auth.ErrNoIdentity
	}
	if IsSuperAdmin(id.Role) {
		return "", nil
	}
	return id.UserID, nil
}

// CanSee reports whether the caller may read a record owned by ownerID.
func CanSee(ctx context.Context, ownerID string) bool {
	scope, err := OwnerScope(ctx)
	if err != nil {
		return false
	}
	return scope == "" || scope == ownerID
}
