package rbac

import (
	"net/http"

	"paycall/internal/auth"

	"github.com/gin-gonic/gin"
)

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}

// RequirePrincipal rejects requests that carry no verified principal.
func RequirePrincipal() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id, ok := auth.IdentityFrom(c.Request.Context()); !ok || id.PrincipalID == "" {
			abortUnauthorized(c, "principal required")
			return
		}
		c.Next()
	}
}

// RequireAnyRole admits the listed roles. Admin is always admitted.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	admit := map[string]bool{RoleAdmin: true}
	for _, r := range allowed {
		admit[r] = true
	}
	return func(c *gin.Context) {
		id, ok := auth.IdentityFrom(c.Request.Context())
		switch {
		case !ok || id.Role == "":
			abortUnauthorized(c, "role required")
		case !admit[id.Role]:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "role": id.Role})
		default:
			c.Next()
		}
	}
}
