// README: Firebase-token auth middleware; binds uid and role into the request
// context.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"reparto/internal/infra"
)

const (
	ctxKeyUID  = "auth.uid"
	ctxKeyRole = "auth.role"
)

// Auth verifies the Bearer token and stores the caller's uid and role claim.
// A nil verifier disables authentication (dev mode) and leaves the context
// empty.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if verifier == nil {
			c.Next()
			return
		}

		raw := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		tok, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(ctxKeyUID, tok.UID)
		if role, ok := tok.Claims["role"].(string); ok {
			c.Set(ctxKeyRole, role)
		}
		c.Next()
	}
}

// CallerUID returns the authenticated uid, or "" when auth is disabled.
func CallerUID(c *gin.Context) string {
	return c.GetString(ctxKeyUID)
}

// CallerRole returns the authenticated role claim, or "" when auth is disabled.
func CallerRole(c *gin.Context) string {
	return c.GetString(ctxKeyRole)
}
