package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"supportchat/tools/errs"
	"supportchat/tools/security"
)

// Context keys the handlers read after authentication.
const (
	CtxUserIDKey = "auth.user_id"
	CtxRoleKey   = "auth.role"
)

// Auth validates the bearer token and stashes the caller's identity in the
// gin context. Expired tokens get a distinct code so clients force a logout
// instead of retrying.
func Auth(opts security.Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := security.FromHeader(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				errs.New(errs.CodeAuthRejected, "missing bearer token"))
			return
		}

		claims, err := security.Verify(opts, token)
		if err != nil {
			if errors.Is(err, security.ErrExpired) {
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					errs.New(errs.CodeAuthExpired, "token expired"))
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				errs.New(errs.CodeAuthRejected, "invalid token"))
			return
		}

		c.Set(CtxUserIDKey, claims.UserID)
		c.Set(CtxRoleKey, claims.Role)
		c.Next()
	}
}

// RequireRole guards the agent-only routes.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(CtxRoleKey) != role {
			c.AbortWithStatusJSON(http.StatusForbidden,
				errs.New(errs.CodeAuthRejected, "insufficient role"))
			return
		}
		c.Next()
	}
}
