package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"liveclass/internal/model"
	"liveclass/internal/observability"
)

const userKey = "user"

// UserLookup resolves the account behind a verified credential.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// Authenticate enforces bearer JWT tokens signed with HS256 and attaches the caller's user row.
// Bad or unknown credentials abort with 401; a failed user lookup aborts with 500.
func Authenticate(signingKey, issuer string, users UserLookup, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "No token, authorization denied", "code": "missing_token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Token is not valid", "code": "invalid_token"})
			return
		}
		user, err := users.GetUserByID(c.Request.Context(), claims.Subject)
		if err != nil {
			logger.Error("auth user lookup failed", zap.String("user_id", claims.Subject), zap.Error(err))
			observability.CaptureErr("auth.user_lookup", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "Failed to load the signed-in user", "code": "user_lookup_failed"})
			return
		}
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "User not found", "code": "unknown_user"})
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

// CurrentUser returns the caller attached by Authenticate, or nil.
func CurrentUser(c *gin.Context) *model.User {
	v, ok := c.Get(userKey)
	if !ok {
		return nil
	}
	user, _ := v.(*model.User)
	return user
}
