package middleware

import (
	"net/http"
	"strings"

	"lipa/config"
	"lipa/internal/auth"

	"github.com/gin-gonic/gin"
)

const ctxKeyUserID = "user_id"

// AuthRequired validates the bearer JWT and sets the caller's user id in context.
func AuthRequired(cfg *config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "missing authorization header"})
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid authorization format"})
			return
		}
		claims, err := auth.ParseAccessToken(cfg, parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid or expired token"})
			return
		}
		c.Set(ctxKeyUserID, claims.UserID)
		c.Next()
	}
}

// GetUserID returns the authenticated user id, or 0 when the route is unguarded.
func GetUserID(c *gin.Context) uint {
	v, ok := c.Get(ctxKeyUserID)
	if !ok {
		return 0
	}
	id, _ := v.(uint)
	return id
}
