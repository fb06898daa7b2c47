package middleware

import (
	"net/http"
	"strings"

	"github.com/Cyvadra/tv-bridge/internal/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// UsernameKey is the gin context key holding the authenticated admin
const UsernameKey = "username"

// JWTAuth guards the admin API with a Bearer token
func JWTAuth(auth *services.AuthService, logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("auth")

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			logger.Warn("JWT token missing",
				zap.String("path", c.Request.URL.Path),
				zap.String("remote_ip", c.ClientIP()))
			abortUnauthorized(c, "Missing authorization token")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			abortUnauthorized(c, "Malformed authorization header")
			return
		}

		claims, err := auth.ValidateToken(parts[1])
		if err != nil {
			logger.Warn("invalid JWT token",
				zap.String("path", c.Request.URL.Path),
				zap.String("remote_ip", c.ClientIP()),
				zap.Error(err))
			abortUnauthorized(c, "Invalid or expired token")
			return
		}

		c.Set(UsernameKey, claims.Username)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"status":  "error",
		"message": message,
		"code":    "UNAUTHORIZED",
	})
}
