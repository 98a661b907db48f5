package middleware

import (
	"net/http"
	"strings"

	"coursely/config"
	"coursely/internal/auth"

	"github.com/gin-gonic/gin"
)

const claimsKey = "auth_claims"

// AuthRequired validates the Bearer token and stores the parsed claims for
// the handlers downstream.
func AuthRequired(cfg *config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := auth.ParseAccessToken(cfg, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequireRole allows only users whose token carries one of the given roles.
func RequireRole(allowed ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		for _, role := range allowed {
			if claims.Role == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}

// Claims returns the token claims set by AuthRequired, or nil outside an
// authenticated route.
func Claims(c *gin.Context) *auth.Claims {
	v, _ := c.Get(claimsKey)
	claims, _ := v.(*auth.Claims)
	return claims
}

// GetUserID returns the authenticated user ID, or 0 outside an authenticated
// route.
func GetUserID(c *gin.Context) uint {
	if claims := Claims(c); claims != nil {
		return claims.UserID
	}
	return 0
}
