package middleware

import (
	"net/http"
	"strings"

	"github.com/chainsyncstore/chainsync-golang/internal/auth"
	"github.com/gin-gonic/gin"
)

// AuthMiddleware validates the bearer token and injects the cashier and store
// identity into the request context. Every sync endpoint is scoped to the
// authenticated store.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. --- Get Authorization Header ---
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token format (must be Bearer)"})
			c.Abort()
			return
		}
		tokenString := parts[1]

		// 2. --- Validate Token ---
		claims, err := auth.ValidateToken(tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		// 3. --- Success ---
		c.Set("userID", claims.UserID)
		c.Set("storeID", claims.StoreID)
		c.Next()
	}
}
