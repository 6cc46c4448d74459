package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/restaurant-sync/utils"
)

// WebSocketAuthMiddleware reads the token from the query string since
// browsers cannot set headers on a websocket handshake.
func WebSocketAuthMiddleware(signer *utils.TokenSigner) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		// Validasi token
		claims, err := signer.ParseToken(token)
		if err != nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		// Set role dan user_id ke context
		c.Set("role", claims.Role)
		c.Set("userID", claims.UserID)

		c.Next()
	}
}
