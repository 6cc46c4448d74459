package middlewares

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/restaurant-sync/access"
	"github.com/yeremiapane/restaurant-sync/utils"
)

// RequirePermission lets the request through when the token's role may run op.
func RequirePermission(op access.Operation) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get("role")
		if !exists {
			utils.RespondError(c, http.StatusUnauthorized, fmt.Errorf("unauthorized"))
			c.Abort()
			return
		}

		roleName, _ := role.(string)
		if !access.Permitted(roleName, op) {
			utils.RespondError(c, http.StatusForbidden, fmt.Errorf("%s: %w", op, access.ErrForbidden))
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequireRole -> hanya role tertentu
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userRole := c.GetString("role")
		for _, r := range roles {
			if r == userRole {
				c.Next()
				return
			}
		}
		utils.RespondError(c, http.StatusForbidden, fmt.Errorf("%v access required", roles))
		c.Abort()
	}
}
