package middlewares

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/restaurant-sync/utils"
)

// LoggerMiddleware logs one line per request. Polls of the order list are
// logged at debug so they do not drown everything else.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		entry := utils.InfoLogger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
			"ip":      c.ClientIP(),
		})
		if c.Request.Method == "GET" && path == "/api/orders" {
			entry.Debug(path)
			return
		}
		entry.Info(path)
	}
}
