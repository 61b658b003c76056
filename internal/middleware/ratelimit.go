package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"collabrun/internal/repository"
)

// RateLimit returns Gin middleware that enforces a per-client-address limit over a
// rolling window using repository.StateRepository's pipelined INCR+EXPIRE, per
// spec.md §6.1's room-creation/room-join rate limits. The key distinguishes routes so
// the same client can be tracked separately per endpoint.
func RateLimit(state repository.StateRepository, routeKey string, maxRequests int, window time.Duration) gin.HandlerFunc {
	if state == nil {
		panic("StateRepository cannot be nil for RateLimit middleware")
	}
	if maxRequests <= 0 || window <= 0 {
		panic("maxRequests and window must be positive for RateLimit middleware")
	}

	return func(c *gin.Context) {
		key := "ratelimit:" + routeKey + ":" + c.ClientIP()
		overLimit, err := state.CheckRateLimit(c.Request.Context(), key, maxRequests, window)
		if err != nil {
			logrus.WithError(err).Error("rate limit check failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "rate limiting error"})
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(window.Seconds())))
		if overLimit {
			c.Header("X-RateLimit-Remaining", "0")
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			c.Abort()
			return
		}
		c.Next()
	}
}
