package ratelimit

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/A2AReg/a2a-registry/internal/authz"
)

// Middleware returns gin middleware enforcing class against the caller: the
// resolved Principal's subject when authenticated, else the client IP.
func Middleware(limiter Limiter, class Class) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if p, ok := authz.FromContext(c); ok {
			key = p.Subject
		}

		allowed, retryAfter, err := limiter.Allow(c.Request.Context(), Key(key, class), class)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "rate limiter unavailable"})
			return
		}
		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": retryAfter.String(),
			})
			return
		}
		c.Next()
	}
}
