package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/A2AReg/a2a-registry/internal/apierr"
	"github.com/A2AReg/a2a-registry/internal/authz"
	"github.com/A2AReg/a2a-registry/internal/ratelimit"
)

// RateLimitMiddleware enforces the Rate Limiter (C9) at the HTTP boundary:
// one bucket per (principal or client IP, endpoint class), per spec.md
// §4.9. Pass a nil limiter to disable rate limiting entirely.
func RateLimitMiddleware(limiter ratelimit.Limiter, class ratelimit.Class) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		key := c.ClientIP()
		if p, ok := authz.FromContext(c); ok && p.Subject != "" {
			key = p.Subject
		}

		allowed, retryAfter, err := limiter.Allow(c.Request.Context(), ratelimit.Key(key, class), class)
		if err != nil {
			// A limiter failure fails open: availability of the underlying
			// service is not the caller's problem.
			c.Next()
			return
		}
		if !allowed {
			RecordRateLimitRejection(string(class))
			writeError(c, nil, apierr.RateLimited(retryAfter))
			c.Abort()
			return
		}
		c.Next()
	}
}
