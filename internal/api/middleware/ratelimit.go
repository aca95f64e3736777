package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"prosumer-p2p/internal/api/models"
	"prosumer-p2p/internal/peer"
)

// RateLimit rejects requests beyond rps (with the given burst) with 429.
// The peer client retries 429, so a throttled peer backs off instead of failing.
// rps <= 0 disables the limiter.
func RateLimit(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				models.NewError(peer.CodeRateLimited, "too many requests"))
			return
		}
		c.Next()
	}
}
