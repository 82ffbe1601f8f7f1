// Package middleware provides rate limiting functionality.
package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/ruvnet/raftbooking/internal/config"
)

// RateLimiter holds a per-key token bucket, keyed on the authenticated
// principal when available and on client IP otherwise.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	config   config.RateLimitConfig
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		config:   cfg,
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, exists := rl.limiters[key]; exists {
		return limiter
	}

	limiter := rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.Burst)
	rl.limiters[key] = limiter

	go rl.expire(key)

	return limiter
}

func (rl *RateLimiter) expire(key string) {
	time.Sleep(10 * time.Minute)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.limiters, key)
}

// RateLimit applies per-principal (or per-IP, if unauthenticated) rate
// limiting to every client-facing request.
func RateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	rl := NewRateLimiter(cfg)

	return func(c *gin.Context) {
		key := c.ClientIP()
		if username, ok := GetUsername(c); ok {
			key = "user:" + username
		}

		limiter := rl.getLimiter(key)

		c.Header("X-Rate-Limit-Limit", strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64))

		if !limiter.Allow() {
			c.Header("Retry-After", "1")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "rate limit exceeded, try again later",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
