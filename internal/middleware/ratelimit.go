package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Limiter decides whether a request identified by key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RateLimiter is a per-process token bucket per key
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(rps int, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(rps),
		burst:    burst,
	}
}

// getLimiter returns a rate limiter for a specific key
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[key]
	rl.mu.RUnlock()

	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check after acquiring write lock
	limiter, exists = rl.limiters[key]
	if exists {
		return limiter
	}

	limiter = rate.NewLimiter(rl.rate, rl.burst)
	rl.limiters[key] = limiter

	return limiter
}

// Allow takes a token for key
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return rl.getLimiter(key).Allow(), nil
}

// WindowCounter counts requests in a fixed window shared across replicas
type WindowCounter interface {
	CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, error)
}

// SharedRateLimiter applies a fixed-window limit through a shared counter
type SharedRateLimiter struct {
	counter WindowCounter
	limit   int64
	window  time.Duration
}

// NewSharedRateLimiter creates a limiter allowing limit requests per window
func NewSharedRateLimiter(counter WindowCounter, limit int64, window time.Duration) *SharedRateLimiter {
	return &SharedRateLimiter{counter: counter, limit: limit, window: window}
}

// Allow counts the request against key
func (s *SharedRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return s.counter.CheckRateLimit(ctx, key, s.limit, s.window)
}

// RateLimit middleware limits requests per user, or per IP before authentication
func RateLimit(l Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Try to get user ID first
		userID, exists := c.Get(AuthContextKey)
		var key string

		if exists {
			key = fmt.Sprintf("user:%s", userID)
		} else {
			// Fall back to IP address
			key = fmt.Sprintf("ip:%s", c.ClientIP())
		}

		allowed, err := l.Allow(c.Request.Context(), key)
		if err != nil {
			// the counter being unavailable must not block playback
			c.Next()
			return
		}
		if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
