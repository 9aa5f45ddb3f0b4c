package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"gae-orchestrator/internal/shared/server/respond"
)

// RateLimitRule is a token bucket: Rate tokens per second up to Burst.
type RateLimitRule struct {
	Rate  float64
	Burst int
}

// RateLimiter keeps one token bucket per client.
type RateLimiter struct {
	mu       sync.Mutex
	rule     RateLimitRule
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

func NewRateLimiter(rule RateLimitRule, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{rule: rule, limiters: make(map[string]*rate.Limiter), now: now}
}

// Allow takes a token for key, or reports how long until one is available.
func (l *RateLimiter) Allow(key string) (bool, time.Duration) {
	if l == nil || l.rule.Rate <= 0 || l.rule.Burst <= 0 {
		return true, 0
	}
	now := l.now()
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.rule.Rate), l.rule.Burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()

	r := lim.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// RateLimit rejects clients that exceed the limiter with 429.
func RateLimit(l *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, retryAfter := l.Allow(c.ClientIP())
		if allowed {
			c.Next()
			return
		}
		seconds := int(math.Ceil(retryAfter.Seconds()))
		if seconds <= 0 {
			seconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(seconds))
		respond.Error(c, http.StatusTooManyRequests, "rate_limited", "too many requests", gin.H{"retryAfterMs": retryAfter.Milliseconds()})
	}
}
