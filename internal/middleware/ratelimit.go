package middleware

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	appErrors "github.com/noah-isme/academy-crm-api/pkg/errors"
	"github.com/noah-isme/academy-crm-api/pkg/response"
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// IPRateLimiter keeps one token bucket per client IP. Buckets idle longer than the
// idle TTL are dropped by Evict.
type IPRateLimiter struct {
	limiters sync.Map
	rate     rate.Limit
	burst    int
	idleTTL  time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewIPRateLimiter allows perMinute requests per IP with the given burst.
func NewIPRateLimiter(perMinute, burst int, idleTTL time.Duration, logger *zap.Logger) *IPRateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if burst <= 0 {
		burst = 1
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(float64(perMinute) / 60.0)
	}
	return &IPRateLimiter{rate: limit, burst: burst, idleTTL: idleTTL, logger: logger, now: time.Now}
}

func (l *IPRateLimiter) limiter(ip string) *rate.Limiter {
	entry, ok := l.limiters.Load(ip)
	if !ok {
		entry, _ = l.limiters.LoadOrStore(ip, &clientLimiter{limiter: rate.NewLimiter(l.rate, l.burst)})
	}
	client := entry.(*clientLimiter)
	client.lastSeen.Store(l.now().UnixNano())
	return client.limiter
}

// Evict drops buckets that have not been used within the idle TTL and returns how many went.
func (l *IPRateLimiter) Evict() int {
	cutoff := l.now().Add(-l.idleTTL).UnixNano()
	removed := 0
	l.limiters.Range(func(key, value any) bool {
		if value.(*clientLimiter).lastSeen.Load() < cutoff {
			l.limiters.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// Len reports how many client buckets are tracked.
func (l *IPRateLimiter) Len() int {
	n := 0
	l.limiters.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// RunJanitor evicts idle buckets every interval until ctx is done.
func (l *IPRateLimiter) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := l.Evict(); removed > 0 {
				l.logger.Debug("rate limit buckets evicted", zap.Int("removed", removed))
			}
		}
	}
}

// RateLimit rejects requests over the bucket with 429.
func (l *IPRateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !l.limiter(ip).Allow() {
			l.logger.Warn("rate limit exceeded", zap.String("ip", ip), zap.String("path", c.FullPath()))
			c.Header("Retry-After", strconv.Itoa(l.retryAfterSeconds()))
			response.Error(c, appErrors.ErrTooManyRequests)
			c.Abort()
			return
		}
		c.Next()
	}
}

func (l *IPRateLimiter) retryAfterSeconds() int {
	if l.rate == rate.Inf || l.rate <= 0 {
		return 1
	}
	seconds := int(1/float64(l.rate)) + 1
	if seconds < 1 {
		return 1
	}
	return seconds
}
