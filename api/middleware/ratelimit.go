package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pagegate/config"
	"github.com/use-agent/pagegate/models"
	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL   = time.Hour
	limiterSweepTick = 5 * time.Minute
)

// limiterSet holds one token bucket per caller identity.
type limiterSet struct {
	mu      sync.Mutex
	every   rate.Limit
	burst   int
	buckets map[string]*bucket
}

type bucket struct {
	*rate.Limiter
	lastSeen time.Time
}

func newLimiterSet(cfg config.RateLimitConfig) *limiterSet {
	return &limiterSet{
		every:   rate.Limit(cfg.RequestsPerSecond),
		burst:   cfg.Burst,
		buckets: make(map[string]*bucket),
	}
}

func (s *limiterSet) allow(identity string, now time.Time) bool {
	s.mu.Lock()
	b, ok := s.buckets[identity]
	if !ok {
		b = &bucket{Limiter: rate.NewLimiter(s.every, s.burst)}
		s.buckets[identity] = b
	}
	b.lastSeen = now
	s.mu.Unlock()
	return b.AllowN(now, 1)
}

// sweep drops buckets idle since before cutoff.
func (s *limiterSet) sweep(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, b := range s.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(s.buckets, id)
			n++
		}
	}
	return n
}

func (s *limiterSet) sweepUntil(ctx context.Context) {
	ticker := time.NewTicker(limiterSweepTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sweep(now.Add(-limiterIdleTTL))
		}
	}
}

// retryAfter is the whole number of seconds until one token refills.
func retryAfter(rps float64) string {
	if rps <= 0 {
		return ""
	}
	return strconv.Itoa(int(math.Ceil(1 / rps)))
}

// RateLimit limits requests per API key, or per client IP when the request
// is unauthenticated. Idle buckets are swept until ctx ends.
func RateLimit(ctx context.Context, cfg config.RateLimitConfig) gin.HandlerFunc {
	set := newLimiterSet(cfg)
	go set.sweepUntil(ctx)
	wait := retryAfter(cfg.RequestsPerSecond)

	return func(c *gin.Context) {
		identity := c.GetString(ContextKeyAPIKey)
		if identity == "" {
			identity = c.ClientIP()
		}

		if !set.allow(identity, time.Now()) {
			if wait != "" {
				c.Header("Retry-After", wait)
			}
			abort(c, http.StatusTooManyRequests, models.ErrCodeRateLimited, "rate limit exceeded, please slow down")
			return
		}
		c.Next()
	}
}
