package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/use-agent/picketline/config"
	"github.com/use-agent/picketline/metrics"
	"github.com/use-agent/picketline/models"
)

// idleLimiterTTL is how long an unused bucket is kept.
const idleLimiterTTL = time.Hour

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// buckets holds one token bucket per caller identity.
type buckets struct {
	limit rate.Limit
	burst int

	mu   sync.Mutex
	byID map[string]*bucket
}

func newBuckets(cfg config.RateLimitConfig) *buckets {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &buckets{
		limit: rate.Limit(cfg.RequestsPerSecond),
		burst: burst,
		byID:  make(map[string]*bucket),
	}
}

func (b *buckets) get(id string, now time.Time) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.byID[id]
	if !ok {
		e = &bucket{limiter: rate.NewLimiter(b.limit, b.burst)}
		b.byID[id] = e
	}
	e.lastSeen = now
	return e.limiter
}

func (b *buckets) evictIdle(cutoff time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for id, e := range b.byID {
		if e.lastSeen.Before(cutoff) {
			delete(b.byID, id)
			n++
		}
	}
	return n
}

// RateLimit returns per-caller token-bucket rate limiting middleware. The
// caller is the API key set by Auth, or the client IP without one.
//
// A refused request gets a 429 with Retry-After. Buckets idle for an hour
// are evicted every 5 minutes until ctx ends.
func RateLimit(ctx context.Context, cfg config.RateLimitConfig) gin.HandlerFunc {
	b := newBuckets(cfg)

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				b.evictIdle(now.Add(-idleLimiterTTL))
			}
		}
	}()

	return func(c *gin.Context) {
		id := c.GetString(APIKeyContextKey)
		if id == "" {
			id = c.ClientIP()
		}

		now := time.Now()
		r := b.get(id, now).ReserveN(now, 1)
		if delay := r.DelayFrom(now); !r.OK() || delay > 0 {
			r.CancelAt(now)
			secs := 1
			if r.OK() {
				secs = int(math.Ceil(delay.Seconds()))
			}
			metrics.APIRejections.WithLabelValues("rate_limited").Inc()
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.ErrorResponse{
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeRateLimited,
					Message: "rate limit exceeded, please slow down",
				},
			})
			return
		}
		c.Next()
	}
}
