package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/txserver/internal/platform/fhir"
)

// RateLimitConfig holds the per-client token bucket settings.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// idleBucketTTL is how long a client bucket survives without requests.
const idleBucketTTL = 10 * time.Minute

type bucket struct {
	tokens float64
	seen   time.Time
}

// clientLimiter keeps one token bucket per client key under a single lock.
// Buckets idle for longer than idleBucketTTL are swept on the next request
// after the TTL elapses, so the map does not grow with every address seen.
type clientLimiter struct {
	rate  float64
	burst float64

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

func newClientLimiter(cfg RateLimitConfig) *clientLimiter {
	burst := float64(cfg.BurstSize)
	if burst < 1 {
		burst = 1
	}
	return &clientLimiter{
		rate:      cfg.RequestsPerSecond,
		burst:     burst,
		buckets:   make(map[string]*bucket),
		lastSweep: time.Now(),
	}
}

// take consumes a token for key. It reports the tokens left, and when the
// request is refused, the whole seconds until a token is available.
func (l *clientLimiter) take(key string, now time.Time) (remaining int, wait int, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > idleBucketTTL {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > idleBucketTTL {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, found := l.buckets[key]
	if !found {
		b = &bucket{tokens: l.burst, seen: now}
		l.buckets[key] = b
	}
	b.tokens = math.Min(l.burst, b.tokens+now.Sub(b.seen).Seconds()*l.rate)
	b.seen = now

	if b.tokens < 1 {
		return 0, int(math.Ceil((1 - b.tokens) / l.rate)), false
	}
	b.tokens--
	return int(b.tokens), 0, true
}

// RateLimit limits requests per client IP. Rejected requests receive 429
// with a Retry-After header and an OperationOutcome. A non-positive rate
// disables limiting.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if cfg.RequestsPerSecond <= 0 {
			return next
		}
		limiter := newClientLimiter(cfg)
		limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

		return func(c echo.Context) error {
			remaining, wait, ok := limiter.take(c.RealIP(), time.Now())
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !ok {
				if wait < 1 {
					wait = 1
				}
				h.Set("Retry-After", strconv.Itoa(wait))
				return c.JSON(http.StatusTooManyRequests, fhir.ThrottleOutcome())
			}
			return next(c)
		}
	}
}
