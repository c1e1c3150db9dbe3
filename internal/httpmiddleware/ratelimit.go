package httpmiddleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// KeyFunc picks the bucket a request is charged against.
type KeyFunc func(c *gin.Context) string

// ClientIP charges requests per client address.
func ClientIP(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return "unknown"
}

// ClientBatch charges requests per client address and batch, so a busy
// scanner in one batch cannot starve another.
func ClientBatch(c *gin.Context) string {
	return ClientIP(c) + "|" + c.Param("batch")
}

// TokenBucket is an in-memory rate limiter keyed by KeyFunc.
type TokenBucket struct {
	capacity float64
	perSec   float64
	key      KeyFunc
	now      func() time.Time

	mu    sync.Mutex
	state map[string]*bucket
}

type bucket struct {
	tokens float64
	last   time.Time
}

// LimiterOption configures a TokenBucket.
type LimiterOption func(*TokenBucket)

// WithKey replaces the default per-IP key.
func WithKey(fn KeyFunc) LimiterOption {
	return func(l *TokenBucket) { l.key = fn }
}

// WithLimiterClock overrides the clock used for refills.
func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(l *TokenBucket) { l.now = now }
}

// NewTokenBucket creates a limiter holding capacity tokens per key and
// refilling perMinute tokens every minute. A non-positive capacity means
// capacity equals perMinute.
func NewTokenBucket(capacity, perMinute int, opts ...LimiterOption) *TokenBucket {
	if capacity <= 0 {
		capacity = perMinute
	}
	l := &TokenBucket{
		capacity: float64(capacity),
		perSec:   float64(perMinute) / 60,
		key:      ClientIP,
		now:      time.Now,
		state:    make(map[string]*bucket),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// GinMiddleware returns a gin handler that answers 429 once a key runs dry.
func (l *TokenBucket) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(l.key(c)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit"})
			return
		}
		c.Next()
	}
}

// Allow spends one token for key if one is available.
func (l *TokenBucket) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.state[key]
	if !ok {
		if l.capacity < 1 {
			return false
		}
		l.state[key] = &bucket{tokens: l.capacity - 1, last: now}
		return true
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens += elapsed * l.perSec
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.last = now
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
