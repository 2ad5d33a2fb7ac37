package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPLimiters hands out one token bucket per client IP and forgets idle IPs.
type IPLimiters struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	r        rate.Limit
	b        int
	idle     time.Duration
}

// NewIPLimiters creates a per-IP limiter set. r = requests per second, b = burst.
func NewIPLimiters(r rate.Limit, b int) *IPLimiters {
	return &IPLimiters{
		limiters: make(map[string]*ipLimiter),
		r:        r,
		b:        b,
		idle:     10 * time.Minute,
	}
}

// Allow consumes one token for ip.
func (l *IPLimiters) Allow(ip string) bool {
	now := time.Now()
	l.mu.Lock()
	il, ok := l.limiters[ip]
	if !ok {
		il = &ipLimiter{limiter: rate.NewLimiter(l.r, l.b)}
		l.limiters[ip] = il
	}
	il.lastSeen = now
	l.mu.Unlock()
	return il.limiter.Allow()
}

// Sweep drops limiters idle for longer than the idle window and returns how
// many were removed.
func (l *IPLimiters) Sweep() int {
	cutoff := time.Now().Add(-l.idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for ip, il := range l.limiters {
		if il.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
			n++
		}
	}
	return n
}

// Len returns the number of tracked IPs.
func (l *IPLimiters) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// RateLimit provides per-IP token-bucket rate limiting on every request.
func RateLimit(l *IPLimiters) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// RateLimitPOST limits only POSTs whose path starts with one of prefixes.
// Used to slow down credential guessing on login and signup.
func RateLimitPOST(l *IPLimiters, prefixes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost {
			c.Next()
			return
		}
		path := c.Request.URL.Path
		for _, p := range prefixes {
			if strings.HasPrefix(path, p) {
				if !l.Allow(c.ClientIP()) {
					c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many attempts, slow down"})
					return
				}
				break
			}
		}
		c.Next()
	}
}
