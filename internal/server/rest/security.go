package rest

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

func securityHeaders(hsts bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cross-Origin-Resource-Policy", "same-origin")
		if hsts {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}

// rateLimiter is a fixed-window counter per client IP. Counters are local
// to the worker process, so the effective cluster-wide limit is limit times
// the number of workers.
type rateLimiter struct {
	limit  int64
	window time.Duration
	hits   *cache.Cache
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:  int64(limit),
		window: window,
		hits:   cache.New(window, 2*window),
	}
}

// allow counts one hit for key and reports whether it is within the limit,
// plus the hits left in the current window.
func (l *rateLimiter) allow(key string) (bool, int64) {
	if err := l.hits.Add(key, int64(1), l.window); err == nil {
		return true, l.limit - 1
	}
	n, err := l.hits.IncrementInt64(key, 1)
	if err != nil {
		// the window expired between Add and Increment
		l.hits.Set(key, int64(1), l.window)
		n = 1
	}
	remaining := l.limit - n
	if remaining < 0 {
		remaining = 0
	}
	return n <= l.limit, remaining
}

func (l *rateLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, remaining := l.allow(c.ClientIP())
		c.Header("X-RateLimit-Limit", strconv.FormatInt(l.limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(l.window.Seconds())))
			fail(c, errRateLimited)
			return
		}
		c.Next()
	}
}
