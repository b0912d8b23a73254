package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"bar-crm/internal/api/response"
)

type slidingWindow struct {
	mu         sync.Mutex
	timestamps []int64
}

// RateLimiter is a per-key sliding window held in process memory. Each
// instance owns its counters, so separate route groups do not share budget.
type RateLimiter struct {
	limit  int
	window time.Duration
	store  sync.Map
	now    func() time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{limit: limit, window: window, now: time.Now}
}

func (l *RateLimiter) ByClientIP() gin.HandlerFunc {
	return l.handler(func(c *gin.Context) string {
		return "ip:" + c.ClientIP()
	})
}

// ByParam keys on a route parameter such as the member id, falling back to
// the client address when the parameter is empty.
func (l *RateLimiter) ByParam(name string) gin.HandlerFunc {
	name = strings.TrimSpace(name)
	return l.handler(func(c *gin.Context) string {
		value := strings.ToLower(strings.TrimSpace(c.Param(name)))
		if value == "" {
			return "param:" + name + ":missing:" + c.ClientIP()
		}
		return "param:" + name + ":" + value
	})
}

// Allow records a hit for key and reports whether it fits in the window.
func (l *RateLimiter) Allow(key string) bool {
	if key == "" {
		key = "global"
	}

	entryAny, _ := l.store.LoadOrStore(key, &slidingWindow{
		timestamps: make([]int64, 0, l.limit),
	})
	entry := entryAny.(*slidingWindow)

	now := l.now().UnixNano()
	cutoff := now - l.window.Nanoseconds()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	next := entry.timestamps[:0]
	for _, ts := range entry.timestamps {
		if ts > cutoff {
			next = append(next, ts)
		}
	}
	entry.timestamps = next

	if len(entry.timestamps) >= l.limit {
		return false
	}
	entry.timestamps = append(entry.timestamps, now)
	return true
}

func (l *RateLimiter) handler(keyResolver func(c *gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(keyResolver(c)) {
			c.Header("Retry-After", retryAfterSeconds(l.window))
			response.Fail(c, http.StatusTooManyRequests, response.ErrRateLimited, "too many requests")
			c.Abort()
			return
		}
		c.Next()
	}
}

func retryAfterSeconds(window time.Duration) string {
	seconds := int64(window / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return strconv.FormatInt(seconds, 10)
}
