package server

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/tylerbuilds/scrum-mcp/internal/logging"
)

// AuthConfig enables API key checks on /api routes.
type AuthConfig struct {
	Enabled bool
	Keys    []string
}

// authMiddleware rejects with 401 when no key is presented and 403 when the
// key is unknown. Keys arrive via X-API-Key or a bearer token.
func authMiddleware(cfg AuthConfig) gin.HandlerFunc {
	valid := make(map[string]bool, len(cfg.Keys))
	for _, k := range cfg.Keys {
		if k != "" {
			valid[k] = true
		}
	}
	return func(c *gin.Context) {
		if !cfg.Enabled {
			c.Next()
			return
		}
		key := presentedKey(c.Request)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, envelope{OK: false, Error: "missing API key"})
			return
		}
		if !valid[key] {
			c.AbortWithStatusJSON(http.StatusForbidden, envelope{OK: false, Error: "invalid API key"})
			return
		}
		c.Next()
	}
}

func presentedKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// rateLimitEntry tracks one client's limiter.
type rateLimitEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type rateLimiter struct {
	mu          sync.Mutex
	limit       rate.Limit
	burst       int
	entries     map[string]*rateLimitEntry
	entryTTL    time.Duration
	lastCleanup time.Time
}

func newRateLimiter(requestsPerMinute int) *rateLimiter {
	return &rateLimiter{
		limit:       rate.Every(time.Minute / time.Duration(requestsPerMinute)),
		burst:       requestsPerMinute,
		entries:     make(map[string]*rateLimitEntry),
		entryTTL:    15 * time.Minute,
		lastCleanup: time.Now(),
	}
}

func (r *rateLimiter) allow(key string) bool {
	if r == nil || key == "" {
		return true
	}
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if now.Sub(r.lastCleanup) > 5*time.Minute {
		for k, e := range r.entries {
			if now.Sub(e.lastSeen) > r.entryTTL {
				delete(r.entries, k)
			}
		}
		r.lastCleanup = now
	}

	entry, ok := r.entries[key]
	if !ok {
		entry = &rateLimitEntry{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.entries[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}

// rateLimitMiddleware limits per API key, falling back to client IP.
func rateLimitMiddleware(requestsPerMinute int) gin.HandlerFunc {
	if requestsPerMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	limiter := newRateLimiter(requestsPerMinute)
	return func(c *gin.Context) {
		key := presentedKey(c.Request)
		if key == "" {
			key = c.ClientIP()
		}
		if !limiter.allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, envelope{OK: false, Error: "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// requestLogMiddleware logs one line per request at debug.
func requestLogMiddleware(logger logging.Logger) gin.HandlerFunc {
	logger = logging.OrNop(logger)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("%s %s -> %d (%s)",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
