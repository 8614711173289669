package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	errorValueRateLimited  = "rate_limited"
	rateLimiterIdleTimeout = 10 * time.Minute
)

// RequestLogger logs one line per request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(context *gin.Context) {
		start := time.Now()
		context.Next()
		logger.Info("http",
			zap.String("method", context.Request.Method),
			zap.String("path", context.Request.URL.Path),
			zap.Int("status", context.Writer.Status()),
			zap.Duration("dur", time.Since(start)),
			zap.String("ip", context.ClientIP()),
			zap.String("ua", context.Request.UserAgent()),
		)
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientRateLimiter throttles requests per client IP.
type ClientRateLimiter struct {
	mutex       sync.Mutex
	limit       rate.Limit
	burst       int
	limiters    map[string]*clientLimiter
	lastCleanup time.Time
	now         func() time.Time
}

// NewClientRateLimiter allows requestsPerMinute per client IP. A non-positive value disables limiting.
func NewClientRateLimiter(requestsPerMinute int) *ClientRateLimiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	return &ClientRateLimiter{
		limit:    rate.Every(time.Minute / time.Duration(requestsPerMinute)),
		burst:    requestsPerMinute,
		limiters: make(map[string]*clientLimiter),
		now:      time.Now,
	}
}

// Allow reports whether the client may make another request now.
func (rateLimiter *ClientRateLimiter) Allow(clientIP string) bool {
	if rateLimiter == nil {
		return true
	}
	rateLimiter.mutex.Lock()
	defer rateLimiter.mutex.Unlock()

	now := rateLimiter.now()
	if now.Sub(rateLimiter.lastCleanup) > rateLimiterIdleTimeout {
		for key, entry := range rateLimiter.limiters {
			if now.Sub(entry.lastSeen) > rateLimiterIdleTimeout {
				delete(rateLimiter.limiters, key)
			}
		}
		rateLimiter.lastCleanup = now
	}

	entry, exists := rateLimiter.limiters[clientIP]
	if !exists {
		entry = &clientLimiter{limiter: rate.NewLimiter(rateLimiter.limit, rateLimiter.burst)}
		rateLimiter.limiters[clientIP] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// Middleware rejects throttled clients with 429.
func (rateLimiter *ClientRateLimiter) Middleware() gin.HandlerFunc {
	return func(context *gin.Context) {
		if !rateLimiter.Allow(context.ClientIP()) {
			context.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{jsonKeyError: errorValueRateLimited})
			return
		}
		context.Next()
	}
}
