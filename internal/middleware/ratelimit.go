package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/tktauth/internal/ratelimit"
)

// KeyFunc extracts the rate limit key from a request.
type KeyFunc func(c *gin.Context) string

// IPKeyFunc keys requests by resolved client address.
func IPKeyFunc(c *gin.Context) string {
	addr := ClientIPFromContext(c)
	if !addr.IsValid() {
		return "ip:unknown"
	}
	return "ip:" + addr.String()
}

// RateLimitConfig holds configuration for the rate limit middleware.
type RateLimitConfig struct {
	// Limiter is the rate limiter to use.
	Limiter ratelimit.Limiter

	// KeyFunc extracts the rate limit key from the request.
	KeyFunc KeyFunc

	// Logger for rate limit events.
	Logger *zap.Logger

	// SkipPaths lists paths exempt from rate limiting.
	SkipPaths []string

	// IncludeHeaders controls the X-RateLimit response headers.
	IncludeHeaders bool
}

// DefaultRateLimitConfig returns a RateLimitConfig with default values.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		KeyFunc:        IPKeyFunc,
		IncludeHeaders: true,
	}
}

// RateLimit returns a middleware that applies rate limiting with the
// given limiter and key function.
func RateLimit(limiter ratelimit.Limiter, keyFunc KeyFunc) gin.HandlerFunc {
	return RateLimitWithConfig(RateLimitConfig{
		Limiter:        limiter,
		KeyFunc:        keyFunc,
		IncludeHeaders: true,
	})
}

// RateLimitWithConfig returns a rate limit middleware with custom
// configuration. Limiter errors fail open: a broken Redis must not
// take authentication down with it.
func RateLimitWithConfig(config RateLimitConfig) gin.HandlerFunc {
	if config.Limiter == nil {
		config.Limiter = ratelimit.NewNoopLimiter()
	}
	if config.KeyFunc == nil {
		config.KeyFunc = IPKeyFunc
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	skipPaths := make(map[string]bool)
	for _, path := range config.SkipPaths {
		skipPaths[path] = true
	}

	return func(c *gin.Context) {
		if skipPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		key := config.KeyFunc(c)

		result, err := config.Limiter.Allow(c.Request.Context(), key)
		if err != nil {
			config.Logger.Warn("rate limit check failed",
				zap.String("key", key),
				zap.Error(err),
			)
			// Allow request on error to avoid blocking
			c.Next()
			return
		}

		if config.IncludeHeaders {
			c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			c.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(result.ResetAfter).Unix(), 10))
		}

		if !result.Allowed {
			if config.IncludeHeaders {
				c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
			}

			config.Logger.Debug("rate limit exceeded",
				zap.String("key", key),
				zap.Int("limit", result.Limit),
			)

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": int(result.RetryAfter.Seconds()),
			})
			return
		}

		c.Next()
	}
}
