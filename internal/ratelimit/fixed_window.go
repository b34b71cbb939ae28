package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// defaultRedisPrefix is the key prefix for fixed window counters.
const defaultRedisPrefix = "tktauth:ratelimit:"

// FixedWindowLimiter implements the fixed window algorithm on Redis so
// the limit is shared across service instances. Time is divided into
// fixed windows and each client key gets one counter per window,
// incremented with INCR and expired with EXPIRE.
type FixedWindowLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
	logger *zap.Logger

	closed bool
	mu     sync.Mutex
}

// NewFixedWindowLimiter creates a fixed window limiter backed by the
// given Redis client. The limiter owns the client and closes it on
// Close.
func NewFixedWindowLimiter(
	client *redis.Client,
	limit int,
	window time.Duration,
	logger *zap.Logger,
) *FixedWindowLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit < 1 {
		limit = 1
	}

	return &FixedWindowLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: defaultRedisPrefix,
		logger: logger,
	}
}

// Allow implements Limiter.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	// Check for context cancellation before performing the operation
	// to fail fast and avoid unnecessary work.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error before redis incr: %w", err)
	}

	now := time.Now()
	windowStart := l.windowStart(now)
	windowKey := fmt.Sprintf("%s%s:%d", l.prefix, key, windowStart.UnixNano())

	count, err := l.client.Incr(ctx, windowKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis incr error: %w", err)
	}

	if count == 1 {
		// First request in this window owns the expiry. Add a buffer
		// second so clock skew between instances cannot drop the
		// counter while the window is still open.
		if err := l.client.Expire(ctx, windowKey, l.window+time.Second).Err(); err != nil {
			l.logger.Warn("failed to set window expiry", zap.Error(err))
		}
	}

	allowed := count <= int64(l.limit)

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	resetAfter := windowStart.Add(l.window).Sub(now)
	if resetAfter < 0 {
		resetAfter = 0
	}

	var retryAfter time.Duration
	if !allowed {
		retryAfter = resetAfter
	}

	recordDecision(AlgorithmFixedWindow, allowed)

	return &Result{
		Allowed:    allowed,
		Limit:      l.limit,
		Remaining:  remaining,
		ResetAfter: resetAfter,
		RetryAfter: retryAfter,
	}, nil
}

// windowStart returns the start time of the window containing t.
func (l *FixedWindowLimiter) windowStart(t time.Time) time.Time {
	windowNanos := l.window.Nanoseconds()
	return time.Unix(0, (t.UnixNano()/windowNanos)*windowNanos)
}

// Close closes the underlying Redis client.
// Close is idempotent - calling it multiple times is safe.
func (l *FixedWindowLimiter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.client.Close()
}
