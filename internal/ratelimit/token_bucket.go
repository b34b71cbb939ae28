package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// defaultCleanupInterval is how often stale client buckets are removed.
	defaultCleanupInterval = 5 * time.Minute

	// defaultBucketTTL is how long an idle client bucket is kept.
	defaultBucketTTL = 10 * time.Minute
)

// TokenBucketLimiter implements the token bucket algorithm with an
// independent bucket per client key. Buckets refill at a fixed rate up
// to the configured burst. A background goroutine drops buckets that
// have been idle for the bucket TTL so the key space cannot grow
// without bound.
type TokenBucketLimiter struct {
	rps    float64
	burst  int
	logger *zap.Logger

	buckets sync.Map

	cleanupInterval time.Duration
	bucketTTL       time.Duration
	stopCleanup     chan struct{}
	cleanupOnce     sync.Once
}

// clientBucket holds the token bucket state for a single client key.
type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// NewTokenBucketLimiter creates a token bucket limiter that allows rps
// requests per second with the given burst per client key.
func NewTokenBucketLimiter(rps float64, burst int, logger *zap.Logger) *TokenBucketLimiter {
	return NewTokenBucketLimiterWithTTL(rps, burst, defaultCleanupInterval, defaultBucketTTL, logger)
}

// NewTokenBucketLimiterWithTTL creates a token bucket limiter with
// custom cleanup interval and bucket TTL.
func NewTokenBucketLimiterWithTTL(
	rps float64,
	burst int,
	cleanupInterval, bucketTTL time.Duration,
	logger *zap.Logger,
) *TokenBucketLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if burst < 1 {
		burst = 1
	}
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}
	if bucketTTL <= 0 {
		bucketTTL = defaultBucketTTL
	}

	l := &TokenBucketLimiter{
		rps:             rps,
		burst:           burst,
		logger:          logger,
		cleanupInterval: cleanupInterval,
		bucketTTL:       bucketTTL,
		stopCleanup:     make(chan struct{}),
	}

	go l.startCleanupLoop()

	return l
}

// Allow implements Limiter.
func (l *TokenBucketLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	// Check for context cancellation before performing the operation
	// to fail fast and avoid unnecessary work.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now()
	b := l.bucket(key)
	b.lastSeen.Store(now.UnixNano())

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		// Cannot happen for a single request; burst is clamped to at
		// least 1 in the constructor.
		recordDecision(AlgorithmTokenBucket, false)
		return &Result{Allowed: false, Limit: l.burst}, nil
	}

	allowed := true
	var retryAfter time.Duration
	if delay := r.DelayFrom(now); delay > 0 {
		// The token is not available yet. Cancel the reservation
		// instead of waiting so the caller can reject immediately.
		r.CancelAt(now)
		allowed = false
		retryAfter = delay
	}

	tokens := b.limiter.TokensAt(now)
	remaining := int(tokens)
	if remaining < 0 {
		remaining = 0
	}

	recordDecision(AlgorithmTokenBucket, allowed)

	return &Result{
		Allowed:    allowed,
		Limit:      l.burst,
		Remaining:  remaining,
		ResetAfter: l.timeToFull(tokens),
		RetryAfter: retryAfter,
	}, nil
}

// bucket returns the bucket for the given key, creating it if needed.
func (l *TokenBucketLimiter) bucket(key string) *clientBucket {
	if value, ok := l.buckets.Load(key); ok {
		return value.(*clientBucket)
	}

	b := &clientBucket{
		limiter: rate.NewLimiter(rate.Limit(l.rps), l.burst),
	}
	value, _ := l.buckets.LoadOrStore(key, b)
	return value.(*clientBucket)
}

// timeToFull returns the duration until a bucket with the given token
// count is completely refilled.
func (l *TokenBucketLimiter) timeToFull(tokens float64) time.Duration {
	deficit := float64(l.burst) - tokens
	if deficit <= 0 || l.rps <= 0 {
		return 0
	}
	return time.Duration(deficit / l.rps * float64(time.Second))
}

// startCleanupLoop periodically removes stale buckets until Close.
func (l *TokenBucketLimiter) startCleanupLoop() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Cleanup()
		case <-l.stopCleanup:
			return
		}
	}
}

// Cleanup removes buckets that have not been used for the bucket TTL.
func (l *TokenBucketLimiter) Cleanup() {
	cutoff := time.Now().Add(-l.bucketTTL).UnixNano()

	l.buckets.Range(func(key, value interface{}) bool {
		if value.(*clientBucket).lastSeen.Load() < cutoff {
			l.buckets.Delete(key)
		}
		return true
	})
}

// Close stops the cleanup goroutine.
// Close is idempotent - calling it multiple times is safe.
func (l *TokenBucketLimiter) Close() error {
	l.cleanupOnce.Do(func() {
		close(l.stopCleanup)
	})
	return nil
}
