package ratelimit

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketLimiter_Allow(t *testing.T) {
	// Create a limiter with 10 requests per second and burst of 5
	limiter := NewTokenBucketLimiter(10, 5, nil)
	defer limiter.Close()

	ctx := context.Background()
	key := "test-key"

	// First 5 requests should be allowed (burst)
	for i := 0; i < 5; i++ {
		result, err := limiter.Allow(ctx, key)
		require.NoError(t, err)
		assert.True(t, result.Allowed, "request %d should be allowed", i+1)
	}

	// 6th request should be denied (burst exhausted)
	result, err := limiter.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, result.Allowed, "6th request should be denied")
	assert.Greater(t, result.RetryAfter, time.Duration(0), "retry after should be positive")
}

func TestTokenBucketLimiter_Refill(t *testing.T) {
	// Create a limiter with 100 requests per second and burst of 1
	limiter := NewTokenBucketLimiter(100, 1, nil)
	defer limiter.Close()

	ctx := context.Background()
	key := "test-key"

	// First request should be allowed
	result, err := limiter.Allow(ctx, key)
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	// Second request should be denied
	result, err = limiter.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	// Wait for refill (10ms for 1 token at 100/s)
	time.Sleep(15 * time.Millisecond)

	// Third request should be allowed
	result, err = limiter.Allow(ctx, key)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestTokenBucketLimiter_DifferentKeys(t *testing.T) {
	limiter := NewTokenBucketLimiter(10, 2, nil)
	defer limiter.Close()

	ctx := context.Background()

	// Exhaust key1
	for i := 0; i < 2; i++ {
		result, err := limiter.Allow(ctx, "key1")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}

	// key1 should be exhausted
	result, err := limiter.Allow(ctx, "key1")
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	// key2 should still have tokens
	result, err = limiter.Allow(ctx, "key2")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestTokenBucketLimiter_ResultFields(t *testing.T) {
	limiter := NewTokenBucketLimiter(10, 3, nil)
	defer limiter.Close()

	ctx := context.Background()

	result, err := limiter.Allow(ctx, "test-key")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 3, result.Limit)
	assert.Equal(t, 2, result.Remaining)
	assert.Greater(t, result.ResetAfter, time.Duration(0))
	assert.Equal(t, time.Duration(0), result.RetryAfter)
}

func TestTokenBucketLimiter_ContextCancellation(t *testing.T) {
	limiter := NewTokenBucketLimiter(10, 5, nil)
	defer limiter.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := limiter.Allow(ctx, "test-key")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTokenBucketLimiter_BurstFloor(t *testing.T) {
	// A burst below 1 is clamped so single requests can still pass
	limiter := NewTokenBucketLimiter(10, 0, nil)
	defer limiter.Close()

	result, err := limiter.Allow(context.Background(), "test-key")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 1, result.Limit)
}

func TestTokenBucketLimiter_Cleanup(t *testing.T) {
	// Long cleanup interval so only the explicit Cleanup call runs
	limiter := NewTokenBucketLimiterWithTTL(10, 2, time.Hour, 10*time.Millisecond, nil)
	defer limiter.Close()

	ctx := context.Background()

	_, err := limiter.Allow(ctx, "stale-key")
	require.NoError(t, err)
	assert.Equal(t, 1, countBuckets(limiter))

	// Wait past the bucket TTL, then clean up
	time.Sleep(20 * time.Millisecond)
	limiter.Cleanup()

	assert.Equal(t, 0, countBuckets(limiter))
}

func TestTokenBucketLimiter_CleanupKeepsActiveBuckets(t *testing.T) {
	limiter := NewTokenBucketLimiterWithTTL(10, 2, time.Hour, time.Hour, nil)
	defer limiter.Close()

	ctx := context.Background()

	_, err := limiter.Allow(ctx, "active-key")
	require.NoError(t, err)

	limiter.Cleanup()

	assert.Equal(t, 1, countBuckets(limiter))
}

func countBuckets(l *TokenBucketLimiter) int {
	count := 0
	l.buckets.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}

func TestTokenBucketLimiter_ImplementsCloser(t *testing.T) {
	limiter := NewTokenBucketLimiter(10, 5, nil)
	defer limiter.Close()

	assert.Implements(t, (*io.Closer)(nil), limiter)
}

func TestTokenBucketLimiter_MultipleCloseCalls(t *testing.T) {
	limiter := NewTokenBucketLimiter(10, 5, nil)

	require.NoError(t, limiter.Close())
	require.NoError(t, limiter.Close())
	require.NoError(t, limiter.Close())
}

func TestTokenBucketLimiter_ConcurrentClose(t *testing.T) {
	limiter := NewTokenBucketLimiter(10, 5, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, limiter.Close())
		}()
	}
	wg.Wait()
}

func TestTokenBucketLimiter_AllowAfterClose(t *testing.T) {
	// Close only stops the cleanup goroutine; existing buckets keep
	// limiting so an early shutdown cannot open the gates
	limiter := NewTokenBucketLimiter(10, 1, nil)
	require.NoError(t, limiter.Close())

	ctx := context.Background()

	result, err := limiter.Allow(ctx, "test-key")
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	result, err = limiter.Allow(ctx, "test-key")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}
