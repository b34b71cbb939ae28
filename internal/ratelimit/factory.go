package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// redisDialTimeout bounds the connectivity check at construction.
const redisDialTimeout = 5 * time.Second

// Config holds configuration for creating a rate limiter.
type Config struct {
	// Enabled controls whether rate limiting is active. When false,
	// NewLimiter returns a NoopLimiter.
	Enabled bool

	// Algorithm is the rate limiting algorithm to use.
	Algorithm Algorithm

	// RequestsPerSecond is the sustained request rate per client key.
	RequestsPerSecond float64

	// Burst is the maximum burst size (for token bucket algorithm).
	Burst int

	// Window is the time window (for fixed window algorithm).
	Window time.Duration

	// Redis configuration (for fixed window algorithm)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Logger for the rate limiter.
	Logger *zap.Logger
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Enabled:           false,
		Algorithm:         AlgorithmTokenBucket,
		RequestsPerSecond: 50,
		Burst:             100,
		Window:            time.Second,
		RedisAddr:         "localhost:6379",
	}
}

// NewLimiter creates a rate limiter based on the configuration.
func NewLimiter(config *Config) (Limiter, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return NewNoopLimiter(), nil
	}

	switch config.Algorithm {
	case AlgorithmTokenBucket, "":
		return NewTokenBucketLimiter(config.RequestsPerSecond, config.Burst, config.Logger), nil

	case AlgorithmFixedWindow:
		return newFixedWindowFromConfig(config)

	default:
		return nil, fmt.Errorf("unknown rate limit algorithm: %s", config.Algorithm)
	}
}

// newFixedWindowFromConfig connects to Redis and builds a fixed window
// limiter. The window limit is derived from the sustained rate and the
// window length.
func newFixedWindowFromConfig(config *Config) (*FixedWindowLimiter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        config.RedisAddr,
		Password:    config.RedisPassword,
		DB:          config.RedisDB,
		DialTimeout: redisDialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	limit := int(config.RequestsPerSecond * config.Window.Seconds())
	if limit < 1 {
		limit = 1
	}

	return NewFixedWindowLimiter(client, limit, config.Window, config.Logger), nil
}
