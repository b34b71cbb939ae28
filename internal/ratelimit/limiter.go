// Package ratelimit provides request throttling for the ticket service.
// It supports an in-memory token bucket for single-instance deployments
// and a Redis-backed fixed window for multi-instance deployments.
package ratelimit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Limiter defines the interface for rate limiting.
type Limiter interface {
	// Allow checks if a single request is allowed for the given key.
	Allow(ctx context.Context, key string) (*Result, error)

	// Close releases limiter resources.
	Close() error
}

// Result represents the result of a rate limit check.
type Result struct {
	// Allowed indicates whether the request is allowed.
	Allowed bool

	// Limit is the maximum number of requests allowed.
	Limit int

	// Remaining is the number of requests remaining in the current window.
	Remaining int

	// ResetAfter is the duration until the rate limit resets.
	ResetAfter time.Duration

	// RetryAfter is the duration to wait before retrying (when not allowed).
	RetryAfter time.Duration
}

// Algorithm represents the rate limiting algorithm type.
type Algorithm string

const (
	// AlgorithmTokenBucket uses the token bucket algorithm.
	AlgorithmTokenBucket Algorithm = "token_bucket"

	// AlgorithmFixedWindow uses the fixed window algorithm.
	AlgorithmFixedWindow Algorithm = "fixed_window"
)

// Prometheus metrics for rate limit decisions
var rateLimitDecisionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tktauth",
		Subsystem: "ratelimit",
		Name:      "decisions_total",
		Help:      "Total number of rate limit decisions",
	},
	[]string{"algorithm", "decision"},
)

func init() {
	prometheus.MustRegister(rateLimitDecisionsTotal)
}

// recordDecision records a rate limit decision metric.
func recordDecision(algorithm Algorithm, allowed bool) {
	decision := "allowed"
	if !allowed {
		decision = "denied"
	}
	rateLimitDecisionsTotal.WithLabelValues(string(algorithm), decision).Inc()
}

// NoopLimiter is a rate limiter that always allows requests.
type NoopLimiter struct{}

// NewNoopLimiter creates a new noop limiter.
func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

// Allow implements Limiter.
func (l *NoopLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	return &Result{
		Allowed:    true,
		Limit:      0,
		Remaining:  0,
		ResetAfter: 0,
		RetryAfter: 0,
	}, nil
}

// Close implements Limiter.
func (l *NoopLimiter) Close() error {
	return nil
}
