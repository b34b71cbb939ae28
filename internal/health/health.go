// Package health provides liveness and readiness probe endpoints.
//
// Liveness reports whether the process is running and never depends on
// external systems. Readiness runs the registered dependency checks
// (secrets provider, rate limit store) and reports per-check status and
// latency; SetDraining flips readiness to unhealthy during shutdown so
// load balancers stop routing new requests before the listeners close.
//
// Create a checker and register checks:
//
//	checker := health.NewChecker(version, logger)
//	checker.RegisterCheck("secrets", health.ProviderCheck(provider))
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("/healthz", checker.LivenessHandler())
//	mux.HandleFunc("/readyz", checker.ReadinessHandler())
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/tktauth/internal/observability"
)

// HTTP header constants.
const (
	// HeaderContentType is the Content-Type header name.
	HeaderContentType = "Content-Type"
)

// Content type constants.
const (
	// ContentTypeJSON is the JSON content type.
	ContentTypeJSON = "application/json"
)

// DefaultProbeTimeout bounds how long a readiness probe may spend in
// dependency checks.
const DefaultProbeTimeout = 5 * time.Second

// jsonMarshalFunc is the JSON marshal function used by the handlers.
// It is a variable so tests can inject marshal failures.
var jsonMarshalFunc = json.Marshal

// Status represents the health status.
type Status string

const (
	// StatusHealthy indicates the service is healthy.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the service is unhealthy.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates the service is degraded but operational.
	StatusDegraded Status = "degraded"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    Status            `json:"status"`
	Version   string            `json:"version,omitempty"`
	Uptime    string            `json:"uptime,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// ReadinessResponse represents the readiness check response.
type ReadinessResponse struct {
	Status    Status           `json:"status"`
	Checks    map[string]Check `json:"checks,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Check represents an individual health check result.
type Check struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// CheckFunc is a function that performs a single dependency check. The
// context carries the probe deadline; implementations should honor it.
type CheckFunc func(ctx context.Context) Check

// Checker provides health and readiness checking functionality.
type Checker struct {
	version      string
	startTime    time.Time
	logger       observability.Logger
	metrics      *Metrics
	probeTimeout time.Duration

	mu     sync.RWMutex
	checks map[string]CheckFunc

	draining atomic.Bool
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithProbeTimeout sets the readiness probe timeout.
func WithProbeTimeout(timeout time.Duration) CheckerOption {
	return func(c *Checker) {
		if timeout > 0 {
			c.probeTimeout = timeout
		}
	}
}

// WithCheckerMetrics sets the metrics recorder.
func WithCheckerMetrics(m *Metrics) CheckerOption {
	return func(c *Checker) {
		c.metrics = m
	}
}

// NewChecker creates a new health checker.
func NewChecker(version string, logger observability.Logger, opts ...CheckerOption) *Checker {
	if logger == nil {
		logger = observability.NopLogger()
	}

	c := &Checker{
		version:      version,
		startTime:    time.Now(),
		logger:       logger,
		probeTimeout: DefaultProbeTimeout,
		checks:       make(map[string]CheckFunc),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// RegisterCheck registers a dependency check under the given name.
// Registering an existing name replaces the previous check.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// UnregisterCheck removes a dependency check.
func (c *Checker) UnregisterCheck(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// SetDraining marks the service as draining. A draining service reports
// unhealthy on both probes so traffic is routed away while in-flight
// requests finish.
func (c *Checker) SetDraining(draining bool) {
	c.draining.Store(draining)
}

// IsDraining reports whether the service is draining.
func (c *Checker) IsDraining() bool {
	return c.draining.Load()
}

// Health returns the health status. It does not touch dependencies.
func (c *Checker) Health() HealthResponse {
	response := HealthResponse{
		Status:    StatusHealthy,
		Version:   c.version,
		Uptime:    time.Since(c.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
	}

	if c.IsDraining() {
		response.Status = StatusUnhealthy
		response.Details = map[string]string{"reason": "draining"}
	}

	return response
}

// Readiness runs all registered checks and returns the aggregate status.
// Checks run concurrently; each result records its own latency. Any
// unhealthy check makes the whole response unhealthy, a degraded check
// degrades it.
func (c *Checker) Readiness(ctx context.Context) ReadinessResponse {
	response := ReadinessResponse{
		Status:    StatusHealthy,
		Checks:    make(map[string]Check),
		Timestamp: time.Now().UTC(),
	}

	if c.IsDraining() {
		response.Status = StatusUnhealthy
		response.Checks["draining"] = Check{
			Status:  StatusUnhealthy,
			Message: "server is draining",
		}
		return response
	}

	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		checks[name] = fn
	}
	c.mu.RUnlock()

	if len(checks) == 0 {
		return response
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, fn := range checks {
		wg.Add(1)
		go func(name string, fn CheckFunc) {
			defer wg.Done()

			start := time.Now()
			check := fn(ctx)
			latency := time.Since(start)
			check.Latency = latency.String()

			c.metrics.SetCheckStatus(name, check.Status == StatusHealthy)

			if check.Status == StatusUnhealthy {
				c.logger.Warn("readiness check failed",
					observability.String("check", name),
					observability.String("message", check.Message),
					observability.Duration("latency", latency),
				)
			}

			mu.Lock()
			response.Checks[name] = check
			switch check.Status {
			case StatusUnhealthy:
				response.Status = StatusUnhealthy
			case StatusDegraded:
				if response.Status != StatusUnhealthy {
					response.Status = StatusDegraded
				}
			}
			mu.Unlock()
		}(name, fn)
	}

	wg.Wait()
	return response
}

// LivenessHandler returns an HTTP handler that reports whether the
// process is running. It never touches dependencies.
func (c *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.metrics.RecordProbe("liveness")

		w.Header().Set(HeaderContentType, ContentTypeJSON)
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
			c.logger.Warn("failed to write liveness response", observability.Error(err))
		}
	}
}

// HealthHandler returns an HTTP handler for the health endpoint.
func (c *Checker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.metrics.RecordProbe("health")

		response := c.Health()

		statusCode := http.StatusOK
		if response.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}

		c.writeJSON(w, statusCode, response)
	}
}

// ReadinessHandler returns an HTTP handler for the readiness endpoint.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.metrics.RecordProbe("readiness")

		ctx, cancel := context.WithTimeout(r.Context(), c.probeTimeout)
		defer cancel()

		response := c.Readiness(ctx)
		c.metrics.SetCheckStatus("overall", response.Status != StatusUnhealthy)

		statusCode := http.StatusOK
		if response.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}

		c.writeJSON(w, statusCode, response)
	}
}

// writeJSON marshals the response before writing the header so a marshal
// failure can still produce a 500.
func (c *Checker) writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	data, err := jsonMarshalFunc(v)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}

	w.Header().Set(HeaderContentType, ContentTypeJSON)
	w.WriteHeader(statusCode)
	if _, err := w.Write(data); err != nil {
		c.logger.Warn("failed to write health response", observability.Error(err))
	}
}
