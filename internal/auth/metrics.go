package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for request authentication.
type Metrics struct {
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	refreshTotal      *prometheus.CounterVec
	remainingLifetime prometheus.Histogram
	registerer        prometheus.Registerer
}

// NewMetrics creates a new Metrics instance.
// Metrics are registered with prometheus.DefaultRegisterer so they are
// automatically exposed on the default /metrics endpoint.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates a new Metrics instance with a custom registerer.
// This is useful for testing where a private registry is preferred.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "tktauth"
	}

	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		registerer: registerer,
	}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "requests_total",
			Help:      "Total number of authentication attempts",
		},
		[]string{"transport", "source", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "request_duration_seconds",
			Help:      "Authentication duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"transport"},
	)

	m.refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "refresh_total",
			Help:      "Total number of sliding-expiry cookie refreshes",
		},
		[]string{"status"},
	)

	m.remainingLifetime = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "ticket_remaining_lifetime_seconds",
			Help:      "Remaining ticket lifetime observed at validation time",
			Buckets:   []float64{1, 5, 15, 60, 300, 600, 1800, 3600, 14400, 86400},
		},
	)

	// Register all metrics with the provided registerer, ignoring duplicates.
	// This is safe because the metric descriptors are identical when re-registered.
	collectors := []prometheus.Collector{
		m.requestsTotal,
		m.requestDuration,
		m.refreshTotal,
		m.remainingLifetime,
	}
	for _, c := range collectors {
		// Use Register instead of MustRegister to handle duplicate registration gracefully.
		// If the metric is already registered (e.g., in tests), we ignore the error.
		_ = m.registerer.Register(c)
	}

	return m
}

// RecordRequest records an authentication attempt. For successful
// attempts status is "success"; otherwise it is the failure kind.
func (m *Metrics) RecordRequest(transport, source, status string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(transport, source, status).Inc()
	m.requestDuration.WithLabelValues(transport).Observe(duration.Seconds())
}

// RecordRefresh records a cookie refresh attempt.
func (m *Metrics) RecordRefresh(status string) {
	m.refreshTotal.WithLabelValues(status).Inc()
}

// RecordRemainingLifetime records how much lifetime a validated ticket
// had left.
func (m *Metrics) RecordRemainingLifetime(remaining time.Duration) {
	m.remainingLifetime.Observe(remaining.Seconds())
}
