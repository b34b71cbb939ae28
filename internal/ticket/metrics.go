package ticket

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for ticket operations.
type Metrics struct {
	issuedTotal        *prometheus.CounterVec
	issueDuration      *prometheus.HistogramVec
	validationTotal    *prometheus.CounterVec
	validationDuration *prometheus.HistogramVec
	registry           *prometheus.Registry
}

var (
	sharedMetrics     *Metrics
	sharedMetricsOnce sync.Once
)

// GetSharedMetrics returns the singleton Metrics instance.
func GetSharedMetrics() *Metrics {
	sharedMetricsOnce.Do(func() {
		sharedMetrics = NewMetrics("tktauth")
	})
	return sharedMetrics
}

// Init pre-initializes common label combinations with zero values so that
// metrics appear in /metrics output immediately after startup. Prometheus
// *Vec types only emit metric lines after WithLabelValues() is called at
// least once. This method is idempotent and safe to call multiple times.
func (m *Metrics) Init() {
	reasons := []string{
		"valid", "malformed", "digest_mismatch", "expired", "unencodable",
	}
	for _, status := range []string{"success", "error"} {
		for _, reason := range reasons {
			m.validationTotal.WithLabelValues(status, reason)
			m.validationDuration.WithLabelValues(status, reason)
		}
		for _, algorithm := range Algorithms() {
			m.issuedTotal.WithLabelValues(status, algorithm)
			m.issueDuration.WithLabelValues(status, algorithm)
		}
	}
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "tktauth"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.issuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ticket",
			Name:      "issued_total",
			Help:      "Total number of ticket issue attempts",
		},
		[]string{"status", "algorithm"},
	)

	m.issueDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ticket",
			Name:      "issue_duration_seconds",
			Help:      "Ticket issue duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"status", "algorithm"},
	)

	m.validationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ticket",
			Name:      "validation_total",
			Help:      "Total number of ticket validation attempts",
		},
		[]string{"status", "reason"},
	)

	m.validationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ticket",
			Name:      "validation_duration_seconds",
			Help:      "Ticket validation duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"status", "reason"},
	)

	// Register all metrics
	m.registry.MustRegister(
		m.issuedTotal,
		m.issueDuration,
		m.validationTotal,
		m.validationDuration,
	)

	return m
}

// RecordIssue records a ticket issue attempt.
func (m *Metrics) RecordIssue(status, algorithm string, duration time.Duration) {
	m.issuedTotal.WithLabelValues(status, algorithm).Inc()
	m.issueDuration.WithLabelValues(status, algorithm).Observe(duration.Seconds())
}

// RecordValidation records a ticket validation attempt.
func (m *Metrics) RecordValidation(status, reason string, duration time.Duration) {
	m.validationTotal.WithLabelValues(status, reason).Inc()
	m.validationDuration.WithLabelValues(status, reason).Observe(duration.Seconds())
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MustRegister registers the metrics with the given registry.
// It uses Register (not MustRegister) to gracefully handle duplicate
// registration that can occur when factories are recreated on config
// reload. AlreadyRegisteredError is silently ignored.
func (m *Metrics) MustRegister(registry *prometheus.Registry) {
	for _, c := range []prometheus.Collector{
		m.issuedTotal,
		m.issueDuration,
		m.validationTotal,
		m.validationDuration,
	} {
		if err := registry.Register(c); err != nil {
			if !isAlreadyRegistered(err) {
				panic(err)
			}
		}
	}
}

// isAlreadyRegistered returns true if the error indicates the
// collector was already registered with the registry.
func isAlreadyRegistered(err error) bool {
	var are prometheus.AlreadyRegisteredError
	return errors.As(err, &are)
}
