package health

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for health probes.
type Metrics struct {
	probesTotal *prometheus.CounterVec
	checkStatus *prometheus.GaugeVec
	registerer  prometheus.Registerer
}

// NewMetrics creates a new Metrics instance registered with
// prometheus.DefaultRegisterer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates a new Metrics instance with a custom
// registerer. This is useful for testing where a private registry is
// preferred.
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

	m.probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "probes_total",
			Help:      "Total number of health probes served",
		},
		[]string{"probe"},
	)

	m.checkStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "check_status",
			Help:      "Current readiness check status (1=healthy, 0=unhealthy)",
		},
		[]string{"check"},
	)

	// Register all metrics with the provided registerer, ignoring duplicates.
	// This is safe because the metric descriptors are identical when re-registered.
	collectors := []prometheus.Collector{
		m.probesTotal,
		m.checkStatus,
	}
	for _, c := range collectors {
		// Use Register instead of MustRegister to handle duplicate registration gracefully.
		// If the metric is already registered (e.g., in tests), we ignore the error.
		_ = m.registerer.Register(c)
	}

	return m
}

// Init pre-initializes label combinations with zero values so the
// metrics appear in scrape output immediately after startup.
func (m *Metrics) Init() {
	if m == nil || m.probesTotal == nil {
		return
	}
	for _, probe := range []string{"liveness", "readiness", "health"} {
		m.probesTotal.WithLabelValues(probe)
	}
	m.checkStatus.WithLabelValues("overall")
}

// RecordProbe records a served probe.
func (m *Metrics) RecordProbe(probe string) {
	if m == nil || m.probesTotal == nil {
		return
	}
	m.probesTotal.WithLabelValues(probe).Inc()
}

// SetCheckStatus sets the gauge for a readiness check.
func (m *Metrics) SetCheckStatus(check string, healthy bool) {
	if m == nil || m.checkStatus == nil {
		return
	}
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.checkStatus.WithLabelValues(check).Set(value)
}
