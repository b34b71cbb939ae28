package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/tktauth/internal/observability"
)

// Logger is the audit logger interface.
type Logger interface {
	// LogEvent records an audit event. It never blocks: when the
	// event buffer is full the event is dropped and counted instead.
	LogEvent(ctx context.Context, event *Event)

	// Close drains buffered events, flushes the output, and releases
	// it.
	Close() error
}

// logger implements the Logger interface with a single writer
// goroutine fed by a buffered channel.
type logger struct {
	config  *Config
	writer  io.Writer
	buf     *bufio.Writer
	closer  io.Closer
	logger  observability.Logger
	metrics *Metrics

	events chan *Event
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// Metrics contains audit metrics.
type Metrics struct {
	eventsTotal  *prometheus.CounterVec
	droppedTotal prometheus.Counter
	registerer   prometheus.Registerer
}

// NewMetrics creates new audit metrics registered with the default
// registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates new audit metrics registered with
// the provided registerer. This allows the metrics to be registered
// with the service's custom registry so they appear on the /metrics
// endpoint.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "tktauth"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "events_total",
				Help:      "Total number of audit events",
			},
			[]string{"type", "outcome"},
		),
		droppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "dropped_total",
				Help:      "Total number of audit events dropped because the buffer was full",
			},
		),
		registerer: registerer,
	}

	// Register with the provided registerer, ignoring duplicate
	// registration errors (safe because descriptors are identical).
	for _, c := range []prometheus.Collector{m.eventsTotal, m.droppedTotal} {
		_ = m.registerer.Register(c)
	}

	m.Init()

	return m
}

// Init pre-populates the event counter labels with zero values so the
// series appear in /metrics output immediately after startup.
// Prometheus *Vec types only emit metric lines after WithLabelValues()
// is called at least once. Idempotent.
func (m *Metrics) Init() {
	if m.eventsTotal == nil {
		return
	}

	combos := []struct {
		t EventType
		o Outcome
	}{
		{EventTicketIssued, OutcomeSuccess},
		{EventTicketValidated, OutcomeSuccess},
		{EventTicketRejected, OutcomeFailure},
		{EventAuthDenied, OutcomeDenied},
		{EventSessionLogout, OutcomeSuccess},
	}
	for _, c := range combos {
		m.eventsTotal.WithLabelValues(string(c.t), string(c.o))
	}
}

// RecordEvent records an audit event metric.
func (m *Metrics) RecordEvent(eventType EventType, outcome Outcome) {
	if m.eventsTotal == nil {
		return
	}
	m.eventsTotal.WithLabelValues(string(eventType), string(outcome)).Inc()
}

// RecordDrop records a dropped audit event.
func (m *Metrics) RecordDrop() {
	if m.droppedTotal == nil {
		return
	}
	m.droppedTotal.Inc()
}

// LoggerOption is a functional option for the logger.
type LoggerOption func(*logger)

// WithLoggerLogger sets the observability logger.
func WithLoggerLogger(l observability.Logger) LoggerOption {
	return func(lg *logger) {
		lg.logger = l
	}
}

// WithLoggerMetrics sets the metrics.
func WithLoggerMetrics(metrics *Metrics) LoggerOption {
	return func(lg *logger) {
		lg.metrics = metrics
	}
}

// WithLoggerWriter sets the output writer. Injected writers receive
// event lines directly, without the flush-interval buffering applied
// to config-created outputs.
func WithLoggerWriter(writer io.Writer) LoggerOption {
	return func(lg *logger) {
		lg.writer = writer
	}
}

// WithLoggerRegisterer sets the Prometheus registerer for audit
// metrics. When provided, audit metrics are registered with this
// registerer instead of the global default.
func WithLoggerRegisterer(registerer prometheus.Registerer) LoggerOption {
	return func(lg *logger) {
		lg.metrics = NewMetricsWithRegisterer("tktauth", registerer)
	}
}

// NewLogger creates a new audit logger and starts its writer
// goroutine. A disabled config yields a logger that discards
// everything.
func NewLogger(config *Config, opts ...LoggerOption) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	cfg.normalize()

	if !cfg.Enabled {
		return NewNoopLogger(), nil
	}

	l := &logger{
		config: &cfg,
		logger: observability.NopLogger(),
		events: make(chan *Event, cfg.BufferSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(l)
	}

	// Initialize metrics if not provided
	if l.metrics == nil {
		l.metrics = NewMetrics("tktauth")
	}

	// Initialize writer if not provided
	if l.writer == nil {
		if err := l.createWriter(); err != nil {
			return nil, err
		}
	}

	go l.run()

	return l, nil
}

// createWriter opens the configured output and wraps it in a buffer
// that the writer goroutine flushes on the configured interval.
func (l *logger) createWriter() error {
	var base io.Writer

	switch l.config.Output {
	case "stdout":
		base = os.Stdout
	case "stderr":
		base = os.Stderr
	default:
		// Assume it's a file path - path comes from trusted configuration
		//nolint:gosec // G304: path from config is trusted
		file, err := os.OpenFile(l.config.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("failed to open audit log file: %w", err)
		}
		base = file
		l.closer = file
	}

	l.buf = bufio.NewWriter(base)
	l.writer = l.buf
	return nil
}

// LogEvent records an audit event. Trace context is captured here,
// before the event crosses into the writer goroutine, because the
// request context does not travel with it.
func (l *logger) LogEvent(ctx context.Context, event *Event) {
	if event == nil {
		return
	}

	select {
	case <-l.quit:
		return
	default:
	}

	if event.TraceID == "" {
		event.TraceID = extractTraceID(ctx)
	}
	if event.SpanID == "" {
		event.SpanID = extractSpanID(ctx)
	}

	l.metrics.RecordEvent(event.Type, event.Outcome)

	select {
	case l.events <- event:
	default:
		l.metrics.RecordDrop()
		l.logger.Debug("audit buffer full, event dropped",
			observability.String("type", string(event.Type)),
		)
	}
}

// run is the writer goroutine. It owns the output exclusively, so
// every event line is a single uninterleaved write.
func (l *logger) run() {
	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-l.events:
			l.writeEvent(event)
		case <-ticker.C:
			l.flush()
		case <-l.quit:
			l.drain()
			return
		}
	}
}

// drain writes everything still buffered, flushes, and signals done.
func (l *logger) drain() {
	for {
		select {
		case event := <-l.events:
			l.writeEvent(event)
		default:
			l.flush()
			close(l.done)
			return
		}
	}
}

// writeEvent writes one event as a JSON line.
func (l *logger) writeEvent(event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		l.logger.Error("failed to marshal audit event", observability.Error(err))
		return
	}
	data = append(data, '\n')

	if _, err := l.writer.Write(data); err != nil {
		l.logger.Error("failed to write audit event", observability.Error(err))
	}
}

// flush pushes buffered output to the underlying destination.
func (l *logger) flush() {
	if l.buf == nil {
		return
	}
	if err := l.buf.Flush(); err != nil {
		l.logger.Error("failed to flush audit log", observability.Error(err))
	}
}

// Close drains buffered events and releases the output. Events logged
// after Close are discarded.
func (l *logger) Close() error {
	l.once.Do(func() {
		close(l.quit)
		<-l.done
	})

	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// extractTraceID extracts the trace ID from the OpenTelemetry span context.
// Returns an empty string when no valid trace context is present.
func extractTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// extractSpanID extracts the span ID from the OpenTelemetry span context.
// Returns an empty string when no valid span context is present.
func extractSpanID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasSpanID() {
		return sc.SpanID().String()
	}
	return ""
}

// noopLogger is a no-op audit logger.
type noopLogger struct{}

// NewNoopLogger creates a new no-op audit logger.
func NewNoopLogger() Logger {
	return &noopLogger{}
}

func (l *noopLogger) LogEvent(_ context.Context, _ *Event) {}

func (l *noopLogger) Close() error { return nil }

// Ensure implementations satisfy the interface.
var (
	_ Logger = (*logger)(nil)
	_ Logger = (*noopLogger)(nil)
)
