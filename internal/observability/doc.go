// Package observability provides logging, metrics, and tracing
// functionality for the ticket service.
//
// This package implements the three pillars of observability:
// structured logging via zap, Prometheus metrics collection, and
// distributed tracing via OpenTelemetry with OTLP export.
//
// # Logging
//
// The Logger interface provides structured logging:
//
//	logger, err := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info("ticket validated",
//	    observability.String("user_id", "alice"),
//	    observability.Duration("elapsed", elapsed),
//	)
//
// # Metrics
//
// A dedicated Prometheus registry backs the /metrics endpoint; other
// packages join it through RegisterCollector:
//
//	metrics := observability.NewMetrics("tktauth")
//	handler := metrics.Handler()
//
// # Tracing
//
// OpenTelemetry distributed tracing with OTLP/gRPC export and W3C
// trace context propagation:
//
//	tracer, err := observability.NewTracer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tracer.Shutdown(ctx)
package observability
