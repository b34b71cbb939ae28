package main

import (
	"net/http"
	"time"

	"github.com/vyrodovalexey/tktauth/internal/health"
	"github.com/vyrodovalexey/tktauth/internal/observability"
)

// createMetricsServer creates the metrics and health endpoint server.
// It lives on its own listener so probes and scrapes keep answering
// while the API drains.
func createMetricsServer(
	addr string,
	metrics *observability.Metrics,
	checker *health.Checker,
	logger observability.Logger,
) *http.Server {
	if addr == "" {
		addr = ":9091"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", checker.HealthHandler())
	mux.HandleFunc("/ready", checker.ReadinessHandler())
	mux.HandleFunc("/live", checker.LivenessHandler())

	logger.Info("metrics server configured", observability.String("address", addr))

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// runMetricsServer runs the metrics HTTP server.
func runMetricsServer(server *http.Server, logger observability.Logger) {
	logger.Info("starting metrics server", observability.String("address", server.Addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server error", observability.Error(err))
	}
}
