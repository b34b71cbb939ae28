package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/tktauth/internal/config"
	"github.com/vyrodovalexey/tktauth/internal/observability"
)

// reloadMetrics track configuration reload outcomes.
type reloadMetrics struct {
	reloadTotal    *prometheus.CounterVec
	reloadDuration prometheus.Histogram
	lastSuccess    prometheus.Gauge
	watcherRunning prometheus.Gauge
	componentTotal *prometheus.CounterVec
}

// newReloadMetrics creates and registers the reload collectors.
func newReloadMetrics(metrics *observability.Metrics) *reloadMetrics {
	m := &reloadMetrics{
		reloadTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "config_reload_total",
				Help:      "Total number of configuration reload attempts",
			},
			[]string{"result"},
		),
		reloadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "config_reload_duration_seconds",
				Help:      "Configuration reload duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		lastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "config_reload_last_success_timestamp",
				Help:      "Unix timestamp of the last successful configuration reload",
			},
		),
		watcherRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "config_watcher_running",
				Help:      "Whether the configuration watcher is running (1) or not (0)",
			},
		),
		componentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "config_reload_component_total",
				Help:      "Per-component configuration reload outcomes",
			},
			[]string{"component", "result"},
		),
	}

	metrics.MustRegisterCollector(m.reloadTotal)
	metrics.MustRegisterCollector(m.reloadDuration)
	metrics.MustRegisterCollector(m.lastSuccess)
	metrics.MustRegisterCollector(m.watcherRunning)
	metrics.MustRegisterCollector(m.componentTotal)

	return m
}

func (m *reloadMetrics) record(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.reloadTotal.WithLabelValues(result).Inc()
	m.reloadDuration.Observe(elapsed.Seconds())
	if result == "success" {
		m.lastSuccess.SetToCurrentTime()
	}
}

func (m *reloadMetrics) recordError() {
	if m == nil {
		return
	}
	m.reloadTotal.WithLabelValues("error").Inc()
}

func (m *reloadMetrics) recordComponent(component, result string) {
	if m == nil {
		return
	}
	m.componentTotal.WithLabelValues(component, result).Inc()
}

func (m *reloadMetrics) setWatcherRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.watcherRunning.Set(1)
	} else {
		m.watcherRunning.Set(0)
	}
}

// configSectionHash returns a stable hash of a configuration section.
func configSectionHash(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// configSectionChanged reports whether a section differs between two
// configurations. Sections that fail to hash fall back to a deep
// comparison.
func configSectionChanged(oldSection, newSection any) bool {
	oldHash := configSectionHash(oldSection)
	newHash := configSectionHash(newSection)
	if oldHash == "" || newHash == "" {
		return !reflect.DeepEqual(oldSection, newSection)
	}
	return oldHash != newHash
}

// secretBackendChanged reports whether the secret provider backend
// differs. The provider is constructed once at startup, so backend
// changes only take effect after a restart; path and key changes are
// reloadable in place.
func secretBackendChanged(oldSec, newSec config.SecretConfig) bool {
	return oldSec.Source != newSec.Source ||
		configSectionChanged(oldSec.Env, newSec.Env) ||
		configSectionChanged(oldSec.File, newSec.File) ||
		configSectionChanged(oldSec.Vault, newSec.Vault)
}

// restartOnlySections lists changed sections that require a restart to
// take effect.
func restartOnlySections(oldCfg, newCfg *config.Config) []string {
	var sections []string
	if configSectionChanged(oldCfg.Server, newCfg.Server) {
		sections = append(sections, "server")
	}
	if configSectionChanged(oldCfg.Auth, newCfg.Auth) {
		sections = append(sections, "auth")
	}
	if configSectionChanged(oldCfg.RateLimit, newCfg.RateLimit) {
		sections = append(sections, "rateLimit")
	}
	if configSectionChanged(oldCfg.Log, newCfg.Log) {
		sections = append(sections, "log")
	}
	if configSectionChanged(oldCfg.Tracing, newCfg.Tracing) {
		sections = append(sections, "tracing")
	}
	if secretBackendChanged(oldCfg.Ticket.Secret, newCfg.Ticket.Secret) {
		sections = append(sections, "ticket.secret")
	}
	return sections
}

// handleConfigReload applies a validated configuration change. The
// signing factory and the audit logger reload in place; everything
// else is wired into the servers at startup and logs a restart
// warning instead.
func (app *application) handleConfigReload(newCfg *config.Config) {
	start := time.Now()
	oldCfg := app.config
	result := "success"

	app.logger.Info("configuration change detected")

	if configSectionChanged(oldCfg.Ticket, newCfg.Ticket) &&
		!secretBackendChanged(oldCfg.Ticket.Secret, newCfg.Ticket.Secret) {
		if err := app.reloadTicketFactory(newCfg); err != nil {
			app.logger.Error("failed to reload ticket factory", observability.Error(err))
			app.reload.recordComponent("ticket", "error")
			result = "error"
		} else {
			app.reload.recordComponent("ticket", "success")
		}
	}

	if configSectionChanged(oldCfg.Audit, newCfg.Audit) {
		app.reloadAuditLogger(newCfg)
		app.reload.recordComponent("audit", "success")
	}

	for _, section := range restartOnlySections(oldCfg, newCfg) {
		app.logger.Warn("configuration section changed but requires a restart",
			observability.String("section", section),
		)
	}

	app.config = newCfg
	app.reload.record(result, time.Since(start))
}

// reloadTicketFactory rebuilds the signing factory from the new ticket
// section, refetching the secret through the existing provider, and
// publishes it. In-flight validations keep the factory they already
// read.
func (app *application) reloadTicketFactory(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), secretFetchTimeout)
	defer cancel()

	sc := &cfg.Ticket.Secret
	sec, err := app.provider.GetSecret(ctx, sc.Path)
	if err != nil {
		return fmt.Errorf("fetch signing secret: %w", err)
	}

	key, ok := sec.GetBytes(sc.Key)
	if !ok || len(key) == 0 {
		return fmt.Errorf("signing secret %q is missing key %q", sc.Path, sc.Key)
	}

	factory, err := buildTicketFactory(&cfg.Ticket, key, app.logger, app.ticketMetrics)
	if err != nil {
		return fmt.Errorf("build ticket factory: %w", err)
	}

	app.source.Store(factory)
	app.logger.Info("ticket factory reloaded",
		observability.String("algorithm", factory.Algorithm()),
	)
	return nil
}

// reloadAuditLogger swaps in an audit logger built from the new
// section and closes the one it replaces. The shared metrics instance
// keeps rebuilt loggers from re-registering collectors.
func (app *application) reloadAuditLogger(cfg *config.Config) {
	newLogger := buildAuditLogger(&cfg.Audit, app.auditMetrics, app.logger)
	old := app.auditLogger.Swap(newLogger)
	if old != nil {
		if err := old.Close(); err != nil {
			app.logger.Warn("failed to close previous audit logger", observability.Error(err))
		}
	}
}

// handleSecretRotation rebuilds the signing factory after the file
// provider reports a changed secret file. It can fire while startup is
// still wiring components; rotation before the first factory exists is
// a no-op because startup reads the rotated value anyway.
func (app *application) handleSecretRotation(name string) {
	if app.source == nil {
		return
	}

	app.logger.Info("secret rotation detected", observability.String("secret", name))
	if err := app.reloadTicketFactory(app.config); err != nil {
		app.logger.Error("failed to rotate signing secret", observability.Error(err))
		app.reload.recordComponent("secret", "error")
		return
	}
	app.reload.recordComponent("secret", "success")
}
