package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vyrodovalexey/tktauth/internal/config"
	"github.com/vyrodovalexey/tktauth/internal/observability"
)

// runService starts every component and blocks until a signal or a
// server failure triggers shutdown.
func runService(app *application, configPath string, logger observability.Logger) {
	errCh := make(chan error, 2)

	go func() {
		if err := app.httpServer.Start(context.Background()); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if app.grpcServer != nil {
		go func() {
			if err := app.grpcServer.Start(context.Background()); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	go runMetricsServer(app.metricsServer, logger)

	app.startConfigWatcher(configPath)

	logger.Info("tktauthd started",
		observability.String("version", version),
		observability.String("listen_addr", app.config.Server.ListenAddr),
		observability.Bool("grpc_enabled", app.grpcServer != nil),
	)

	waitForShutdown(app, errCh, logger)
}

// startConfigWatcher starts the configuration file watcher. A watcher
// failure is not fatal; the service keeps running with the
// configuration it loaded.
func (app *application) startConfigWatcher(configPath string) {
	watcher, err := config.NewWatcher(configPath, app.handleConfigReload,
		config.WithLogger(app.logger),
		config.WithErrorCallback(func(err error) {
			app.logger.Error("configuration reload rejected", observability.Error(err))
			app.reload.recordError()
		}),
	)
	if err != nil {
		app.logger.Warn("config watcher not started", observability.Error(err))
		return
	}

	if err := watcher.Start(context.Background()); err != nil {
		app.logger.Warn("config watcher not started", observability.Error(err))
		return
	}

	app.watcher = watcher
	app.reload.setWatcherRunning(true)
}

// waitForShutdown blocks until a shutdown signal or server error, then
// drains with the configured timeout.
func waitForShutdown(app *application, errCh <-chan error, logger observability.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", observability.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("server error, shutting down", observability.Error(err))
	}

	timeout := time.Duration(app.config.Server.ShutdownTimeout)
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	shutdown(ctx, app, logger)
}

// shutdown drains components in dependency order: mark draining so
// probes pull the instance from rotation, stop the listeners, then
// close what they were using.
func shutdown(ctx context.Context, app *application, logger observability.Logger) {
	if app.checker != nil {
		app.checker.SetDraining(true)
	}

	if app.watcher != nil {
		if err := app.watcher.Stop(); err != nil {
			logger.Warn("failed to stop config watcher", observability.Error(err))
		}
		app.reload.setWatcherRunning(false)
	}

	if app.metricsServer != nil {
		if err := app.metricsServer.Shutdown(ctx); err != nil {
			logger.Warn("failed to stop metrics server", observability.Error(err))
		}
	}

	if app.grpcServer != nil {
		if err := app.grpcServer.Stop(ctx); err != nil {
			logger.Warn("failed to stop grpc server", observability.Error(err))
		}
	}

	if app.httpServer != nil {
		if err := app.httpServer.Stop(ctx); err != nil {
			logger.Warn("failed to stop http server", observability.Error(err))
		}
	}

	if app.limiter != nil {
		if err := app.limiter.Close(); err != nil {
			logger.Warn("failed to close rate limiter", observability.Error(err))
		}
	}

	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			logger.Warn("failed to close redis client", observability.Error(err))
		}
	}

	if app.auditLogger != nil {
		if err := app.auditLogger.Close(); err != nil {
			logger.Warn("failed to close audit logger", observability.Error(err))
		}
	}

	if app.provider != nil {
		if err := app.provider.Close(); err != nil {
			logger.Warn("failed to close secrets provider", observability.Error(err))
		}
	}

	if app.tracer != nil {
		if err := app.tracer.Shutdown(ctx); err != nil {
			logger.Warn("failed to shut down tracer", observability.Error(err))
		}
	}

	logger.Info("tktauthd stopped")
}
