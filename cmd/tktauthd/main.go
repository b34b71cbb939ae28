// Package main is the entry point for the ticket authentication service.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/vyrodovalexey/tktauth/internal/config"
	"github.com/vyrodovalexey/tktauth/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadAndValidateConfig(flags.configPath, logger)
	app := initApplication(cfg, logger)

	runService(app, flags.configPath, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("TKTAUTH_CONFIG_PATH", "configs/tktauth.yaml"),
		"Path to configuration file")
	logLevel := flag.String("log-level", getEnvOrDefault("TKTAUTH_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("TKTAUTH_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

// printVersion prints version information and exits.
func printVersion() {
	fmt.Printf("tktauthd version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	observability.SetGlobalLogger(logger)
	return logger
}

// fatalWithSync flushes the logger before exiting via Fatal.
func fatalWithSync(logger observability.Logger, msg string, fields ...observability.Field) {
	_ = logger.Sync()
	logger.Fatal(msg, fields...)
}

// loadAndValidateConfig loads and validates the configuration.
func loadAndValidateConfig(configPath string, logger observability.Logger) *config.Config {
	logger.Info("starting tktauthd",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fatalWithSync(logger, "failed to load configuration", observability.Error(err))
		return nil // unreachable in production; allows test to continue
	}

	if err := config.ValidateConfig(cfg); err != nil {
		fatalWithSync(logger, "invalid configuration", observability.Error(err))
		return nil // unreachable in production; allows test to continue
	}

	logger.Info("configuration loaded",
		observability.String("listen_addr", cfg.Server.ListenAddr),
		observability.String("algorithm", cfg.Ticket.Algorithm),
		observability.String("secret_source", cfg.Ticket.Secret.Source),
		observability.Int("auth_sources", len(cfg.Auth.Sources)),
		observability.Bool("grpc_enabled", cfg.Auth.GRPC.Enabled),
		observability.Bool("rate_limit_enabled", cfg.RateLimit.Enabled),
		observability.Bool("audit_enabled", cfg.Audit.Enabled),
	)

	return cfg
}
