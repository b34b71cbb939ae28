package main

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/tktauth/internal/audit"
	"github.com/vyrodovalexey/tktauth/internal/auth"
	"github.com/vyrodovalexey/tktauth/internal/config"
	"github.com/vyrodovalexey/tktauth/internal/health"
	"github.com/vyrodovalexey/tktauth/internal/middleware"
	"github.com/vyrodovalexey/tktauth/internal/observability"
	"github.com/vyrodovalexey/tktauth/internal/ratelimit"
	"github.com/vyrodovalexey/tktauth/internal/secrets"
	"github.com/vyrodovalexey/tktauth/internal/server"
	"github.com/vyrodovalexey/tktauth/internal/ticket"

	"go.uber.org/zap"
)

const (
	// metricsNamespace prefixes every metric the service exports.
	metricsNamespace = "tktauth"

	// secretFetchTimeout bounds a single signing secret read.
	secretFetchTimeout = 30 * time.Second

	// defaultShutdownTimeout is used when the configuration does not
	// set one.
	defaultShutdownTimeout = 30 * time.Second
)

// application holds all components of the running service.
type application struct {
	config *config.Config
	logger observability.Logger
	zlog   *zap.Logger

	metrics       *observability.Metrics
	reload        *reloadMetrics
	tracer        *observability.Tracer
	provider      secrets.Provider
	ticketMetrics *ticket.Metrics
	authMetrics   *auth.Metrics
	auditMetrics  *audit.Metrics
	auditLogger   *audit.AtomicLogger
	source        *factoryHolder
	limiter       ratelimit.Limiter
	redisClient   *redis.Client
	checker       *health.Checker
	httpServer    *server.Server
	grpcServer    *server.GRPCServer
	metricsServer *http.Server
	watcher       *config.Watcher
}

// factoryHolder is the swappable factory source shared by the HTTP
// handlers, the authenticators, and the gRPC service. Reloads publish
// a new factory with Store; requests already past Factory keep
// validating against the one they read.
type factoryHolder struct {
	ptr atomic.Pointer[ticket.Factory]
}

func newFactoryHolder(f ticket.Factory) *factoryHolder {
	h := &factoryHolder{}
	h.ptr.Store(&f)
	return h
}

// Factory implements auth.FactorySource.
func (h *factoryHolder) Factory() ticket.Factory {
	return *h.ptr.Load()
}

// Store publishes a new factory.
func (h *factoryHolder) Store(f ticket.Factory) {
	h.ptr.Store(&f)
}

// initApplication wires every component from the configuration. Any
// failure here is fatal; a service that cannot sign or validate
// tickets has nothing to serve.
func initApplication(cfg *config.Config, logger observability.Logger) *application {
	app := &application{
		config: cfg,
		logger: logger,
		zlog:   observability.Zap(logger),
	}

	app.metrics = observability.NewMetrics(metricsNamespace)
	app.metrics.SetBuildInfo(version, gitCommit, buildTime)
	app.reload = newReloadMetrics(app.metrics)

	app.tracer = initTracer(cfg, logger)

	app.provider = initSecretsProvider(cfg, app)
	secret := loadSigningSecret(app.provider, &cfg.Ticket.Secret, logger)

	app.ticketMetrics = ticket.NewMetrics(metricsNamespace)
	app.ticketMetrics.MustRegister(app.metrics.Registry())

	factory, err := buildTicketFactory(&cfg.Ticket, secret, logger, app.ticketMetrics)
	if err != nil {
		fatalWithSync(logger, "failed to create ticket factory", observability.Error(err))
		return nil // unreachable in production; allows test to continue
	}
	app.source = newFactoryHolder(factory)

	app.auditMetrics = audit.NewMetrics(metricsNamespace)
	app.auditMetrics.Init()
	app.auditLogger = audit.NewAtomicLogger(buildAuditLogger(&cfg.Audit, app.auditMetrics, logger))

	authCfg, err := auth.FromAuthConfig(cfg.Auth)
	if err != nil {
		fatalWithSync(logger, "invalid auth configuration", observability.Error(err))
		return nil // unreachable in production; allows test to continue
	}
	authCfg.SkipMethods = withDefaultSkipMethods(authCfg.SkipMethods)

	app.authMetrics = auth.NewMetrics(metricsNamespace)

	authn, err := auth.NewAuthenticator(app.source, authCfg,
		auth.WithAuthenticatorLogger(logger),
		auth.WithAuthenticatorMetrics(app.authMetrics),
		auth.WithClientIPResolver(middleware.ClientIPFromContext),
		auth.WithAuthenticatorAudit(app.auditLogger),
	)
	if err != nil {
		fatalWithSync(logger, "failed to create authenticator", observability.Error(err))
		return nil // unreachable in production; allows test to continue
	}

	handler, err := server.NewHandler(app.source, authCfg,
		server.WithHandlerLogger(logger),
		server.WithHandlerAudit(app.auditLogger),
	)
	if err != nil {
		fatalWithSync(logger, "failed to create ticket handler", observability.Error(err))
		return nil // unreachable in production; allows test to continue
	}

	app.limiter = initRateLimiter(&cfg.RateLimit, app.zlog, logger)
	if cfg.RateLimit.Enabled && cfg.RateLimit.Store.Type == "redis" {
		app.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.Store.Redis.Addr,
			Password: cfg.RateLimit.Store.Redis.Password,
			DB:       cfg.RateLimit.Store.Redis.DB,
		})
	}

	chain := buildMiddlewareChain(cfg, app, authCfg)

	app.httpServer = server.New(server.FromServerConfig(cfg.Server), handler, authn, logger,
		server.WithMiddleware(chain...))

	if cfg.Auth.GRPC.Enabled {
		app.grpcServer = initGRPCServer(cfg, authCfg, app, logger)
	}

	app.checker = initHealthChecker(app, logger)
	app.metricsServer = createMetricsServer(cfg.Server.MetricsAddr, app.metrics, app.checker, logger)

	return app
}

// withDefaultSkipMethods ensures the methods that must answer without
// a ticket stay unauthenticated: Validate carries its ticket in the
// request body, and health probes run before any credential exists.
func withDefaultSkipMethods(methods []string) []string {
	defaults := []string{
		server.TicketServiceValidateMethod,
		"/grpc.health.v1.Health/Check",
		"/grpc.health.v1.Health/Watch",
	}
	for _, d := range defaults {
		if !containsString(methods, d) {
			methods = append(methods, d)
		}
	}
	return methods
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// initTracer initializes the tracer.
func initTracer(cfg *config.Config, logger observability.Logger) *observability.Tracer {
	tracerCfg := observability.TracerConfig{
		ServiceName:    metricsNamespace,
		ServiceVersion: version,
		Enabled:        cfg.Tracing.Enabled,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SampleRatio,
		Insecure:       cfg.Tracing.Insecure,
	}
	if cfg.Tracing.ServiceName != "" {
		tracerCfg.ServiceName = cfg.Tracing.ServiceName
	}

	tracer, err := observability.NewTracer(tracerCfg)
	if err != nil {
		fatalWithSync(logger, "failed to initialize tracer", observability.Error(err))
		return nil // unreachable in production; allows test to continue
	}
	return tracer
}

// initSecretsProvider creates the secrets provider for the configured
// backend. File providers with watch enabled rotate the signing
// factory when the secret file changes.
func initSecretsProvider(cfg *config.Config, app *application) secrets.Provider {
	sc := &cfg.Ticket.Secret

	providerType, err := secrets.ValidateProviderType(sc.Source)
	if err != nil {
		fatalWithSync(app.logger, "invalid secret source", observability.Error(err))
		return nil // unreachable in production; allows test to continue
	}

	pc := &secrets.ProviderConfig{
		Type:   providerType,
		Logger: app.zlog,
	}

	switch providerType {
	case secrets.ProviderTypeEnv:
		pc.EnvPrefix = sc.Env.Prefix
	case secrets.ProviderTypeFile:
		pc.FileBasePath = sc.File.BasePath
		pc.FileWatch = sc.File.Watch
		pc.FileDebounceDelay = time.Duration(sc.File.DebounceDelay)
		if sc.File.Watch {
			pc.FileOnChange = app.handleSecretRotation
		}
	case secrets.ProviderTypeVault:
		pc.VaultConfig = vaultProviderConfig(sc.Vault, app.zlog)
	}

	provider, err := secrets.NewProvider(context.Background(), pc)
	if err != nil {
		fatalWithSync(app.logger, "failed to create secrets provider",
			observability.String("source", sc.Source),
			observability.Error(err),
		)
		return nil // unreachable in production; allows test to continue
	}

	app.logger.Info("secrets provider initialized",
		observability.String("source", sc.Source),
	)
	return provider
}

// vaultProviderConfig converts the configuration's vault section.
func vaultProviderConfig(vc *config.VaultSecretConfig, zlog *zap.Logger) *secrets.VaultProviderConfig {
	if vc == nil {
		return nil
	}
	return &secrets.VaultProviderConfig{
		Address:          vc.Address,
		Namespace:        vc.Namespace,
		AuthMethod:       vc.AuthMethod,
		Token:            vc.Token,
		AppRoleID:        vc.AppRoleID,
		AppRoleSecretID:  vc.AppRoleSecretID,
		AppRoleMountPath: vc.AppRoleMountPath,
		SecretMountPoint: vc.MountPoint,
		Timeout:          time.Duration(vc.Timeout),
		MaxRetries:       vc.MaxRetries,
		TLSSkipVerify:    vc.TLSSkipVerify,
		CACert:           vc.CACert,
		BreakerThreshold: vc.BreakerThreshold,
		BreakerTimeout:   time.Duration(vc.BreakerTimeout),
		Logger:           zlog,
	}
}

// loadSigningSecret fetches the signing secret. Only the path and key
// name are ever logged.
func loadSigningSecret(provider secrets.Provider, sc *config.SecretConfig, logger observability.Logger) []byte {
	ctx, cancel := context.WithTimeout(context.Background(), secretFetchTimeout)
	defer cancel()

	sec, err := provider.GetSecret(ctx, sc.Path)
	if err != nil {
		fatalWithSync(logger, "failed to read signing secret",
			observability.String("path", sc.Path),
			observability.Error(err),
		)
		return nil // unreachable in production; allows test to continue
	}

	key, ok := sec.GetBytes(sc.Key)
	if !ok || len(key) == 0 {
		fatalWithSync(logger, "signing secret key is missing or empty",
			observability.String("path", sc.Path),
			observability.String("key", sc.Key),
		)
		return nil // unreachable in production; allows test to continue
	}
	return key
}

// buildTicketFactory creates a signing factory from the ticket section.
func buildTicketFactory(
	tc *config.TicketConfig,
	secret []byte,
	logger observability.Logger,
	metrics *ticket.Metrics,
) (ticket.Factory, error) {
	opts := []ticket.Option{
		ticket.WithAlgorithm(tc.Algorithm),
		ticket.WithLogger(logger),
		ticket.WithMetrics(metrics),
	}
	if tc.DefaultLifetime > 0 {
		opts = append(opts, ticket.WithDefaultLifetime(time.Duration(tc.DefaultLifetime)))
	}
	if tc.PayloadEncoding != "" {
		opts = append(opts, ticket.WithPayloadEncoding(tc.PayloadEncoding))
	}
	return ticket.NewFactory(secret, opts...)
}

// buildAuditLogger creates an audit logger from the audit section. The
// metrics instance is shared across rebuilds so reloads never
// re-register collectors. A broken audit destination degrades to a
// no-op logger rather than taking authentication down.
func buildAuditLogger(cfg *config.AuditConfig, metrics *audit.Metrics, logger observability.Logger) audit.Logger {
	auditLogger, err := audit.NewLogger(audit.FromAuditConfig(*cfg),
		audit.WithLoggerLogger(logger),
		audit.WithLoggerMetrics(metrics),
	)
	if err != nil {
		logger.Warn("failed to create audit logger, events will be dropped",
			observability.Error(err),
		)
		return audit.NewNoopLogger()
	}

	if cfg.Enabled {
		output := cfg.Path
		if output == "" {
			output = "stdout"
		}
		logger.Info("audit logging enabled", observability.String("output", output))
	} else {
		logger.Info("audit logging disabled")
	}
	return auditLogger
}

// initRateLimiter creates the rate limiter. A disabled section yields
// a no-op limiter.
func initRateLimiter(cfg *config.RateLimitConfig, zlog *zap.Logger, logger observability.Logger) ratelimit.Limiter {
	rlCfg := ratelimit.DefaultConfig()
	rlCfg.Enabled = cfg.Enabled
	rlCfg.Logger = zlog
	if cfg.Algorithm != "" {
		rlCfg.Algorithm = ratelimit.Algorithm(cfg.Algorithm)
	}
	if cfg.RequestsPerSecond > 0 {
		rlCfg.RequestsPerSecond = cfg.RequestsPerSecond
	}
	if cfg.Burst > 0 {
		rlCfg.Burst = cfg.Burst
	}
	if cfg.Window > 0 {
		rlCfg.Window = time.Duration(cfg.Window)
	}
	if cfg.Store.Redis.Addr != "" {
		rlCfg.RedisAddr = cfg.Store.Redis.Addr
	}
	rlCfg.RedisPassword = cfg.Store.Redis.Password
	rlCfg.RedisDB = cfg.Store.Redis.DB

	limiter, err := ratelimit.NewLimiter(rlCfg)
	if err != nil {
		fatalWithSync(logger, "failed to create rate limiter", observability.Error(err))
		return nil // unreachable in production; allows test to continue
	}
	return limiter
}

// initGRPCServer creates the gRPC validation service and its server.
func initGRPCServer(
	cfg *config.Config,
	authCfg *auth.Config,
	app *application,
	logger observability.Logger,
) *server.GRPCServer {
	svc, err := server.NewTicketService(app.source, authCfg,
		server.WithTicketServiceLogger(logger),
		server.WithTicketServiceAudit(app.auditLogger),
	)
	if err != nil {
		fatalWithSync(logger, "failed to create ticket service", observability.Error(err))
		return nil // unreachable in production; allows test to continue
	}

	gauthn, err := auth.NewGRPCAuthenticator(app.source, authCfg,
		auth.WithGRPCAuthenticatorLogger(logger),
		auth.WithGRPCAuthenticatorMetrics(app.authMetrics),
		auth.WithGRPCAuthenticatorAudit(app.auditLogger),
	)
	if err != nil {
		fatalWithSync(logger, "failed to create grpc authenticator", observability.Error(err))
		return nil // unreachable in production; allows test to continue
	}

	grpcCfg := server.DefaultGRPCConfig()
	if cfg.Server.GRPCAddr != "" {
		grpcCfg.Addr = cfg.Server.GRPCAddr
	}
	grpcCfg.EnableReflection = getEnvBool("TKTAUTH_GRPC_REFLECTION")

	return server.NewGRPCServer(grpcCfg, gauthn, svc, logger)
}

// initHealthChecker creates the health checker with a probe per
// external dependency.
func initHealthChecker(app *application, logger observability.Logger) *health.Checker {
	checker := health.NewChecker(version, logger,
		health.WithCheckerMetrics(health.NewMetrics(metricsNamespace)),
	)

	checker.RegisterCheck("secrets", health.ProviderCheck(app.provider))
	if app.redisClient != nil {
		checker.RegisterCheck("redis", health.RedisCheck(app.redisClient))
	}
	return checker
}
