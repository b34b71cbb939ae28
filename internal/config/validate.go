package config

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/vyrodovalexey/tktauth/internal/ticket"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates ticket service configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// ValidateConfig validates a ticket service configuration.
func ValidateConfig(config *Config) error {
	v := NewValidator()
	return v.Validate(config)
}

// Validate validates the configuration and returns any errors.
func (v *Validator) Validate(config *Config) error {
	v.errors = make(ValidationErrors, 0)

	if config == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateServer(&config.Server)
	v.validateTicket(&config.Ticket)
	v.validateAuth(&config.Auth)
	v.validateRateLimit(&config.RateLimit)
	v.validateAudit(&config.Audit)
	v.validateLog(&config.Log)
	v.validateTracing(&config.Tracing)

	if config.Auth.GRPC.Enabled && config.Server.GRPCAddr == "" {
		v.addError("server.grpcAddr", "grpcAddr is required when auth.grpc.enabled is set")
	}

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

// validateServer validates listener addresses and HTTP server limits.
func (v *Validator) validateServer(server *ServerConfig) {
	if server.ListenAddr == "" {
		v.addError("server.listenAddr", "listenAddr is required")
	}
	if server.MetricsAddr == "" {
		v.addError("server.metricsAddr", "metricsAddr is required")
	}

	if server.ReadTimeout < 0 {
		v.addError("server.readTimeout", "readTimeout must not be negative")
	}
	if server.WriteTimeout < 0 {
		v.addError("server.writeTimeout", "writeTimeout must not be negative")
	}
	if server.IdleTimeout < 0 {
		v.addError("server.idleTimeout", "idleTimeout must not be negative")
	}
	if server.ShutdownTimeout < 0 {
		v.addError("server.shutdownTimeout", "shutdownTimeout must not be negative")
	}

	if server.MaxBodyBytes <= 0 {
		v.addError("server.maxBodyBytes", "maxBodyBytes must be positive")
	}

	for i, proxy := range server.TrustedProxies {
		if !isAddrOrPrefix(proxy) {
			v.addError(
				fmt.Sprintf("server.trustedProxies[%d]", i),
				fmt.Sprintf("%q is not an IP address or CIDR prefix", proxy),
			)
		}
	}
}

// isAddrOrPrefix reports whether s parses as a bare IP address or a
// CIDR prefix.
func isAddrOrPrefix(s string) bool {
	if _, err := netip.ParsePrefix(s); err == nil {
		return true
	}
	if _, err := netip.ParseAddr(s); err == nil {
		return true
	}
	return false
}

// validateTicket validates the signing factory parameters. The payload
// encoding is resolved against the IANA registry when the factory is
// built, so it has no static list to check here.
func (v *Validator) validateTicket(tc *TicketConfig) {
	if tc.Algorithm == "" {
		v.addError("ticket.algorithm", "algorithm is required")
	} else if _, err := ticket.DigestSize(tc.Algorithm); err != nil {
		v.addError("ticket.algorithm", fmt.Sprintf(
			"unknown algorithm %q (supported: %s)",
			tc.Algorithm, strings.Join(ticket.Algorithms(), ", "),
		))
	}

	if tc.DefaultLifetime <= 0 {
		v.addError("ticket.defaultLifetime", "defaultLifetime must be positive")
	}

	v.validateSecret(&tc.Secret)
}

// validateSecret validates the secret source selection.
func (v *Validator) validateSecret(sc *SecretConfig) {
	switch sc.Source {
	case "env", "file", "vault":
	case "":
		v.addError("ticket.secret.source", "source is required")
	default:
		v.addError("ticket.secret.source", fmt.Sprintf(
			"unknown source %q (must be one of: env, file, vault)", sc.Source,
		))
	}

	if sc.Path == "" {
		v.addError("ticket.secret.path", "path is required")
	}
	if sc.Key == "" {
		v.addError("ticket.secret.key", "key is required")
	}

	if sc.Source == "file" && sc.File.BasePath == "" {
		v.addError("ticket.secret.file.basePath", "basePath is required for the file source")
	}

	if sc.Source == "vault" {
		v.validateVaultSecret(sc.Vault)
	}
}

// validateVaultSecret validates the Vault provider settings.
func (v *Validator) validateVaultSecret(vc *VaultSecretConfig) {
	if vc == nil {
		v.addError("ticket.secret.vault", "vault configuration is required for the vault source")
		return
	}

	if vc.Address == "" {
		v.addError("ticket.secret.vault.address", "address is required")
	}

	switch vc.AuthMethod {
	case "", "token":
		if vc.Token == "" {
			v.addError("ticket.secret.vault.token", "token is required for token auth")
		}
	case "approle":
		if vc.AppRoleID == "" {
			v.addError("ticket.secret.vault.appRoleId", "appRoleId is required for approle auth")
		}
	default:
		v.addError("ticket.secret.vault.authMethod", fmt.Sprintf(
			"unknown auth method %q (must be token or approle)", vc.AuthMethod,
		))
	}
}

// validateAuth validates extraction sources, cookie attributes, and
// refresh settings.
func (v *Validator) validateAuth(auth *AuthConfig) {
	if len(auth.Sources) == 0 {
		v.addError("auth.sources", "at least one extraction source is required")
	}

	for i, source := range auth.Sources {
		path := fmt.Sprintf("auth.sources[%d]", i)
		switch source.Type {
		case "header", "cookie", "query":
		case "":
			v.addError(path+".type", "source type is required")
		default:
			v.addError(path+".type", fmt.Sprintf(
				"unknown source type %q (must be header, cookie, or query)", source.Type,
			))
		}
		if source.Name == "" {
			v.addError(path+".name", "source name is required")
		}
	}

	for i, token := range auth.RequiredTokens {
		if token == "" {
			v.addError(fmt.Sprintf("auth.requiredTokens[%d]", i), "token must not be empty")
		}
	}

	if auth.Refresh.Enabled {
		if auth.Refresh.ThresholdFraction <= 0 || auth.Refresh.ThresholdFraction > 1 {
			v.addError("auth.refresh.thresholdFraction",
				"thresholdFraction must be greater than 0 and at most 1")
		}
	}

	if auth.Cookie.Name == "" {
		v.addError("auth.cookie.name", "cookie name is required")
	}
	switch auth.Cookie.SameSite {
	case "", "lax", "strict", "none":
	default:
		v.addError("auth.cookie.sameSite", fmt.Sprintf(
			"unknown sameSite %q (must be lax, strict, or none)", auth.Cookie.SameSite,
		))
	}
}

// validateRateLimit validates throttling settings. Disabled rate
// limiting skips all checks so an unused section cannot fail startup.
func (v *Validator) validateRateLimit(rl *RateLimitConfig) {
	if !rl.Enabled {
		return
	}

	switch rl.Algorithm {
	case "token_bucket", "fixed_window":
	case "":
		v.addError("rateLimit.algorithm", "algorithm is required")
	default:
		v.addError("rateLimit.algorithm", fmt.Sprintf(
			"unknown algorithm %q (must be token_bucket or fixed_window)", rl.Algorithm,
		))
	}

	if rl.RequestsPerSecond <= 0 {
		v.addError("rateLimit.requestsPerSecond", "requestsPerSecond must be positive")
	}

	switch rl.KeyBy {
	case "ip", "user":
	case "":
		v.addError("rateLimit.keyBy", "keyBy is required")
	default:
		v.addError("rateLimit.keyBy", fmt.Sprintf(
			"unknown keyBy %q (must be ip or user)", rl.KeyBy,
		))
	}

	switch rl.Store.Type {
	case "memory", "redis":
	case "":
		v.addError("rateLimit.store.type", "store type is required")
	default:
		v.addError("rateLimit.store.type", fmt.Sprintf(
			"unknown store type %q (must be memory or redis)", rl.Store.Type,
		))
	}

	switch rl.Algorithm {
	case "token_bucket":
		if rl.Burst < 1 {
			v.addError("rateLimit.burst", "burst must be at least 1")
		}
		if rl.Store.Type == "redis" {
			v.addError("rateLimit.store.type", "token_bucket keeps state in memory; use the memory store")
		}
	case "fixed_window":
		if rl.Window <= 0 {
			v.addError("rateLimit.window", "window must be positive")
		}
		if rl.Store.Type == "memory" {
			v.addError("rateLimit.store.type", "fixed_window keeps state in redis; use the redis store")
		}
		if rl.Store.Type == "redis" && rl.Store.Redis.Addr == "" {
			v.addError("rateLimit.store.redis.addr", "addr is required for the redis store")
		}
	}
}

// validateAudit validates the security event trail settings.
func (v *Validator) validateAudit(audit *AuditConfig) {
	if !audit.Enabled {
		return
	}

	if audit.BufferSize <= 0 {
		v.addError("audit.bufferSize", "bufferSize must be positive")
	}
	if audit.FlushInterval <= 0 {
		v.addError("audit.flushInterval", "flushInterval must be positive")
	}
}

// validateLog validates structured logging settings.
func (v *Validator) validateLog(log *LogConfig) {
	switch log.Level {
	case "debug", "info", "warn", "error":
	case "":
		v.addError("log.level", "level is required")
	default:
		v.addError("log.level", fmt.Sprintf(
			"unknown level %q (must be debug, info, warn, or error)", log.Level,
		))
	}

	switch log.Format {
	case "json", "console":
	case "":
		v.addError("log.format", "format is required")
	default:
		v.addError("log.format", fmt.Sprintf(
			"unknown format %q (must be json or console)", log.Format,
		))
	}

	if log.Output == "" {
		v.addError("log.output", "output is required")
	}
}

// validateTracing validates OpenTelemetry tracing settings.
func (v *Validator) validateTracing(tracing *TracingConfig) {
	if !tracing.Enabled {
		return
	}

	if tracing.Endpoint == "" {
		v.addError("tracing.endpoint", "endpoint is required when tracing is enabled")
	}
	if tracing.ServiceName == "" {
		v.addError("tracing.serviceName", "serviceName is required when tracing is enabled")
	}
	if tracing.SampleRatio < 0 || tracing.SampleRatio > 1 {
		v.addError("tracing.sampleRatio", "sampleRatio must be between 0 and 1")
	}
}

// addError adds a validation error.
func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{
		Path:    path,
		Message: message,
	})
}
