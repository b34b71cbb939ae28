package config

import (
	"time"

	"github.com/vyrodovalexey/tktauth/internal/ticket"
)

// Config is the root configuration for the ticket service.
type Config struct {
	// Server configures the HTTP and gRPC listeners
	Server ServerConfig `yaml:"server"`

	// Ticket configures the signing factory and its secret source
	Ticket TicketConfig `yaml:"ticket"`

	// Auth configures request binding: extraction sources, cookie
	// attributes, refresh, and the gRPC interceptors
	Auth AuthConfig `yaml:"auth"`

	// RateLimit configures request throttling
	RateLimit RateLimitConfig `yaml:"rateLimit"`

	// Audit configures the security event trail
	Audit AuditConfig `yaml:"audit"`

	// Log configures structured logging
	Log LogConfig `yaml:"log"`

	// Tracing configures OpenTelemetry tracing
	Tracing TracingConfig `yaml:"tracing"`
}

// ServerConfig defines the listener addresses and HTTP server limits.
type ServerConfig struct {
	// ListenAddr is the address the HTTP API listens on
	ListenAddr string `yaml:"listenAddr"`

	// GRPCAddr is the address the gRPC validation service listens on
	// when auth.grpc.enabled is set
	GRPCAddr string `yaml:"grpcAddr"`

	// MetricsAddr is the address the metrics and health endpoints
	// listen on
	MetricsAddr string `yaml:"metricsAddr"`

	// ReadTimeout is the maximum duration for reading a request
	ReadTimeout Duration `yaml:"readTimeout"`

	// WriteTimeout is the maximum duration for writing a response
	WriteTimeout Duration `yaml:"writeTimeout"`

	// IdleTimeout is the maximum time to wait for the next request on
	// a kept-alive connection
	IdleTimeout Duration `yaml:"idleTimeout"`

	// ShutdownTimeout bounds the graceful drain on shutdown
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`

	// MaxBodyBytes caps the request body size for the issue and
	// validate endpoints
	MaxBodyBytes int64 `yaml:"maxBodyBytes"`

	// TrustedProxies lists IP addresses or CIDR prefixes whose
	// X-Forwarded-For entries are trusted during client IP resolution
	TrustedProxies []string `yaml:"trustedProxies,omitempty"`
}

// TicketConfig defines the signing factory parameters.
type TicketConfig struct {
	// Algorithm selects the digest algorithm used for ticket MACs
	Algorithm string `yaml:"algorithm"`

	// DefaultLifetime is applied to issued tickets that do not carry
	// an explicit expiry
	DefaultLifetime Duration `yaml:"defaultLifetime"`

	// PayloadEncoding names an IANA charset applied to the user id,
	// tokens, and user data before signing. Empty means UTF-8
	// passthrough.
	PayloadEncoding string `yaml:"payloadEncoding,omitempty"`

	// Secret configures where the signing secret comes from
	Secret SecretConfig `yaml:"secret"`
}

// SecretConfig selects and configures the signing secret source.
type SecretConfig struct {
	// Source selects the secret backend: env, file, or vault
	Source string `yaml:"source"`

	// Path is the secret path passed to the provider
	Path string `yaml:"path"`

	// Key is the entry inside the secret holding the signing key bytes
	Key string `yaml:"key"`

	// Env configures the environment variable provider
	Env EnvSecretConfig `yaml:"env"`

	// File configures the file provider
	File FileSecretConfig `yaml:"file"`

	// Vault configures the HashiCorp Vault provider
	Vault *VaultSecretConfig `yaml:"vault,omitempty"`
}

// EnvSecretConfig configures the environment variable secret provider.
type EnvSecretConfig struct {
	// Prefix is prepended to the normalized secret path to form the
	// environment variable name
	Prefix string `yaml:"prefix"`
}

// FileSecretConfig configures the file secret provider.
type FileSecretConfig struct {
	// BasePath is the directory secrets are read from
	BasePath string `yaml:"basePath"`

	// Watch enables change notification so rotated secret files are
	// picked up without a restart
	Watch bool `yaml:"watch"`

	// DebounceDelay batches rapid file events into one notification
	DebounceDelay Duration `yaml:"debounceDelay"`
}

// VaultSecretConfig configures the HashiCorp Vault secret provider.
type VaultSecretConfig struct {
	// Address is the Vault server URL
	Address string `yaml:"address"`

	// Namespace is the Vault namespace (Vault Enterprise)
	Namespace string `yaml:"namespace,omitempty"`

	// AuthMethod is token or approle. Empty defaults to token.
	AuthMethod string `yaml:"authMethod,omitempty"`

	// Token is the Vault token for token auth
	Token string `yaml:"token,omitempty"`

	// AppRoleID is the role ID for approle auth
	AppRoleID string `yaml:"appRoleId,omitempty"`

	// AppRoleSecretID is the secret ID for approle auth
	AppRoleSecretID string `yaml:"appRoleSecretId,omitempty"`

	// AppRoleMountPath is the approle auth mount path
	AppRoleMountPath string `yaml:"appRoleMountPath,omitempty"`

	// MountPoint is the KV v2 secrets engine mount point
	MountPoint string `yaml:"mountPoint,omitempty"`

	// Timeout is the Vault client request timeout
	Timeout Duration `yaml:"timeout,omitempty"`

	// MaxRetries is the Vault client retry count
	MaxRetries int `yaml:"maxRetries,omitempty"`

	// TLSSkipVerify disables TLS certificate verification
	TLSSkipVerify bool `yaml:"tlsSkipVerify,omitempty"`

	// CACert is the path to a CA certificate for Vault TLS
	CACert string `yaml:"caCert,omitempty"`

	// BreakerThreshold is the consecutive failure count that opens the
	// circuit breaker guarding Vault reads
	BreakerThreshold int `yaml:"breakerThreshold,omitempty"`

	// BreakerTimeout is how long the breaker stays open before probing
	BreakerTimeout Duration `yaml:"breakerTimeout,omitempty"`
}

// AuthConfig defines how tickets are bound to requests.
type AuthConfig struct {
	// Sources is the ordered ticket extraction chain. The first source
	// that yields a ticket wins.
	Sources []SourceConfig `yaml:"sources"`

	// IgnoreIP disables client IP checking during validation, for
	// deployments behind address-rewriting proxies
	IgnoreIP bool `yaml:"ignoreIp"`

	// RequiredTokens lists capability tokens a ticket must carry for
	// protected routes
	RequiredTokens []string `yaml:"requiredTokens,omitempty"`

	// SetRemoteUserHeaders forwards the authenticated identity to
	// upstream handlers via X-Remote-User headers
	SetRemoteUserHeaders bool `yaml:"setRemoteUserHeaders"`

	// Refresh configures sliding-expiry cookie refresh
	Refresh RefreshConfig `yaml:"refresh"`

	// Cookie configures the auth cookie attributes
	Cookie CookieConfig `yaml:"cookie"`

	// GRPC configures the gRPC auth interceptors
	GRPC GRPCAuthConfig `yaml:"grpc"`
}

// SourceConfig describes one ticket extraction source.
type SourceConfig struct {
	// Type is header, cookie, or query
	Type string `yaml:"type"`

	// Name is the header, cookie, or query parameter name
	Name string `yaml:"name"`

	// Prefix is stripped from the extracted value, e.g. "Ticket " on
	// an Authorization header
	Prefix string `yaml:"prefix,omitempty"`
}

// RefreshConfig configures sliding-expiry cookie refresh.
type RefreshConfig struct {
	// Enabled turns on cookie refresh for near-expiry tickets
	Enabled bool `yaml:"enabled"`

	// ThresholdFraction refreshes the cookie once the remaining
	// lifetime drops below this fraction of the default lifetime
	ThresholdFraction float64 `yaml:"thresholdFraction"`
}

// CookieConfig defines the auth cookie attributes.
type CookieConfig struct {
	// Name is the cookie name
	Name string `yaml:"name"`

	// Domain is the cookie domain. Empty scopes the cookie to the
	// issuing host.
	Domain string `yaml:"domain,omitempty"`

	// Path is the cookie path
	Path string `yaml:"path"`

	// Secure restricts the cookie to TLS connections
	Secure bool `yaml:"secure"`

	// HTTPOnly hides the cookie from client-side scripts
	HTTPOnly bool `yaml:"httpOnly"`

	// SameSite is lax, strict, or none
	SameSite string `yaml:"sameSite"`

	// MaxAgeFromTicket derives the cookie Max-Age from the ticket's
	// remaining lifetime instead of issuing a session cookie
	MaxAgeFromTicket bool `yaml:"maxAgeFromTicket"`
}

// GRPCAuthConfig configures the gRPC auth interceptors.
type GRPCAuthConfig struct {
	// Enabled starts the gRPC validation service with the auth
	// interceptors installed
	Enabled bool `yaml:"enabled"`

	// SkipMethods lists full method names the interceptors let through
	// unauthenticated, e.g. /grpc.health.v1.Health/Check
	SkipMethods []string `yaml:"skipMethods,omitempty"`
}

// RateLimitConfig defines request throttling.
type RateLimitConfig struct {
	// Enabled turns rate limiting on
	Enabled bool `yaml:"enabled"`

	// Algorithm is token_bucket (in-memory) or fixed_window (redis)
	Algorithm string `yaml:"algorithm"`

	// RequestsPerSecond is the sustained request rate per client key
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`

	// Burst is the token bucket capacity
	Burst int `yaml:"burst"`

	// Window is the fixed window length
	Window Duration `yaml:"window"`

	// KeyBy selects the client key: ip or user
	KeyBy string `yaml:"keyBy"`

	// Store configures the limiter state store
	Store StoreConfig `yaml:"store"`
}

// StoreConfig selects the rate limiter state store.
type StoreConfig struct {
	// Type is memory or redis
	Type string `yaml:"type"`

	// Redis configures the redis store
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig defines the redis connection.
type RedisConfig struct {
	// Addr is the redis host:port
	Addr string `yaml:"addr"`

	// Password is the redis password
	Password string `yaml:"password,omitempty"`

	// DB is the redis database number
	DB int `yaml:"db,omitempty"`
}

// AuditConfig defines the security event trail.
type AuditConfig struct {
	// Enabled turns audit logging on
	Enabled bool `yaml:"enabled"`

	// Path is the audit log file. Empty writes to stdout.
	Path string `yaml:"path,omitempty"`

	// BufferSize is the event channel capacity. Events beyond it are
	// dropped rather than blocking the request path.
	BufferSize int `yaml:"bufferSize"`

	// FlushInterval bounds how long a buffered event waits for a write
	FlushInterval Duration `yaml:"flushInterval"`
}

// LogConfig defines structured logging.
type LogConfig struct {
	// Level is debug, info, warn, or error
	Level string `yaml:"level"`

	// Format is json or console
	Format string `yaml:"format"`

	// Output is stdout, stderr, or a file path
	Output string `yaml:"output"`
}

// TracingConfig defines OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled turns tracing on
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector endpoint
	Endpoint string `yaml:"endpoint"`

	// ServiceName identifies this service in traces
	ServiceName string `yaml:"serviceName"`

	// SampleRatio is the trace sampling ratio between 0 and 1
	SampleRatio float64 `yaml:"sampleRatio"`

	// Insecure disables TLS on the collector connection
	Insecure bool `yaml:"insecure"`
}

// DefaultConfig returns a configuration with sensible defaults. Loading
// unmarshals file contents on top of these, so a minimal file only
// needs to state what differs.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			GRPCAddr:        ":9090",
			MetricsAddr:     ":9091",
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			IdleTimeout:     Duration(120 * time.Second),
			ShutdownTimeout: Duration(30 * time.Second),
			MaxBodyBytes:    1 << 20,
		},
		Ticket: TicketConfig{
			Algorithm:       ticket.DefaultAlgorithm,
			DefaultLifetime: Duration(ticket.DefaultLifetime),
			Secret: SecretConfig{
				Source: "env",
				Path:   "ticket",
				Key:    "value",
				Env: EnvSecretConfig{
					Prefix: "TKTAUTH_SECRET_",
				},
				File: FileSecretConfig{
					BasePath:      "/etc/tktauth/secrets",
					DebounceDelay: Duration(100 * time.Millisecond),
				},
			},
		},
		Auth: AuthConfig{
			Sources: []SourceConfig{
				{Type: "cookie", Name: "auth_tkt"},
				{Type: "header", Name: "X-Auth-Ticket"},
				{Type: "header", Name: "Authorization", Prefix: "Ticket "},
				{Type: "query", Name: "ticket"},
			},
			Refresh: RefreshConfig{
				Enabled:           false,
				ThresholdFraction: 0.5,
			},
			Cookie: CookieConfig{
				Name:             "auth_tkt",
				Path:             "/",
				HTTPOnly:         true,
				SameSite:         "lax",
				MaxAgeFromTicket: true,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			Algorithm:         "token_bucket",
			RequestsPerSecond: 50,
			Burst:             100,
			Window:            Duration(time.Second),
			KeyBy:             "ip",
			Store: StoreConfig{
				Type: "memory",
				Redis: RedisConfig{
					Addr: "localhost:6379",
				},
			},
		},
		Audit: AuditConfig{
			Enabled:       false,
			BufferSize:    1024,
			FlushInterval: Duration(5 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "tktauth",
			SampleRatio: 1.0,
			Insecure:    true,
		},
	}
}
