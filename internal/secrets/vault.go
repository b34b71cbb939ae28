package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	vaultapi "github.com/hashicorp/vault/api"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Vault authentication methods
const (
	// VaultAuthToken authenticates with a static Vault token
	VaultAuthToken = "token"
	// VaultAuthAppRole authenticates via the AppRole login endpoint
	VaultAuthAppRole = "approle"
)

// VaultProviderConfig holds configuration for the Vault secrets provider
type VaultProviderConfig struct {
	// Address is the Vault server address
	Address string
	// Namespace is the Vault namespace (Enterprise only)
	Namespace string
	// AuthMethod is the authentication method (token, approle)
	AuthMethod string
	// Token is the Vault token for token auth
	Token string
	// AppRoleID is the AppRole role ID
	AppRoleID string
	// AppRoleSecretID is the AppRole secret ID
	AppRoleSecretID string
	// AppRoleMountPath is the AppRole auth mount path
	AppRoleMountPath string
	// SecretMountPoint is the KV v2 secrets engine mount point
	SecretMountPoint string
	// Timeout is the request timeout
	Timeout time.Duration
	// MaxRetries is the maximum number of retries
	MaxRetries int
	// TLSSkipVerify disables TLS certificate verification
	TLSSkipVerify bool
	// CACert is the path to a CA certificate file
	CACert string
	// BreakerThreshold is the number of requests before the circuit
	// breaker evaluates the failure ratio
	BreakerThreshold int
	// BreakerTimeout is how long the circuit stays open before probing
	BreakerTimeout time.Duration
	// Logger is the logger instance
	Logger *zap.Logger
}

// VaultProvider implements the Provider interface using HashiCorp Vault.
// Reads go through the KV v2 engine and are guarded by a circuit breaker
// so a struggling Vault cannot stall every signing-key fetch.
type VaultProvider struct {
	client           *vaultapi.Client
	kv               *vaultapi.KVv2
	breaker          *gobreaker.CircuitBreaker
	secretMountPoint string
	logger           *zap.Logger
}

// applyVaultProviderDefaults applies default values to a copy of the configuration.
func applyVaultProviderDefaults(cfg *VaultProviderConfig) *VaultProviderConfig {
	out := *cfg

	if out.AppRoleMountPath == "" {
		out.AppRoleMountPath = "approle"
	}
	if out.SecretMountPoint == "" {
		out.SecretMountPoint = "secret"
	}
	if out.Timeout == 0 {
		out.Timeout = 30 * time.Second
	}
	if out.MaxRetries == 0 {
		out.MaxRetries = 3
	}
	if out.BreakerThreshold <= 0 {
		out.BreakerThreshold = 5
	}
	if out.BreakerTimeout == 0 {
		out.BreakerTimeout = 30 * time.Second
	}

	return &out
}

// NewVaultProvider creates a new Vault secrets provider and authenticates
// with the configured method.
func NewVaultProvider(ctx context.Context, cfg *VaultProviderConfig) (*VaultProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", ErrProviderNotConfigured)
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("%w: vault address is required", ErrProviderNotConfigured)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg = applyVaultProviderDefaults(cfg)

	client, err := newVaultClient(cfg)
	if err != nil {
		return nil, err
	}

	if err := authenticateVault(ctx, client, cfg); err != nil {
		return nil, err
	}

	p := &VaultProvider{
		client:           client,
		kv:               client.KVv2(cfg.SecretMountPoint),
		breaker:          newVaultBreaker(cfg, logger),
		secretMountPoint: cfg.SecretMountPoint,
		logger:           logger,
	}

	logger.Info("Vault secrets provider initialized",
		zap.String("address", cfg.Address),
		zap.String("authMethod", cfg.AuthMethod),
		zap.String("mountPoint", cfg.SecretMountPoint),
	)

	return p, nil
}

// newVaultClient builds the Vault API client from the configuration.
func newVaultClient(cfg *VaultProviderConfig) (*vaultapi.Client, error) {
	clientConfig := vaultapi.DefaultConfig()
	clientConfig.Address = cfg.Address
	clientConfig.Timeout = cfg.Timeout
	clientConfig.MaxRetries = cfg.MaxRetries

	if cfg.TLSSkipVerify || cfg.CACert != "" {
		tlsConfig := &vaultapi.TLSConfig{
			CACert:   cfg.CACert,
			Insecure: cfg.TLSSkipVerify,
		}
		if err := clientConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure vault TLS: %w", err)
		}
	}

	client, err := vaultapi.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	return client, nil
}

// authenticateVault authenticates the client using the configured method.
func authenticateVault(ctx context.Context, client *vaultapi.Client, cfg *VaultProviderConfig) error {
	switch cfg.AuthMethod {
	case VaultAuthToken, "":
		if cfg.Token == "" {
			return fmt.Errorf("%w: token is required for token auth", ErrProviderNotConfigured)
		}
		client.SetToken(cfg.Token)

		// Verify the token before the provider is put into service
		if _, err := client.Auth().Token().LookupSelfWithContext(ctx); err != nil {
			return fmt.Errorf("vault token verification failed: %w", err)
		}
		return nil

	case VaultAuthAppRole:
		if cfg.AppRoleID == "" {
			return fmt.Errorf("%w: role_id is required for approle auth", ErrProviderNotConfigured)
		}

		loginPath := fmt.Sprintf("auth/%s/login", cfg.AppRoleMountPath)
		loginData := map[string]interface{}{
			"role_id":   cfg.AppRoleID,
			"secret_id": cfg.AppRoleSecretID,
		}

		resp, err := client.Logical().WriteWithContext(ctx, loginPath, loginData)
		if err != nil {
			return fmt.Errorf("vault approle login failed: %w", err)
		}
		if resp == nil || resp.Auth == nil || resp.Auth.ClientToken == "" {
			return fmt.Errorf("vault approle login returned no token")
		}

		client.SetToken(resp.Auth.ClientToken)
		return nil

	default:
		return fmt.Errorf("%w: unsupported auth method: %s", ErrProviderNotConfigured, cfg.AuthMethod)
	}
}

// newVaultBreaker builds the circuit breaker guarding Vault reads.
func newVaultBreaker(cfg *VaultProviderConfig, logger *zap.Logger) *gobreaker.CircuitBreaker {
	threshold := safeIntToUint32(cfg.BreakerThreshold)

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "vault-secrets",
		MaxRequests: threshold,
		Interval:    cfg.BreakerTimeout,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= threshold && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Vault circuit breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// safeIntToUint32 safely converts int to uint32.
func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n) // #nosec G115 -- bounds checked above
}

// Type returns the provider type
func (p *VaultProvider) Type() ProviderType {
	return ProviderTypeVault
}

// GetSecret retrieves a secret from the KV v2 engine.
// The read goes through the circuit breaker; while the circuit is open
// calls fail fast with ErrProviderUnavailable.
func (p *VaultProvider) GetSecret(ctx context.Context, path string) (*Secret, error) {
	start := time.Now()
	defer func() {
		RecordOperation(p.Type(), "get", time.Since(start), nil)
	}()

	if path == "" {
		RecordOperation(p.Type(), "get", time.Since(start), ErrInvalidPath)
		return nil, ErrInvalidPath
	}

	p.logger.Debug("Getting secret from Vault",
		zap.String("path", path),
		zap.String("mountPoint", p.secretMountPoint),
	)

	result, err := p.breaker.Execute(func() (interface{}, error) {
		kvSecret, err := p.kv.Get(ctx, path)
		if err != nil {
			// A missing secret is a definitive answer from the backend,
			// not a failure the breaker should count
			if errors.Is(err, vaultapi.ErrSecretNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return kvSecret, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			p.logger.Warn("Vault circuit breaker rejected read",
				zap.String("path", path),
			)
			RecordOperation(p.Type(), "get", time.Since(start), ErrProviderUnavailable)
			return nil, fmt.Errorf("%w: vault circuit open", ErrProviderUnavailable)
		}
		p.logger.Error("Failed to read secret from Vault",
			zap.String("path", path),
			zap.Error(err),
		)
		RecordOperation(p.Type(), "get", time.Since(start), err)
		return nil, fmt.Errorf("failed to read secret from vault: %w", err)
	}

	kvSecret, _ := result.(*vaultapi.KVSecret)
	if kvSecret == nil || kvSecret.Data == nil {
		RecordOperation(p.Type(), "get", time.Since(start), ErrSecretNotFound)
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, path)
	}

	data := make(map[string][]byte)
	for k, v := range kvSecret.Data {
		switch val := v.(type) {
		case string:
			data[k] = []byte(val)
		default:
			jsonBytes, err := json.Marshal(val)
			if err != nil {
				p.logger.Warn("Failed to marshal value to JSON",
					zap.String("key", k),
					zap.Error(err),
				)
				continue
			}
			data[k] = jsonBytes
		}
	}

	secret := &Secret{
		Name:     path,
		Data:     data,
		Metadata: map[string]string{"source": "vault", "mount": p.secretMountPoint},
	}

	if kvSecret.VersionMetadata != nil {
		secret.Version = strconv.Itoa(kvSecret.VersionMetadata.Version)
		createdAt := kvSecret.VersionMetadata.CreatedTime
		secret.UpdatedAt = &createdAt
	}

	p.logger.Debug("Successfully retrieved secret from Vault",
		zap.String("path", path),
		zap.Int("keys", len(data)),
		zap.String("version", secret.Version),
	)

	return secret, nil
}

// IsReadOnly returns true as the provider only reads from the KV engine
func (p *VaultProvider) IsReadOnly() bool {
	return true
}

// HealthCheck checks Vault connectivity and seal status
func (p *VaultProvider) HealthCheck(ctx context.Context) error {
	start := time.Now()

	resp, err := p.client.Sys().HealthWithContext(ctx)
	if err != nil {
		p.logger.Error("Vault provider health check failed", zap.Error(err))
		RecordHealthStatus(p.Type(), false)
		RecordOperation(p.Type(), "health_check", time.Since(start), err)
		return fmt.Errorf("vault health check failed: %w", err)
	}

	if !resp.Initialized {
		err := fmt.Errorf("vault is not initialized")
		RecordHealthStatus(p.Type(), false)
		RecordOperation(p.Type(), "health_check", time.Since(start), err)
		return err
	}
	if resp.Sealed {
		err := fmt.Errorf("vault is sealed")
		RecordHealthStatus(p.Type(), false)
		RecordOperation(p.Type(), "health_check", time.Since(start), err)
		return err
	}

	RecordHealthStatus(p.Type(), true)
	RecordOperation(p.Type(), "health_check", time.Since(start), nil)
	return nil
}

// Close cleans up provider resources
func (p *VaultProvider) Close() error {
	p.logger.Debug("Closing Vault secrets provider")
	return nil
}

// BreakerState returns the current circuit breaker state
func (p *VaultProvider) BreakerState() string {
	return p.breaker.State().String()
}
