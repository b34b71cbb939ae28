package secrets

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ProviderConfig holds configuration for creating providers
type ProviderConfig struct {
	// Type is the provider type
	Type ProviderType
	// EnvPrefix is the prefix for environment variable secrets
	EnvPrefix string
	// FileBasePath is the base path for file secrets
	FileBasePath string
	// FileWatch enables change notifications for file secrets
	FileWatch bool
	// FileDebounceDelay coalesces rapid file events
	FileDebounceDelay time.Duration
	// FileOnChange is invoked when a watched file secret changes
	FileOnChange func(name string)
	// VaultConfig holds Vault-specific configuration
	VaultConfig *VaultProviderConfig
	// Logger is the logger instance
	Logger *zap.Logger
}

// NewProvider creates a new secrets provider based on config
func NewProvider(ctx context.Context, cfg *ProviderConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", ErrProviderNotConfigured)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Type {
	case ProviderTypeEnv:
		return NewEnvProvider(&EnvProviderConfig{
			Prefix: cfg.EnvPrefix,
			Logger: logger,
		})

	case ProviderTypeFile:
		return NewFileProvider(&FileProviderConfig{
			BasePath:      cfg.FileBasePath,
			Watch:         cfg.FileWatch,
			DebounceDelay: cfg.FileDebounceDelay,
			OnChange:      cfg.FileOnChange,
			Logger:        logger,
		})

	case ProviderTypeVault:
		if cfg.VaultConfig == nil {
			return nil, fmt.Errorf("%w: vault config is required for vault provider", ErrProviderNotConfigured)
		}
		vaultCfg := *cfg.VaultConfig
		vaultCfg.Logger = logger
		return NewVaultProvider(ctx, &vaultCfg)

	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidProviderType, cfg.Type)
	}
}
