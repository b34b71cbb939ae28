// Package secrets supplies the ticket-signing secret from pluggable
// backends: environment variables, local files, and HashiCorp Vault.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ProviderType represents the type of secrets provider
type ProviderType string

const (
	// ProviderTypeEnv uses environment variables as the backend
	ProviderTypeEnv ProviderType = "env"
	// ProviderTypeFile uses local files as the backend
	ProviderTypeFile ProviderType = "file"
	// ProviderTypeVault uses HashiCorp Vault as the backend
	ProviderTypeVault ProviderType = "vault"
)

// Common errors for secrets providers
var (
	// ErrSecretNotFound is returned when a secret is not found
	ErrSecretNotFound = errors.New("secret not found")
	// ErrSecretKeyNotFound is returned when a secret exists but lacks the requested key
	ErrSecretKeyNotFound = errors.New("secret key not found")
	// ErrProviderNotConfigured is returned when the provider is not properly configured
	ErrProviderNotConfigured = errors.New("provider not configured")
	// ErrInvalidPath is returned when the secret path is invalid
	ErrInvalidPath = errors.New("invalid secret path")
	// ErrProviderUnavailable is returned when the provider is temporarily unavailable
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrInvalidProviderType is returned when an unknown provider type is specified
	ErrInvalidProviderType = errors.New("invalid provider type")
)

// Secret represents a secret with key-value data. Values are held as
// raw bytes and must never be logged or serialized.
type Secret struct {
	// Name is the name of the secret
	Name string
	// Data contains the secret key-value pairs
	Data map[string][]byte
	// Metadata contains additional metadata about the secret
	Metadata map[string]string
	// Version is the version of the secret (if supported by the provider)
	Version string
	// UpdatedAt is when the secret was last updated
	UpdatedAt *time.Time
}

// GetString returns a string value from the secret data
func (s *Secret) GetString(key string) (string, bool) {
	if s == nil || s.Data == nil {
		return "", false
	}
	v, ok := s.Data[key]
	if !ok {
		return "", false
	}
	return string(v), true
}

// GetBytes returns a byte slice value from the secret data
func (s *Secret) GetBytes(key string) ([]byte, bool) {
	if s == nil || s.Data == nil {
		return nil, false
	}
	v, ok := s.Data[key]
	return v, ok
}

// Provider is the interface for secrets providers
type Provider interface {
	// Type returns the provider type
	Type() ProviderType

	// GetSecret retrieves a secret by path/name
	// Path format depends on the provider:
	// - env: "SECRET_NAME" (maps to env var with configured prefix)
	// - file: "secret-name" (maps to base-path/secret-name[.yaml|.json] or a key directory)
	// - vault: "path/to/secret" under the configured KV v2 mount
	GetSecret(ctx context.Context, path string) (*Secret, error)

	// IsReadOnly returns true if provider doesn't support writes
	IsReadOnly() bool

	// HealthCheck checks provider connectivity
	// Returns nil if the provider is healthy
	HealthCheck(ctx context.Context) error

	// Close cleans up provider resources
	Close() error
}

// Prometheus metrics for secrets provider operations
var (
	secretsOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tktauth",
			Subsystem: "secrets",
			Name:      "operation_duration_seconds",
			Help:      "Duration of secrets provider operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "operation", "result"},
	)

	secretsOperationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tktauth",
			Subsystem: "secrets",
			Name:      "operation_total",
			Help:      "Total number of secrets provider operations",
		},
		[]string{"provider", "operation", "result"},
	)

	secretsProviderHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tktauth",
			Subsystem: "secrets",
			Name:      "provider_healthy",
			Help:      "Whether the secrets provider is healthy (1) or not (0)",
		},
		[]string{"provider"},
	)
)

func init() {
	prometheus.MustRegister(
		secretsOperationDuration,
		secretsOperationTotal,
		secretsProviderHealth,
	)
}

// RecordOperation records metrics for a secrets provider operation
func RecordOperation(provider ProviderType, operation string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	providerStr := string(provider)
	secretsOperationDuration.WithLabelValues(providerStr, operation, result).Observe(duration.Seconds())
	secretsOperationTotal.WithLabelValues(providerStr, operation, result).Inc()
}

// RecordHealthStatus records the health status of a provider
func RecordHealthStatus(provider ProviderType, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	secretsProviderHealth.WithLabelValues(string(provider)).Set(value)
}

// ValidateProviderType validates that the given string is a valid provider type
func ValidateProviderType(providerType string) (ProviderType, error) {
	switch ProviderType(providerType) {
	case ProviderTypeEnv, ProviderTypeFile, ProviderTypeVault:
		return ProviderType(providerType), nil
	default:
		return "", fmt.Errorf("%w: %s, must be one of: env, file, vault", ErrInvalidProviderType, providerType)
	}
}

// IsValidProviderType checks if the given string is a valid provider type
func IsValidProviderType(providerType string) bool {
	_, err := ValidateProviderType(providerType)
	return err == nil
}
