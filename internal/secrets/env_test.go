package secrets

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewEnvProvider(t *testing.T) {
	// Test with nil config (should use defaults)
	provider, err := NewEnvProvider(nil)
	require.NoError(t, err)
	assert.NotNil(t, provider)
	assert.Equal(t, DefaultEnvPrefix, provider.prefix)

	// Test with custom prefix
	provider, err = NewEnvProvider(&EnvProviderConfig{
		Prefix: "CUSTOM_",
	})
	require.NoError(t, err)
	assert.Equal(t, "CUSTOM_", provider.prefix)
}

func TestEnvProviderType(t *testing.T) {
	provider, err := NewEnvProvider(nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderTypeEnv, provider.Type())
}

func TestEnvProviderNormalizeEnvName(t *testing.T) {
	provider, err := NewEnvProvider(&EnvProviderConfig{Prefix: "PFX_"})
	require.NoError(t, err)

	tests := []struct {
		path     string
		expected string
	}{
		{"simple", "PFX_SIMPLE"},
		{"with-dash", "PFX_WITH_DASH"},
		{"with.dot", "PFX_WITH_DOT"},
		{"nested/path", "PFX_NESTED_PATH"},
		{"Mixed-Case.name", "PFX_MIXED_CASE_NAME"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, provider.normalizeEnvName(tt.path))
	}
}

func TestEnvProviderGetSecret(t *testing.T) {
	logger := zap.NewNop()
	provider, err := NewEnvProvider(&EnvProviderConfig{
		Prefix: "TEST_SECRET_",
		Logger: logger,
	})
	require.NoError(t, err)

	ctx := context.Background()

	// Test with non-existing env var
	_, err = provider.GetSecret(ctx, "nonexistent")
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrSecretNotFound)

	// Test with simple value
	os.Setenv("TEST_SECRET_SIMPLE", "simple-value")
	defer os.Unsetenv("TEST_SECRET_SIMPLE")

	secret, err := provider.GetSecret(ctx, "simple")
	require.NoError(t, err)
	assert.Equal(t, "simple", secret.Name)
	val, ok := secret.GetString("value")
	assert.True(t, ok)
	assert.Equal(t, "simple-value", val)

	// Test with JSON value
	os.Setenv("TEST_SECRET_JSON", `{"signing-key":"s3cret","algorithm":"sha512"}`)
	defer os.Unsetenv("TEST_SECRET_JSON")

	secret, err = provider.GetSecret(ctx, "json")
	require.NoError(t, err)
	key, ok := secret.GetString("signing-key")
	assert.True(t, ok)
	assert.Equal(t, "s3cret", key)
	alg, ok := secret.GetString("algorithm")
	assert.True(t, ok)
	assert.Equal(t, "sha512", alg)

	// Test with dashed path mapping to underscored env var
	os.Setenv("TEST_SECRET_TICKET_KEY", "dashed-value")
	defer os.Unsetenv("TEST_SECRET_TICKET_KEY")

	secret, err = provider.GetSecret(ctx, "ticket-key")
	require.NoError(t, err)
	val, ok = secret.GetString("value")
	assert.True(t, ok)
	assert.Equal(t, "dashed-value", val)

	// Test with empty path
	_, err = provider.GetSecret(ctx, "")
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestEnvProviderGetSecretJSONNonString(t *testing.T) {
	provider, err := NewEnvProvider(&EnvProviderConfig{Prefix: "TEST_SECRET_"})
	require.NoError(t, err)

	// Non-string JSON values are re-encoded as JSON
	os.Setenv("TEST_SECRET_COMPLEX", `{"ttl":120,"tokens":["admin","ops"]}`)
	defer os.Unsetenv("TEST_SECRET_COMPLEX")

	secret, err := provider.GetSecret(context.Background(), "complex")
	require.NoError(t, err)

	ttl, ok := secret.GetString("ttl")
	assert.True(t, ok)
	assert.Equal(t, "120", ttl)

	tokens, ok := secret.GetString("tokens")
	assert.True(t, ok)
	assert.JSONEq(t, `["admin","ops"]`, tokens)
}

func TestEnvProviderIsReadOnly(t *testing.T) {
	provider, err := NewEnvProvider(nil)
	require.NoError(t, err)
	assert.True(t, provider.IsReadOnly())
}

func TestEnvProviderHealthCheck(t *testing.T) {
	provider, err := NewEnvProvider(nil)
	require.NoError(t, err)
	assert.NoError(t, provider.HealthCheck(context.Background()))
}

func TestEnvProviderClose(t *testing.T) {
	provider, err := NewEnvProvider(nil)
	require.NoError(t, err)
	assert.NoError(t, provider.Close())
}
