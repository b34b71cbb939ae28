package auth

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/tktauth/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	assert.Equal(t, DefaultSources(), cfg.Sources)
	assert.False(t, cfg.IgnoreIP)
	assert.Equal(t, "auth_tkt", cfg.Cookie.Name)
	assert.Equal(t, http.SameSiteLaxMode, cfg.Cookie.SameSite)
	assert.True(t, cfg.Cookie.HTTPOnly)
	assert.True(t, cfg.Cookie.MaxAgeFromTicket)
	assert.Equal(t, 0.5, cfg.Refresh.ThresholdFraction)
}

func TestFromAuthConfig(t *testing.T) {
	t.Parallel()

	src := config.AuthConfig{
		Sources: []config.SourceConfig{
			{Type: "Header", Name: "X-Auth-Ticket"},
			{Type: "cookie", Name: "auth_tkt"},
			{Type: "query", Name: "ticket"},
		},
		IgnoreIP:             true,
		RequiredTokens:       []string{"admin"},
		SetRemoteUserHeaders: true,
		Refresh: config.RefreshConfig{
			Enabled:           true,
			ThresholdFraction: 0.25,
		},
		Cookie: config.CookieConfig{
			Name:             "auth_tkt",
			Domain:           "example.com",
			Path:             "/",
			Secure:           true,
			HTTPOnly:         true,
			SameSite:         "strict",
			MaxAgeFromTicket: true,
		},
		GRPC: config.GRPCAuthConfig{
			SkipMethods: []string{"/grpc.health.v1.Health/Check"},
		},
	}

	cfg, err := FromAuthConfig(src)
	require.NoError(t, err)

	require.Len(t, cfg.Sources, 3)
	assert.Equal(t, ExtractionTypeHeader, cfg.Sources[0].Type)
	assert.Equal(t, "X-Auth-Ticket", cfg.Sources[0].Name)
	assert.True(t, cfg.IgnoreIP)
	assert.Equal(t, []string{"admin"}, cfg.RequiredTokens)
	assert.True(t, cfg.SetRemoteUserHeaders)
	assert.True(t, cfg.Refresh.Enabled)
	assert.Equal(t, 0.25, cfg.Refresh.ThresholdFraction)
	assert.Equal(t, "example.com", cfg.Cookie.Domain)
	assert.Equal(t, http.SameSiteStrictMode, cfg.Cookie.SameSite)
	assert.Equal(t, []string{"/grpc.health.v1.Health/Check"}, cfg.SkipMethods)
}

func TestFromAuthConfig_UnknownSourceType(t *testing.T) {
	t.Parallel()

	_, err := FromAuthConfig(config.AuthConfig{
		Sources: []config.SourceConfig{
			{Type: "body", Name: "ticket"},
		},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown extraction source type")
}

func TestFromAuthConfig_UnnamedSource(t *testing.T) {
	t.Parallel()

	_, err := FromAuthConfig(config.AuthConfig{
		Sources: []config.SourceConfig{
			{Type: "header"},
		},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no name")
}

func TestFromAuthConfig_UnknownSameSite(t *testing.T) {
	t.Parallel()

	_, err := FromAuthConfig(config.AuthConfig{
		Cookie: config.CookieConfig{SameSite: "sideways"},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown sameSite value")
}

func TestParseSameSite(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value string
		want  http.SameSite
	}{
		{"", http.SameSiteLaxMode},
		{"lax", http.SameSiteLaxMode},
		{"Lax", http.SameSiteLaxMode},
		{"strict", http.SameSiteStrictMode},
		{"none", http.SameSiteNoneMode},
	}

	for _, tt := range tests {
		got, err := parseSameSite(tt.value)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "value %q", tt.value)
	}
}

func TestCookieConfig_NewCookie(t *testing.T) {
	t.Parallel()

	cfg := CookieConfig{
		Name:     "auth_tkt",
		Domain:   "example.com",
		Path:     "/",
		Secure:   true,
		HTTPOnly: true,
		SameSite: http.SameSiteStrictMode,
	}

	cookie := cfg.NewCookie("aa112233alice%20smith!admin!data", 600)

	assert.Equal(t, "auth_tkt", cookie.Name)
	assert.Equal(t, "aa112233alice%20smith!admin!data", cookie.Value)
	assert.Equal(t, "example.com", cookie.Domain)
	assert.Equal(t, "/", cookie.Path)
	assert.True(t, cookie.Secure)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.Equal(t, 600, cookie.MaxAge)
}
