package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/vyrodovalexey/tktauth/internal/config"
)

// Config controls how the authenticator binds tickets to requests.
type Config struct {
	// Sources is the ordered ticket extraction chain.
	Sources []ExtractionSource

	// IgnoreIP disables client IP checking during validation.
	IgnoreIP bool

	// RequiredTokens lists tokens a ticket must carry to pass.
	RequiredTokens []string

	// SetRemoteUserHeaders forwards the authenticated identity to
	// handlers via X-Remote-User headers on the request.
	SetRemoteUserHeaders bool

	// Refresh configures sliding-expiry cookie refresh.
	Refresh RefreshConfig

	// Cookie configures the auth cookie the service issues and
	// refreshes.
	Cookie CookieConfig

	// SkipMethods lists full gRPC method names the interceptors let
	// through unauthenticated.
	SkipMethods []string
}

// RefreshConfig configures sliding-expiry cookie refresh.
type RefreshConfig struct {
	// Enabled turns on refresh for near-expiry tickets.
	Enabled bool

	// ThresholdFraction refreshes once the remaining lifetime drops
	// below this fraction of the factory's default lifetime.
	ThresholdFraction float64
}

// CookieConfig defines the auth cookie attributes.
type CookieConfig struct {
	Name     string
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
	SameSite http.SameSite

	// MaxAgeFromTicket derives the cookie Max-Age from the ticket's
	// remaining lifetime instead of issuing a session cookie.
	MaxAgeFromTicket bool
}

// NewCookie builds the auth cookie for a ticket value. The value is
// set verbatim; tickets are percent quoted at issue time and must not
// be escaped again. maxAge follows http.Cookie semantics: 0 omits
// Max-Age, negative deletes the cookie.
func (c CookieConfig) NewCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
		SameSite: c.SameSite,
		MaxAge:   maxAge,
	}
}

// DefaultConfig returns the authenticator defaults: the standard
// extraction chain, IP checking on, and a host-scoped HttpOnly
// session cookie.
func DefaultConfig() *Config {
	return &Config{
		Sources: DefaultSources(),
		Refresh: RefreshConfig{
			ThresholdFraction: 0.5,
		},
		Cookie: CookieConfig{
			Name:             "auth_tkt",
			Path:             "/",
			HTTPOnly:         true,
			SameSite:         http.SameSiteLaxMode,
			MaxAgeFromTicket: true,
		},
	}
}

// FromAuthConfig converts the service configuration's auth section to
// an authenticator Config.
func FromAuthConfig(cfg config.AuthConfig) (*Config, error) {
	sources, err := convertSources(cfg.Sources)
	if err != nil {
		return nil, err
	}

	sameSite, err := parseSameSite(cfg.Cookie.SameSite)
	if err != nil {
		return nil, err
	}

	return &Config{
		Sources:              sources,
		IgnoreIP:             cfg.IgnoreIP,
		RequiredTokens:       cfg.RequiredTokens,
		SetRemoteUserHeaders: cfg.SetRemoteUserHeaders,
		Refresh: RefreshConfig{
			Enabled:           cfg.Refresh.Enabled,
			ThresholdFraction: cfg.Refresh.ThresholdFraction,
		},
		Cookie: CookieConfig{
			Name:             cfg.Cookie.Name,
			Domain:           cfg.Cookie.Domain,
			Path:             cfg.Cookie.Path,
			Secure:           cfg.Cookie.Secure,
			HTTPOnly:         cfg.Cookie.HTTPOnly,
			SameSite:         sameSite,
			MaxAgeFromTicket: cfg.Cookie.MaxAgeFromTicket,
		},
		SkipMethods: cfg.GRPC.SkipMethods,
	}, nil
}

// convertSources converts config source entries to extraction sources.
func convertSources(sources []config.SourceConfig) ([]ExtractionSource, error) {
	converted := make([]ExtractionSource, 0, len(sources))
	for _, source := range sources {
		extractionType := ExtractionType(strings.ToLower(source.Type))
		switch extractionType {
		case ExtractionTypeHeader, ExtractionTypeCookie, ExtractionTypeQuery:
		default:
			return nil, fmt.Errorf("unknown extraction source type: %s", source.Type)
		}
		if source.Name == "" {
			return nil, fmt.Errorf("extraction source of type %s has no name", source.Type)
		}
		converted = append(converted, ExtractionSource{
			Type:   extractionType,
			Name:   source.Name,
			Prefix: source.Prefix,
		})
	}
	return converted, nil
}

// parseSameSite maps the config's sameSite string to the http
// constant. Empty defaults to Lax.
func parseSameSite(value string) (http.SameSite, error) {
	switch strings.ToLower(value) {
	case "", "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("unknown sameSite value: %s", value)
	}
}
