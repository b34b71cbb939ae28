package auth

import (
	"errors"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/tktauth/internal/audit"
	"github.com/vyrodovalexey/tktauth/internal/observability"
	"github.com/vyrodovalexey/tktauth/internal/ticket"
)

// Headers the middleware writes.
const (
	// HeaderWWWAuthenticate is the WWW-Authenticate header name.
	HeaderWWWAuthenticate = "WWW-Authenticate"

	// HeaderRemoteUser carries the authenticated user id to handlers.
	HeaderRemoteUser = "X-Remote-User"

	// HeaderRemoteUserTokens carries the ticket's tokens, comma joined.
	HeaderRemoteUserTokens = "X-Remote-User-Tokens"

	// HeaderRemoteUserData carries the ticket's user data field.
	HeaderRemoteUserData = "X-Remote-User-Data"
)

// authSchemeTicket is the challenge scheme offered on missing tickets.
const authSchemeTicket = "Ticket"

// FactorySource yields the ticket factory to validate against. The
// indirection lets the service swap factories on configuration reload
// without rebuilding the middleware chain.
type FactorySource interface {
	Factory() ticket.Factory
}

// FactorySourceFunc adapts a function to the FactorySource interface.
type FactorySourceFunc func() ticket.Factory

// Factory implements FactorySource.
func (f FactorySourceFunc) Factory() ticket.Factory {
	return f()
}

// StaticFactorySource returns a source that always yields f.
func StaticFactorySource(f ticket.Factory) FactorySource {
	return FactorySourceFunc(func() ticket.Factory { return f })
}

// Authenticator handles ticket authentication for HTTP requests.
type Authenticator interface {
	// Authenticate validates the ticket on the request and returns the
	// identity it carries.
	Authenticate(c *gin.Context) (*Identity, error)

	// Middleware returns a gin middleware enforcing authentication.
	Middleware() gin.HandlerFunc
}

// ClientIPResolver resolves the client address a request's ticket is
// checked against.
type ClientIPResolver func(c *gin.Context) netip.Addr

// authenticator implements the Authenticator interface.
type authenticator struct {
	source    FactorySource
	config    *Config
	extractor Extractor
	logger    observability.Logger
	metrics   *Metrics
	resolver  ClientIPResolver
	audit     audit.Logger
}

// AuthenticatorOption is a functional option for the authenticator.
type AuthenticatorOption func(*authenticator)

// WithAuthenticatorLogger sets the logger.
func WithAuthenticatorLogger(logger observability.Logger) AuthenticatorOption {
	return func(a *authenticator) {
		a.logger = logger
	}
}

// WithAuthenticatorMetrics sets the metrics.
func WithAuthenticatorMetrics(metrics *Metrics) AuthenticatorOption {
	return func(a *authenticator) {
		a.metrics = metrics
	}
}

// WithAuthenticatorExtractor sets the ticket extractor.
func WithAuthenticatorExtractor(extractor Extractor) AuthenticatorOption {
	return func(a *authenticator) {
		a.extractor = extractor
	}
}

// WithClientIPResolver sets the client address resolver. Services
// running behind proxies wire their forwarded-header handling here so
// IP-bound tickets are checked against the real client, not the proxy.
func WithClientIPResolver(resolver ClientIPResolver) AuthenticatorOption {
	return func(a *authenticator) {
		a.resolver = resolver
	}
}

// WithAuthenticatorAudit sets the audit logger. Presented tickets that
// fail validation and capability denials are recorded on it.
func WithAuthenticatorAudit(logger audit.Logger) AuthenticatorOption {
	return func(a *authenticator) {
		a.audit = logger
	}
}

// NewAuthenticator creates a new authenticator.
func NewAuthenticator(source FactorySource, config *Config, opts ...AuthenticatorOption) (Authenticator, error) {
	if source == nil {
		return nil, errors.New("factory source is required")
	}
	if config == nil {
		config = DefaultConfig()
	}

	a := &authenticator{
		source: source,
		config: config,
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.extractor == nil {
		a.extractor = NewExtractor(config.Sources)
	}

	// Initialize metrics if not provided
	if a.metrics == nil {
		a.metrics = NewMetrics("tktauth")
	}

	if a.audit == nil {
		a.audit = audit.NewNoopLogger()
	}

	return a, nil
}

// Authenticate validates the ticket on the request and returns the
// identity it carries. It also handles sliding-expiry cookie refresh
// for tickets close to expiry.
func (a *authenticator) Authenticate(c *gin.Context) (*Identity, error) {
	start := time.Now()

	cred, err := a.extractor.ExtractTicket(c.Request)
	if err != nil {
		a.metrics.RecordRequest("http", "none", FailureMissing, time.Since(start))
		return nil, err
	}

	factory := a.source.Factory()
	t, err := factory.Validate(cred.Value, a.clientAddr(c))
	if err != nil {
		kind := FailureKind(err)
		a.metrics.RecordRequest("http", cred.Source, kind, time.Since(start))
		a.audit.LogEvent(c.Request.Context(), audit.TicketRejected(kind).
			WithClientIP(a.resolveAddr(c)).
			WithRequestID(observability.RequestIDFromContext(c.Request.Context())))
		return nil, err
	}

	identity := IdentityFromTicket(t)
	if missing := identity.MissingTokens(a.config.RequiredTokens); len(missing) > 0 {
		a.metrics.RecordRequest("http", cred.Source, FailureToken, time.Since(start))
		a.audit.LogEvent(c.Request.Context(), audit.AuthDenied(identity.UserID, FailureToken).
			WithClientIP(a.resolveAddr(c)).
			WithRequestID(observability.RequestIDFromContext(c.Request.Context())))
		return nil, NewTokenError(missing)
	}

	remaining := time.Until(identity.ValidUntil)
	a.metrics.RecordRequest("http", cred.Source, "success", time.Since(start))
	a.metrics.RecordRemainingLifetime(remaining)

	a.maybeRefresh(c, factory, t, remaining)

	return identity, nil
}

// Middleware returns a gin middleware enforcing authentication. On
// success the identity is stored on the gin context and the request
// context; on failure the request is aborted with a JSON error body.
func (a *authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := a.Authenticate(c)
		if err != nil {
			a.deny(c, err)
			return
		}

		setRemoteUserHeaders(c.Request, identity, a.config.SetRemoteUserHeaders)

		c.Set(GinIdentityKey, identity)
		c.Request = c.Request.WithContext(ContextWithIdentity(c.Request.Context(), identity))
		c.Next()
	}
}

// clientAddr resolves the client address tickets are checked against.
// With IgnoreIP set it returns the zero Addr, which matches tickets
// issued unbound. An unparseable address also maps to the zero Addr,
// mirroring how the Apache module fell back to 0.0.0.0.
func (a *authenticator) clientAddr(c *gin.Context) netip.Addr {
	if a.config.IgnoreIP {
		return netip.Addr{}
	}
	return a.resolveAddr(c)
}

// resolveAddr resolves the client address regardless of IgnoreIP, so
// audit events still carry it for unbound deployments.
func (a *authenticator) resolveAddr(c *gin.Context) netip.Addr {
	if a.resolver != nil {
		return a.resolver(c).Unmap()
	}
	addr, err := netip.ParseAddr(c.ClientIP())
	if err != nil {
		return netip.Addr{}
	}
	return addr.Unmap()
}

// maybeRefresh reissues the auth cookie when the ticket has used up
// enough of its lifetime. Refresh failures never fail the request.
func (a *authenticator) maybeRefresh(c *gin.Context, factory ticket.Factory, t *ticket.Ticket, remaining time.Duration) {
	if !a.config.Refresh.Enabled || a.config.Cookie.Name == "" {
		return
	}

	lifetime := factory.DefaultLifetime()
	threshold := time.Duration(a.config.Refresh.ThresholdFraction * float64(lifetime))
	if threshold <= 0 || remaining >= threshold {
		return
	}

	opts := []ticket.TicketOption{
		ticket.WithTokens(t.Tokens...),
		ticket.WithUserData(t.UserData),
	}
	if addr := a.clientAddr(c); addr.IsValid() {
		opts = append(opts, ticket.WithClientIP(addr))
	}

	refreshed, err := factory.New(t.UserID, opts...)
	if err != nil {
		a.logger.Warn("ticket refresh failed",
			observability.String("user_id", t.UserID),
			observability.Error(err),
		)
		a.metrics.RecordRefresh("error")
		return
	}

	maxAge := 0
	if a.config.Cookie.MaxAgeFromTicket {
		maxAge = int(lifetime.Seconds())
	}
	http.SetCookie(c.Writer, a.config.Cookie.NewCookie(refreshed, maxAge))
	a.metrics.RecordRefresh("success")

	a.logger.Debug("refreshed auth cookie",
		observability.String("user_id", t.UserID),
		observability.Duration("remaining", remaining),
	)
}

// deny rejects the request with the status and JSON body for the
// failure kind. Missing required tokens is the only 403; everything
// else is 401.
func (a *authenticator) deny(c *gin.Context, err error) {
	kind := FailureKind(err)

	a.logger.Warn("authentication failed",
		observability.String("path", c.Request.URL.Path),
		observability.String("method", c.Request.Method),
		observability.String("reason", kind),
	)

	statusCode := http.StatusUnauthorized
	var message string

	switch kind {
	case FailureMissing:
		message = "authentication required"
		c.Header(HeaderWWWAuthenticate, authSchemeTicket)
	case FailureParse:
		message = "malformed ticket"
	case FailureDigest:
		message = "invalid ticket"
	case FailureExpired:
		message = "ticket expired"
	case FailureToken:
		statusCode = http.StatusForbidden
		message = "insufficient privileges"
	default:
		message = "authentication failed"
	}

	c.AbortWithStatusJSON(statusCode, gin.H{
		"error":  message,
		"reason": kind,
	})
}

// setRemoteUserHeaders forwards the identity to handlers the way the
// Apache module exposed REMOTE_USER. Inbound values are always removed
// first so a client cannot smuggle them past the middleware.
func setRemoteUserHeaders(r *http.Request, identity *Identity, enabled bool) {
	r.Header.Del(HeaderRemoteUser)
	r.Header.Del(HeaderRemoteUserTokens)
	r.Header.Del(HeaderRemoteUserData)

	if !enabled {
		return
	}

	r.Header.Set(HeaderRemoteUser, identity.UserID)
	if len(identity.Tokens) > 0 {
		r.Header.Set(HeaderRemoteUserTokens, strings.Join(identity.Tokens, ","))
	}
	if identity.UserData != "" {
		r.Header.Set(HeaderRemoteUserData, identity.UserData)
	}
}

// Ensure authenticator implements Authenticator.
var _ Authenticator = (*authenticator)(nil)
