package server

import (
	"errors"
	"net/http"
	"net/netip"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/tktauth/internal/audit"
	"github.com/vyrodovalexey/tktauth/internal/auth"
	"github.com/vyrodovalexey/tktauth/internal/middleware"
	"github.com/vyrodovalexey/tktauth/internal/observability"
	"github.com/vyrodovalexey/tktauth/internal/ticket"
)

// Handler serves the ticket endpoints: issue, validate, whoami, logout.
type Handler struct {
	source    auth.FactorySource
	config    *auth.Config
	extractor auth.Extractor
	audit     audit.Logger
	logger    observability.Logger
}

// HandlerOption is a functional option for the handler.
type HandlerOption func(*Handler)

// WithHandlerLogger sets the logger.
func WithHandlerLogger(logger observability.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithHandlerAudit sets the audit logger. Issued tickets, explicit
// validations, and logouts are recorded on it.
func WithHandlerAudit(logger audit.Logger) HandlerOption {
	return func(h *Handler) {
		h.audit = logger
	}
}

// WithHandlerExtractor overrides the extractor the validate endpoint
// falls back to when the request body carries no ticket.
func WithHandlerExtractor(extractor auth.Extractor) HandlerOption {
	return func(h *Handler) {
		h.extractor = extractor
	}
}

// NewHandler creates the ticket endpoint handler.
func NewHandler(source auth.FactorySource, config *auth.Config, opts ...HandlerOption) (*Handler, error) {
	if source == nil {
		return nil, errors.New("factory source is required")
	}
	if config == nil {
		config = auth.DefaultConfig()
	}

	h := &Handler{
		source: source,
		config: config,
		logger: observability.NopLogger(),
		audit:  audit.NewNoopLogger(),
	}

	for _, opt := range opts {
		opt(h)
	}

	if h.extractor == nil {
		h.extractor = auth.NewExtractor(config.Sources)
	}

	return h, nil
}

// RegisterRoutes mounts the ticket endpoints. Issue and validate accept
// anonymous callers and sit behind the body limit; whoami and logout
// require an authenticated ticket.
func (h *Handler) RegisterRoutes(engine *gin.Engine, authn auth.Authenticator, maxBodyBytes int64) {
	v1 := engine.Group("/v1")

	tickets := v1.Group("/tickets")
	if maxBodyBytes > 0 {
		tickets.Use(middleware.BodyLimit(maxBodyBytes))
	}
	tickets.POST("", h.Issue)
	tickets.POST("/validate", h.Validate)

	protected := v1.Group("")
	protected.Use(authn.Middleware())
	protected.GET("/whoami", h.WhoAmI)
	protected.POST("/logout", h.Logout)
}

// issueRequest is the issue endpoint payload.
type issueRequest struct {
	UserID          string   `json:"user_id"`
	Tokens          []string `json:"tokens,omitempty"`
	UserData        string   `json:"user_data,omitempty"`
	LifetimeSeconds int64    `json:"lifetime_seconds,omitempty"`
}

// issueResponse is the issue endpoint response.
type issueResponse struct {
	Ticket     string    `json:"ticket"`
	ValidUntil time.Time `json:"valid_until"`
}

// Issue signs a new ticket for the requested user and sets the auth
// cookie. The ticket binds to the caller's resolved client address
// unless IP checking is disabled.
func (h *Handler) Issue(c *gin.Context) {
	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	if req.LifetimeSeconds < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lifetime_seconds must not be negative"})
		return
	}

	opts := make([]ticket.TicketOption, 0, 4)
	if len(req.Tokens) > 0 {
		opts = append(opts, ticket.WithTokens(req.Tokens...))
	}
	if req.UserData != "" {
		opts = append(opts, ticket.WithUserData(req.UserData))
	}
	if req.LifetimeSeconds > 0 {
		validUntil := time.Now().Add(time.Duration(req.LifetimeSeconds) * time.Second)
		opts = append(opts, ticket.WithValidUntil(uint32(validUntil.Unix())))
	}

	clientIP := h.clientAddr(c)
	if clientIP.IsValid() {
		opts = append(opts, ticket.WithClientIP(clientIP))
	}

	factory := h.source.Factory()
	raw, err := factory.New(req.UserID, opts...)
	if err != nil {
		if errors.Is(err, ticket.ErrEmptyUserID) || errors.Is(err, ticket.ErrUnencodablePayload) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "request not representable in a ticket"})
			return
		}
		h.logger.Error("failed to issue ticket",
			observability.String("user_id", req.UserID),
			observability.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue ticket"})
		return
	}

	t, err := factory.Parse(raw)
	if err != nil {
		h.logger.Error("failed to parse issued ticket", observability.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue ticket"})
		return
	}

	maxAge := 0
	if h.config.Cookie.MaxAgeFromTicket {
		maxAge = int(time.Until(t.ExpiresAt()).Seconds())
		if maxAge < 0 {
			maxAge = -1
		}
	}
	http.SetCookie(c.Writer, h.config.Cookie.NewCookie(raw, maxAge))

	h.audit.LogEvent(c.Request.Context(), audit.TicketIssued(t.UserID).
		WithClientIP(h.resolveAddr(c)).
		WithRequestID(observability.RequestIDFromContext(c.Request.Context())))

	c.JSON(http.StatusOK, issueResponse{
		Ticket:     raw,
		ValidUntil: t.ExpiresAt(),
	})
}

// validateRequest is the validate endpoint payload.
type validateRequest struct {
	Ticket string `json:"ticket"`
}

// Validate checks a presented ticket without touching the cookie. The
// ticket comes from the request body, or from the configured extraction
// sources when the body carries none.
func (h *Handler) Validate(c *gin.Context) {
	var req validateRequest
	_ = c.ShouldBindJSON(&req)

	raw := req.Ticket
	if raw == "" {
		cred, err := h.extractor.ExtractTicket(c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":  "no ticket presented",
				"reason": auth.FailureMissing,
			})
			return
		}
		raw = cred.Value
	}

	t, err := h.source.Factory().Validate(raw, h.clientAddr(c))
	if err != nil {
		kind := auth.FailureKind(err)

		h.audit.LogEvent(c.Request.Context(), audit.TicketRejected(kind).
			WithClientIP(h.resolveAddr(c)).
			WithRequestID(observability.RequestIDFromContext(c.Request.Context())))

		c.JSON(http.StatusUnauthorized, gin.H{
			"error":  failureMessage(kind),
			"reason": kind,
		})
		return
	}

	identity := auth.IdentityFromTicket(t)

	h.audit.LogEvent(c.Request.Context(), audit.TicketValidated(identity.UserID).
		WithClientIP(h.resolveAddr(c)).
		WithRequestID(observability.RequestIDFromContext(c.Request.Context())))

	c.JSON(http.StatusOK, identity)
}

// WhoAmI returns the identity the auth middleware established.
func (h *Handler) WhoAmI(c *gin.Context) {
	identity, ok := auth.IdentityFromGinContext(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "no identity in request context"})
		return
	}

	c.JSON(http.StatusOK, identity)
}

// Logout expires the auth cookie. The ticket itself stays valid until
// it expires; stateless tickets cannot be revoked server side.
func (h *Handler) Logout(c *gin.Context) {
	identity, ok := auth.IdentityFromGinContext(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "no identity in request context"})
		return
	}

	http.SetCookie(c.Writer, h.config.Cookie.NewCookie("", -1))

	h.audit.LogEvent(c.Request.Context(), audit.SessionLogout(identity.UserID).
		WithClientIP(h.resolveAddr(c)).
		WithRequestID(observability.RequestIDFromContext(c.Request.Context())))

	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

// clientAddr resolves the address tickets bind to and validate against.
// With IgnoreIP set it returns the zero Addr so tickets stay unbound.
func (h *Handler) clientAddr(c *gin.Context) netip.Addr {
	if h.config.IgnoreIP {
		return netip.Addr{}
	}
	return h.resolveAddr(c)
}

// resolveAddr resolves the client address regardless of IgnoreIP, so
// audit events still carry it for unbound deployments.
func (h *Handler) resolveAddr(c *gin.Context) netip.Addr {
	return middleware.ClientIPFromContext(c).Unmap()
}

// failureMessage maps a validation failure kind to the response message.
func failureMessage(kind string) string {
	switch kind {
	case auth.FailureMissing:
		return "no ticket presented"
	case auth.FailureParse:
		return "malformed ticket"
	case auth.FailureDigest:
		return "invalid ticket"
	case auth.FailureExpired:
		return "ticket expired"
	default:
		return "ticket validation failed"
	}
}
