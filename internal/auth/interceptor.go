package auth

import (
	"context"
	"errors"
	"net/netip"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/vyrodovalexey/tktauth/internal/audit"
	"github.com/vyrodovalexey/tktauth/internal/observability"
)

// GRPCAuthenticator handles ticket authentication for gRPC requests.
type GRPCAuthenticator interface {
	// Authenticate validates the ticket carried in the request metadata.
	Authenticate(ctx context.Context) (*Identity, error)

	// UnaryInterceptor returns a unary server interceptor for authentication.
	UnaryInterceptor() grpc.UnaryServerInterceptor

	// StreamInterceptor returns a stream server interceptor for authentication.
	StreamInterceptor() grpc.StreamServerInterceptor
}

// grpcAuthenticator implements the GRPCAuthenticator interface.
type grpcAuthenticator struct {
	source      FactorySource
	config      *Config
	extractor   Extractor
	logger      observability.Logger
	metrics     *Metrics
	audit       audit.Logger
	skipMethods map[string]bool
}

// GRPCAuthenticatorOption is a functional option for the gRPC authenticator.
type GRPCAuthenticatorOption func(*grpcAuthenticator)

// WithGRPCAuthenticatorLogger sets the logger.
func WithGRPCAuthenticatorLogger(logger observability.Logger) GRPCAuthenticatorOption {
	return func(a *grpcAuthenticator) {
		a.logger = logger
	}
}

// WithGRPCAuthenticatorMetrics sets the metrics.
func WithGRPCAuthenticatorMetrics(metrics *Metrics) GRPCAuthenticatorOption {
	return func(a *grpcAuthenticator) {
		a.metrics = metrics
	}
}

// WithGRPCAuthenticatorAudit sets the audit logger.
func WithGRPCAuthenticatorAudit(logger audit.Logger) GRPCAuthenticatorOption {
	return func(a *grpcAuthenticator) {
		a.audit = logger
	}
}

// NewGRPCAuthenticator creates a new gRPC authenticator.
func NewGRPCAuthenticator(source FactorySource, config *Config, opts ...GRPCAuthenticatorOption) (GRPCAuthenticator, error) {
	if source == nil {
		return nil, errors.New("factory source is required")
	}
	if config == nil {
		config = DefaultConfig()
	}

	a := &grpcAuthenticator{
		source:    source,
		config:    config,
		extractor: NewExtractor(config.Sources),
		logger:    observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(a)
	}

	// Initialize metrics if not provided
	if a.metrics == nil {
		a.metrics = NewMetrics("tktauth")
	}

	if a.audit == nil {
		a.audit = audit.NewNoopLogger()
	}

	a.skipMethods = make(map[string]bool, len(config.SkipMethods))
	for _, method := range config.SkipMethods {
		a.skipMethods[method] = true
	}

	return a, nil
}

// Authenticate validates the ticket carried in the request metadata.
func (a *grpcAuthenticator) Authenticate(ctx context.Context) (*Identity, error) {
	start := time.Now()

	cred, err := a.extractor.ExtractTicketFromGRPC(ctx)
	if err != nil {
		a.metrics.RecordRequest("grpc", "none", FailureMissing, time.Since(start))
		return nil, err
	}

	t, err := a.source.Factory().Validate(cred.Value, a.peerAddr(ctx))
	if err != nil {
		kind := FailureKind(err)
		a.metrics.RecordRequest("grpc", cred.Source, kind, time.Since(start))
		a.audit.LogEvent(ctx, audit.TicketRejected(kind).WithClientIP(a.resolvePeerAddr(ctx)))
		return nil, err
	}

	identity := IdentityFromTicket(t)
	if missing := identity.MissingTokens(a.config.RequiredTokens); len(missing) > 0 {
		a.metrics.RecordRequest("grpc", cred.Source, FailureToken, time.Since(start))
		a.audit.LogEvent(ctx, audit.AuthDenied(identity.UserID, FailureToken).
			WithClientIP(a.resolvePeerAddr(ctx)))
		return nil, NewTokenError(missing)
	}

	a.metrics.RecordRequest("grpc", cred.Source, "success", time.Since(start))
	a.metrics.RecordRemainingLifetime(time.Until(identity.ValidUntil))

	return identity, nil
}

// peerAddr resolves the peer address tickets are checked against. With
// IgnoreIP set it returns the zero Addr, which matches tickets issued
// unbound. Mapped IPv4-in-IPv6 peers are unmapped so tickets bound to
// the IPv4 form keep validating on dual-stack listeners.
func (a *grpcAuthenticator) peerAddr(ctx context.Context) netip.Addr {
	if a.config.IgnoreIP {
		return netip.Addr{}
	}
	return a.resolvePeerAddr(ctx)
}

// resolvePeerAddr resolves the peer address regardless of IgnoreIP, so
// audit events still carry it for unbound deployments.
func (a *grpcAuthenticator) resolvePeerAddr(ctx context.Context) netip.Addr {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return netip.Addr{}
	}
	addrPort, err := netip.ParseAddrPort(p.Addr.String())
	if err != nil {
		return netip.Addr{}
	}
	return addrPort.Addr().Unmap()
}

// UnaryInterceptor returns a unary server interceptor for authentication.
func (a *grpcAuthenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler,
	) (interface{}, error) {
		if a.skipMethods[info.FullMethod] {
			return handler(ctx, req)
		}

		identity, err := a.Authenticate(ctx)
		if err != nil {
			return nil, a.toGRPCError(err)
		}

		// Add identity to context
		ctx = ContextWithIdentity(ctx, identity)
		return handler(ctx, req)
	}
}

// StreamInterceptor returns a stream server interceptor for authentication.
func (a *grpcAuthenticator) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if a.skipMethods[info.FullMethod] {
			return handler(srv, ss)
		}

		ctx := ss.Context()
		identity, err := a.Authenticate(ctx)
		if err != nil {
			return a.toGRPCError(err)
		}

		// Wrap the stream with the authenticated context
		wrapped := &authenticatedServerStream{
			ServerStream: ss,
			ctx:          ContextWithIdentity(ctx, identity),
		}

		return handler(srv, wrapped)
	}
}

// toGRPCError converts an authentication error to a gRPC error.
func (a *grpcAuthenticator) toGRPCError(err error) error {
	a.logger.Warn("authentication failed",
		observability.String("transport", "grpc"),
		observability.String("reason", FailureKind(err)),
	)

	switch FailureKind(err) {
	case FailureMissing:
		return status.Error(codes.Unauthenticated, "authentication required")
	case FailureParse:
		return status.Error(codes.Unauthenticated, "malformed ticket")
	case FailureDigest:
		return status.Error(codes.Unauthenticated, "invalid ticket")
	case FailureExpired:
		return status.Error(codes.Unauthenticated, "ticket expired")
	case FailureToken:
		return status.Error(codes.PermissionDenied, "insufficient privileges")
	default:
		return status.Error(codes.Unauthenticated, "authentication failed")
	}
}

// authenticatedServerStream wraps a grpc.ServerStream with an authenticated context.
type authenticatedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the authenticated context.
func (s *authenticatedServerStream) Context() context.Context {
	return s.ctx
}

// Ensure grpcAuthenticator implements GRPCAuthenticator.
var _ GRPCAuthenticator = (*grpcAuthenticator)(nil)
