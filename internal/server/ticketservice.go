package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/netip"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/vyrodovalexey/tktauth/internal/audit"
	"github.com/vyrodovalexey/tktauth/internal/auth"
	"github.com/vyrodovalexey/tktauth/internal/observability"
)

// Full method names of the ticket service. Validate belongs in the auth
// interceptor skip list: it carries the ticket in the request message,
// not in metadata.
const (
	TicketServiceName           = "tktauth.v1.TicketService"
	TicketServiceValidateMethod = "/tktauth.v1.TicketService/Validate"
	TicketServiceWhoAmIMethod   = "/tktauth.v1.TicketService/WhoAmI"
)

// jsonCodecName is the content-subtype clients select with
// grpc.CallContentSubtype.
const jsonCodecName = "json"

// jsonCodec marshals gRPC messages as JSON. The ticket service has no
// protobuf schema; its messages are plain structs with JSON tags, the
// same shapes the HTTP surface serves.
type jsonCodec struct{}

// Marshal implements the encoding.Codec interface.
func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal implements the encoding.Codec interface.
func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// Name returns the name of the codec.
func (jsonCodec) Name() string {
	return jsonCodecName
}

// Ensure jsonCodec implements encoding.Codec.
var _ encoding.Codec = jsonCodec{}

// init registers the JSON codec with gRPC.
func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// ValidateTicketRequest asks for an explicit check of a serialized
// ticket.
type ValidateTicketRequest struct {
	Ticket string `json:"ticket"`
}

// WhoAmIRequest is the empty request of the WhoAmI call.
type WhoAmIRequest struct{}

// TicketClaims carries the fields of a validated ticket.
type TicketClaims struct {
	UserID     string    `json:"user_id"`
	Tokens     []string  `json:"tokens,omitempty"`
	UserData   string    `json:"user_data,omitempty"`
	ValidUntil time.Time `json:"valid_until"`
}

// TicketServiceServer is the server contract of the ticket service.
type TicketServiceServer interface {
	// Validate checks a ticket carried in the request message.
	Validate(ctx context.Context, req *ValidateTicketRequest) (*TicketClaims, error)

	// WhoAmI returns the identity established by the auth interceptor.
	WhoAmI(ctx context.Context, req *WhoAmIRequest) (*TicketClaims, error)
}

// TicketService validates tickets over gRPC. WhoAmI answers from the
// identity the auth interceptor established; Validate checks a ticket
// carried in the request message and must be listed in the
// interceptor's skip methods.
type TicketService struct {
	source auth.FactorySource
	config *auth.Config
	audit  audit.Logger
	logger observability.Logger
}

// TicketServiceOption is a functional option for the ticket service.
type TicketServiceOption func(*TicketService)

// WithTicketServiceLogger sets the logger.
func WithTicketServiceLogger(logger observability.Logger) TicketServiceOption {
	return func(s *TicketService) {
		s.logger = logger
	}
}

// WithTicketServiceAudit sets the audit logger.
func WithTicketServiceAudit(logger audit.Logger) TicketServiceOption {
	return func(s *TicketService) {
		s.audit = logger
	}
}

// NewTicketService creates the gRPC ticket service.
func NewTicketService(source auth.FactorySource, config *auth.Config, opts ...TicketServiceOption) (*TicketService, error) {
	if source == nil {
		return nil, errors.New("factory source is required")
	}
	if config == nil {
		config = auth.DefaultConfig()
	}

	s := &TicketService{
		source: source,
		config: config,
		audit:  audit.NewNoopLogger(),
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Validate checks the presented ticket against the current factory and
// the peer address.
func (s *TicketService) Validate(ctx context.Context, req *ValidateTicketRequest) (*TicketClaims, error) {
	if req == nil || req.Ticket == "" {
		return nil, status.Error(codes.InvalidArgument, "ticket is required")
	}

	t, err := s.source.Factory().Validate(req.Ticket, s.peerAddr(ctx))
	if err != nil {
		kind := auth.FailureKind(err)

		s.logger.Warn("ticket validation failed",
			observability.String("transport", "grpc"),
			observability.String("reason", kind),
		)
		s.audit.LogEvent(ctx, audit.TicketRejected(kind).WithClientIP(s.resolvePeerAddr(ctx)))

		return nil, status.Error(codes.Unauthenticated, failureMessage(kind))
	}

	identity := auth.IdentityFromTicket(t)
	s.audit.LogEvent(ctx, audit.TicketValidated(identity.UserID).WithClientIP(s.resolvePeerAddr(ctx)))

	return claimsFromIdentity(identity), nil
}

// WhoAmI returns the identity the auth interceptor established.
func (s *TicketService) WhoAmI(ctx context.Context, _ *WhoAmIRequest) (*TicketClaims, error) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "no identity in request context")
	}
	return claimsFromIdentity(identity), nil
}

// peerAddr resolves the address tickets are checked against. With
// IgnoreIP set it returns the zero Addr so bound and unbound tickets
// validate alike.
func (s *TicketService) peerAddr(ctx context.Context) netip.Addr {
	if s.config.IgnoreIP {
		return netip.Addr{}
	}
	return s.resolvePeerAddr(ctx)
}

// resolvePeerAddr resolves the peer address regardless of IgnoreIP for
// audit events.
func (s *TicketService) resolvePeerAddr(ctx context.Context) netip.Addr {
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

// claimsFromIdentity converts an identity to the wire claims.
func claimsFromIdentity(identity *auth.Identity) *TicketClaims {
	return &TicketClaims{
		UserID:     identity.UserID,
		Tokens:     identity.Tokens,
		UserData:   identity.UserData,
		ValidUntil: identity.ValidUntil,
	}
}

// RegisterTicketService registers the ticket service with the gRPC
// server. Clients must select the JSON codec with
// grpc.CallContentSubtype("json").
func RegisterTicketService(registrar grpc.ServiceRegistrar, service TicketServiceServer) {
	registrar.RegisterService(&ticketServiceDesc, service)
}

func _TicketService_Validate_Handler(
	srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor,
) (interface{}, error) {
	in := new(ValidateTicketRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TicketServiceServer).Validate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: TicketServiceValidateMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TicketServiceServer).Validate(ctx, req.(*ValidateTicketRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _TicketService_WhoAmI_Handler(
	srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor,
) (interface{}, error) {
	in := new(WhoAmIRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TicketServiceServer).WhoAmI(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: TicketServiceWhoAmIMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TicketServiceServer).WhoAmI(ctx, req.(*WhoAmIRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ticketServiceDesc is the hand-written service descriptor. The service
// has no protobuf schema, so the descriptor is maintained here instead
// of being generated.
var ticketServiceDesc = grpc.ServiceDesc{
	ServiceName: TicketServiceName,
	HandlerType: (*TicketServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Validate",
			Handler:    _TicketService_Validate_Handler,
		},
		{
			MethodName: "WhoAmI",
			Handler:    _TicketService_WhoAmI_Handler,
		},
	},
	Streams: []grpc.StreamDesc{},
}

// Ensure TicketService implements TicketServiceServer.
var _ TicketServiceServer = (*TicketService)(nil)
