package server

import (
	"bytes"
	"context"
	"net"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/vyrodovalexey/tktauth/internal/audit"
	"github.com/vyrodovalexey/tktauth/internal/auth"
	"github.com/vyrodovalexey/tktauth/internal/ticket"
)

// peerContext stamps a client address on the context the way the gRPC
// transport does.
func peerContext(addr string) context.Context {
	return peer.NewContext(context.Background(), &peer.Peer{
		Addr: &net.TCPAddr{IP: net.ParseIP(addr), Port: 1234},
	})
}

func newTestTicketService(t *testing.T, f ticket.Factory, cfg *auth.Config, opts ...TicketServiceOption) *TicketService {
	t.Helper()

	svc, err := NewTicketService(auth.StaticFactorySource(f), cfg, opts...)
	require.NoError(t, err)
	return svc
}

func TestJSONCodec(t *testing.T) {
	t.Parallel()

	codec := jsonCodec{}

	assert.Equal(t, "json", codec.Name())

	in := &TicketClaims{
		UserID:     "alice",
		Tokens:     []string{"admin"},
		UserData:   "theme=dark",
		ValidUntil: time.Unix(1700000000, 0).UTC(),
	}

	data, err := codec.Marshal(in)
	require.NoError(t, err)

	var out TicketClaims
	require.NoError(t, codec.Unmarshal(data, &out))
	assert.Equal(t, *in, out)

	assert.Error(t, codec.Unmarshal([]byte("{not json"), &out))
}

func TestNewTicketService(t *testing.T) {
	t.Parallel()

	t.Run("requires a source", func(t *testing.T) {
		t.Parallel()

		_, err := NewTicketService(nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "factory source is required")
	})

	t.Run("nil config uses defaults", func(t *testing.T) {
		t.Parallel()

		f := newTestFactory(t)
		svc := newTestTicketService(t, f, nil)

		assert.NotNil(t, svc.config)
		assert.False(t, svc.config.IgnoreIP)
	})
}

func TestTicketService_Validate(t *testing.T) {
	t.Parallel()

	f := newTestFactory(t)
	svc := newTestTicketService(t, f, nil)

	raw := issueTicket(t, f, "alice",
		ticket.WithTokens("admin"),
		ticket.WithUserData("theme=dark"),
		ticket.WithClientIP(netip.MustParseAddr(testClientIP)),
	)

	claims, err := svc.Validate(peerContext(testClientIP), &ValidateTicketRequest{Ticket: raw})
	require.NoError(t, err)

	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, []string{"admin"}, claims.Tokens)
	assert.Equal(t, "theme=dark", claims.UserData)
	assert.True(t, claims.ValidUntil.After(time.Now()))
}

func TestTicketService_Validate_MissingTicket(t *testing.T) {
	t.Parallel()

	f := newTestFactory(t)
	svc := newTestTicketService(t, f, nil)

	for _, req := range []*ValidateTicketRequest{nil, {}} {
		_, err := svc.Validate(peerContext(testClientIP), req)
		require.Error(t, err)
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	}
}

func TestTicketService_Validate_Failures(t *testing.T) {
	t.Parallel()

	f := newTestFactory(t)
	svc := newTestTicketService(t, f, nil)

	forged := issueTicket(t, newForeignFactory(t), "alice",
		ticket.WithClientIP(netip.MustParseAddr(testClientIP)),
	)
	expired := issueTicket(t, f, "alice",
		ticket.WithValidUntil(1000),
		ticket.WithClientIP(netip.MustParseAddr(testClientIP)),
	)

	tests := []struct {
		name            string
		raw             string
		expectedMessage string
	}{
		{
			name:            "garbage ticket",
			raw:             "zz",
			expectedMessage: "malformed ticket",
		},
		{
			name:            "forged ticket",
			raw:             forged,
			expectedMessage: "invalid ticket",
		},
		{
			name:            "expired ticket",
			raw:             expired,
			expectedMessage: "ticket expired",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := svc.Validate(peerContext(testClientIP), &ValidateTicketRequest{Ticket: tt.raw})

			require.Error(t, err)
			st := status.Convert(err)
			assert.Equal(t, codes.Unauthenticated, st.Code())
			assert.Equal(t, tt.expectedMessage, st.Message())
		})
	}
}

func TestTicketService_Validate_PeerBinding(t *testing.T) {
	t.Parallel()

	f := newTestFactory(t)
	svc := newTestTicketService(t, f, nil)

	raw := issueTicket(t, f, "alice",
		ticket.WithClientIP(netip.MustParseAddr(testClientIP)),
	)

	// A different peer address fails the digest check.
	_, err := svc.Validate(peerContext("198.51.100.7"), &ValidateTicketRequest{Ticket: raw})
	require.Error(t, err)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	// So does a context without peer information.
	_, err = svc.Validate(context.Background(), &ValidateTicketRequest{Ticket: raw})
	require.Error(t, err)
}

func TestTicketService_Validate_IgnoreIP(t *testing.T) {
	t.Parallel()

	f := newTestFactory(t)
	cfg := auth.DefaultConfig()
	cfg.IgnoreIP = true
	svc := newTestTicketService(t, f, cfg)

	// Unbound tickets validate from any peer when IP checking is off.
	raw := issueTicket(t, f, "alice")

	for _, ctx := range []context.Context{
		peerContext(testClientIP),
		peerContext("198.51.100.7"),
		context.Background(),
	} {
		claims, err := svc.Validate(ctx, &ValidateTicketRequest{Ticket: raw})
		require.NoError(t, err)
		assert.Equal(t, "alice", claims.UserID)
	}
}

func TestTicketService_WhoAmI(t *testing.T) {
	t.Parallel()

	f := newTestFactory(t)
	svc := newTestTicketService(t, f, nil)

	identity := &auth.Identity{
		UserID:     "alice",
		Tokens:     []string{"admin"},
		ValidUntil: time.Now().Add(time.Hour),
	}

	claims, err := svc.WhoAmI(auth.ContextWithIdentity(context.Background(), identity), &WhoAmIRequest{})
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, []string{"admin"}, claims.Tokens)
}

func TestTicketService_WhoAmI_NoIdentity(t *testing.T) {
	t.Parallel()

	f := newTestFactory(t)
	svc := newTestTicketService(t, f, nil)

	_, err := svc.WhoAmI(context.Background(), &WhoAmIRequest{})

	require.Error(t, err)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestTicketService_AuditTrail(t *testing.T) {
	f := newTestFactory(t)

	var buf bytes.Buffer
	auditLogger, err := audit.NewLogger(&audit.Config{Enabled: true},
		audit.WithLoggerWriter(&buf),
		audit.WithLoggerMetrics(&audit.Metrics{}),
	)
	require.NoError(t, err)

	svc := newTestTicketService(t, f, nil, WithTicketServiceAudit(auditLogger))

	raw := issueTicket(t, f, "alice",
		ticket.WithClientIP(netip.MustParseAddr(testClientIP)),
	)
	forged := issueTicket(t, newForeignFactory(t), "bob",
		ticket.WithClientIP(netip.MustParseAddr(testClientIP)),
	)

	_, err = svc.Validate(peerContext(testClientIP), &ValidateTicketRequest{Ticket: raw})
	require.NoError(t, err)

	_, err = svc.Validate(peerContext(testClientIP), &ValidateTicketRequest{Ticket: forged})
	require.Error(t, err)

	require.NoError(t, auditLogger.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"type":"ticket.validated"`)
	assert.Contains(t, lines[0], `"user_id":"alice"`)
	assert.Contains(t, lines[0], `"client_ip":"`+testClientIP+`"`)
	assert.Contains(t, lines[1], `"type":"ticket.rejected"`)
	assert.Contains(t, lines[1], `"reason":"digest"`)

	for _, line := range lines {
		assert.NotContains(t, line, raw)
		assert.NotContains(t, line, forged)
	}
}

func TestRegisterTicketService(t *testing.T) {
	t.Parallel()

	f := newTestFactory(t)
	svc := newTestTicketService(t, f, nil)

	grpcServer := grpc.NewServer()
	RegisterTicketService(grpcServer, svc)

	info, ok := grpcServer.GetServiceInfo()[TicketServiceName]
	require.True(t, ok, "service not registered")

	methods := make([]string, 0, len(info.Methods))
	for _, m := range info.Methods {
		methods = append(methods, m.Name)
	}
	assert.ElementsMatch(t, []string{"Validate", "WhoAmI"}, methods)
}

func TestTicketServiceHandlers(t *testing.T) {
	t.Parallel()

	f := newTestFactory(t)
	svc := newTestTicketService(t, f, nil)

	raw := issueTicket(t, f, "alice",
		ticket.WithClientIP(netip.MustParseAddr(testClientIP)),
	)

	t.Run("validate handler decodes and dispatches", func(t *testing.T) {
		t.Parallel()

		dec := func(v interface{}) error {
			v.(*ValidateTicketRequest).Ticket = raw
			return nil
		}

		resp, err := _TicketService_Validate_Handler(svc, peerContext(testClientIP), dec, nil)
		require.NoError(t, err)

		claims, ok := resp.(*TicketClaims)
		require.True(t, ok)
		assert.Equal(t, "alice", claims.UserID)
	})

	t.Run("validate handler reports decode errors", func(t *testing.T) {
		t.Parallel()

		dec := func(v interface{}) error { return assert.AnError }

		_, err := _TicketService_Validate_Handler(svc, peerContext(testClientIP), dec, nil)
		assert.ErrorIs(t, err, assert.AnError)
	})

	t.Run("validate handler threads the interceptor", func(t *testing.T) {
		t.Parallel()

		dec := func(v interface{}) error {
			v.(*ValidateTicketRequest).Ticket = raw
			return nil
		}

		var seenMethod string
		interceptor := func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
			seenMethod = info.FullMethod
			return handler(ctx, req)
		}

		resp, err := _TicketService_Validate_Handler(svc, peerContext(testClientIP), dec, interceptor)
		require.NoError(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, TicketServiceValidateMethod, seenMethod)
	})

	t.Run("whoami handler dispatches", func(t *testing.T) {
		t.Parallel()

		identity := &auth.Identity{UserID: "alice", ValidUntil: time.Now().Add(time.Hour)}
		ctx := auth.ContextWithIdentity(context.Background(), identity)

		dec := func(v interface{}) error { return nil }

		resp, err := _TicketService_WhoAmI_Handler(svc, ctx, dec, nil)
		require.NoError(t, err)

		claims, ok := resp.(*TicketClaims)
		require.True(t, ok)
		assert.Equal(t, "alice", claims.UserID)
	})
}
