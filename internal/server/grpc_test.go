package server

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vyrodovalexey/tktauth/internal/auth"
	"github.com/vyrodovalexey/tktauth/internal/ticket"
)

func TestDefaultGRPCConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultGRPCConfig()

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, 4*1024*1024, cfg.MaxRecvMsgSize)
	assert.Equal(t, 4*1024*1024, cfg.MaxSendMsgSize)
	assert.Equal(t, uint32(1000), cfg.MaxConcurrentStreams)
	assert.Equal(t, 15*time.Minute, cfg.KeepaliveParams.MaxConnectionIdle)
	assert.Equal(t, 5*time.Minute, cfg.KeepaliveParams.Time)
	assert.Equal(t, 1*time.Minute, cfg.KeepaliveParams.Timeout)
	assert.Equal(t, 5*time.Second, cfg.KeepaliveEnforcementPolicy.MinTime)
	assert.True(t, cfg.KeepaliveEnforcementPolicy.PermitWithoutStream)
	assert.Equal(t, 120*time.Second, cfg.ConnectionTimeout)
	assert.False(t, cfg.EnableReflection)
}

func TestNewGRPCServer(t *testing.T) {
	t.Parallel()

	t.Run("nil config uses defaults", func(t *testing.T) {
		t.Parallel()

		srv := NewGRPCServer(nil, nil, nil, nil)

		require.NotNil(t, srv)
		assert.Equal(t, ":9090", srv.config.Addr)
		assert.False(t, srv.IsRunning())
	})

	t.Run("custom config", func(t *testing.T) {
		t.Parallel()

		cfg := DefaultGRPCConfig()
		cfg.Addr = "127.0.0.1:7070"
		cfg.EnableReflection = true

		srv := NewGRPCServer(cfg, nil, nil, nil)

		assert.Equal(t, "127.0.0.1:7070", srv.config.Addr)
		assert.True(t, srv.config.EnableReflection)
	})
}

func TestGRPCServer_BuildServerOptions(t *testing.T) {
	t.Parallel()

	t.Run("without authenticator", func(t *testing.T) {
		t.Parallel()

		srv := NewGRPCServer(nil, nil, nil, nil)

		opts := srv.buildServerOptions()
		assert.Len(t, opts, 6)
	})

	t.Run("with authenticator adds interceptors", func(t *testing.T) {
		t.Parallel()

		f := newTestFactory(t)
		authn, err := auth.NewGRPCAuthenticator(auth.StaticFactorySource(f), nil,
			auth.WithGRPCAuthenticatorMetrics(newTestMetrics()),
		)
		require.NoError(t, err)

		srv := NewGRPCServer(nil, authn, nil, nil)

		opts := srv.buildServerOptions()
		assert.Len(t, opts, 8)
	})
}

func TestGRPCServer_StartAlreadyRunning(t *testing.T) {
	t.Parallel()

	srv := NewGRPCServer(nil, nil, nil, nil)

	srv.mu.Lock()
	srv.running = true
	srv.mu.Unlock()

	err := srv.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestGRPCServer_StopNotRunning(t *testing.T) {
	t.Parallel()

	srv := NewGRPCServer(nil, nil, nil, nil)

	assert.NoError(t, srv.Stop(context.Background()))
}

func TestGRPCServer_StartInvalidAddress(t *testing.T) {
	t.Parallel()

	cfg := DefaultGRPCConfig()
	cfg.Addr = "256.256.256.256:99999"

	srv := NewGRPCServer(cfg, nil, nil, nil)

	err := srv.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
	assert.False(t, srv.IsRunning())
}

// TestGRPCServer_RoundTrip exercises the full wire path: JSON codec,
// service descriptor, auth interceptors, and the health service.
func TestGRPCServer_RoundTrip(t *testing.T) {
	f := newTestFactory(t)

	cfg := auth.DefaultConfig()
	cfg.SkipMethods = []string{
		TicketServiceValidateMethod,
		"/grpc.health.v1.Health/Check",
		"/grpc.health.v1.Health/Watch",
	}

	authn, err := auth.NewGRPCAuthenticator(auth.StaticFactorySource(f), cfg,
		auth.WithGRPCAuthenticatorMetrics(newTestMetrics()),
	)
	require.NoError(t, err)

	svc := newTestTicketService(t, f, cfg)

	grpcCfg := DefaultGRPCConfig()
	grpcCfg.Addr = "127.0.0.1:0"

	srv := NewGRPCServer(grpcCfg, authn, svc, nil)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(context.Background())
	}()

	require.Eventually(t, srv.IsRunning, 5*time.Second, 10*time.Millisecond)

	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, srv.Stop(stopCtx))

		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("Start did not return after Stop")
		}
	}()

	conn, err := grpc.NewClient(srv.listener.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Loopback connections peer as 127.0.0.1, so bind the ticket there.
	raw := issueTicket(t, f, "alice",
		ticket.WithTokens("admin"),
		ticket.WithClientIP(netip.MustParseAddr("127.0.0.1")),
	)

	t.Run("validate without credentials", func(t *testing.T) {
		var claims TicketClaims
		err := conn.Invoke(ctx, TicketServiceValidateMethod,
			&ValidateTicketRequest{Ticket: raw}, &claims,
			grpc.CallContentSubtype(jsonCodecName),
		)
		require.NoError(t, err)
		assert.Equal(t, "alice", claims.UserID)
		assert.Equal(t, []string{"admin"}, claims.Tokens)
	})

	t.Run("validate rejects a forged ticket", func(t *testing.T) {
		forged := issueTicket(t, newForeignFactory(t), "alice",
			ticket.WithClientIP(netip.MustParseAddr("127.0.0.1")),
		)

		var claims TicketClaims
		err := conn.Invoke(ctx, TicketServiceValidateMethod,
			&ValidateTicketRequest{Ticket: forged}, &claims,
			grpc.CallContentSubtype(jsonCodecName),
		)
		require.Error(t, err)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("whoami requires authentication", func(t *testing.T) {
		var claims TicketClaims
		err := conn.Invoke(ctx, TicketServiceWhoAmIMethod,
			&WhoAmIRequest{}, &claims,
			grpc.CallContentSubtype(jsonCodecName),
		)
		require.Error(t, err)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("whoami with metadata ticket", func(t *testing.T) {
		authCtx := metadata.AppendToOutgoingContext(ctx, "x-auth-ticket", raw)

		var claims TicketClaims
		err := conn.Invoke(authCtx, TicketServiceWhoAmIMethod,
			&WhoAmIRequest{}, &claims,
			grpc.CallContentSubtype(jsonCodecName),
		)
		require.NoError(t, err)
		assert.Equal(t, "alice", claims.UserID)
	})

	t.Run("health reports serving", func(t *testing.T) {
		resp, err := healthpb.NewHealthClient(conn).Check(ctx,
			&healthpb.HealthCheckRequest{Service: TicketServiceName})
		require.NoError(t, err)
		assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
	})
}
