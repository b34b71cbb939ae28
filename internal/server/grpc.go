package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/vyrodovalexey/tktauth/internal/auth"
	"github.com/vyrodovalexey/tktauth/internal/observability"
)

// GRPCConfig holds configuration for the gRPC server.
type GRPCConfig struct {
	// Addr is the address to listen on.
	Addr string

	// MaxRecvMsgSize is the maximum message size in bytes the server can receive.
	MaxRecvMsgSize int

	// MaxSendMsgSize is the maximum message size in bytes the server can send.
	MaxSendMsgSize int

	// MaxConcurrentStreams is the maximum number of concurrent streams per connection.
	MaxConcurrentStreams uint32

	// KeepaliveParams are the keepalive parameters for the server.
	KeepaliveParams keepalive.ServerParameters

	// KeepaliveEnforcementPolicy is the keepalive enforcement policy.
	KeepaliveEnforcementPolicy keepalive.EnforcementPolicy

	// ConnectionTimeout is the timeout for establishing connections.
	ConnectionTimeout time.Duration

	// EnableReflection enables gRPC reflection for debugging.
	EnableReflection bool
}

// DefaultGRPCConfig returns a GRPCConfig with default values.
func DefaultGRPCConfig() *GRPCConfig {
	return &GRPCConfig{
		Addr:                 ":9090",
		MaxRecvMsgSize:       4 * 1024 * 1024,
		MaxSendMsgSize:       4 * 1024 * 1024,
		MaxConcurrentStreams: 1000,
		KeepaliveParams: keepalive.ServerParameters{
			MaxConnectionIdle: 15 * time.Minute,
			Time:              5 * time.Minute,
			Timeout:           1 * time.Minute,
		},
		KeepaliveEnforcementPolicy: keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		},
		ConnectionTimeout: 120 * time.Second,
	}
}

// GRPCServer hosts the ticket validation service behind the auth
// interceptors, plus the standard gRPC health service.
type GRPCServer struct {
	grpcServer   *grpc.Server
	listener     net.Listener
	healthServer *health.Server
	service      TicketServiceServer
	authn        auth.GRPCAuthenticator
	logger       observability.Logger
	config       *GRPCConfig
	mu           sync.RWMutex
	running      bool
}

// NewGRPCServer creates the gRPC server.
func NewGRPCServer(cfg *GRPCConfig, authn auth.GRPCAuthenticator, service TicketServiceServer, logger observability.Logger) *GRPCServer {
	if cfg == nil {
		cfg = DefaultGRPCConfig()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &GRPCServer{
		service: service,
		authn:   authn,
		logger:  logger,
		config:  cfg,
	}
}

// buildServerOptions assembles the grpc.ServerOption list from config.
func (s *GRPCServer) buildServerOptions() []grpc.ServerOption {
	opts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(s.config.MaxRecvMsgSize),
		grpc.MaxSendMsgSize(s.config.MaxSendMsgSize),
		grpc.MaxConcurrentStreams(s.config.MaxConcurrentStreams),
		grpc.KeepaliveParams(s.config.KeepaliveParams),
		grpc.KeepaliveEnforcementPolicy(s.config.KeepaliveEnforcementPolicy),
		grpc.ConnectionTimeout(s.config.ConnectionTimeout),
	}

	if s.authn != nil {
		opts = append(opts,
			grpc.ChainUnaryInterceptor(s.authn.UnaryInterceptor()),
			grpc.ChainStreamInterceptor(s.authn.StreamInterceptor()),
		)
	}

	return opts
}

// Start starts the gRPC server and blocks until it stops.
func (s *GRPCServer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}

	lc := &net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", s.config.Addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = listener

	s.grpcServer = grpc.NewServer(s.buildServerOptions()...)

	s.healthServer = health.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.healthServer)
	s.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.healthServer.SetServingStatus(TicketServiceName, healthpb.HealthCheckResponse_SERVING)

	if s.service != nil {
		RegisterTicketService(s.grpcServer, s.service)
	}

	if s.config.EnableReflection {
		reflection.Register(s.grpcServer)
		s.logger.Info("gRPC reflection enabled")
	}

	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting gRPC server",
		observability.String("address", s.config.Addr),
		observability.Int("maxRecvMsgSize", s.config.MaxRecvMsgSize),
		observability.Int("maxSendMsgSize", s.config.MaxSendMsgSize),
	)

	if err := s.grpcServer.Serve(listener); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("gRPC server error: %w", err)
	}

	return nil
}

// Stop stops the gRPC server, waiting for in-flight calls until the
// context expires, then forcing the stop.
func (s *GRPCServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.logger.Info("stopping gRPC server")

	if s.healthServer != nil {
		s.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		s.healthServer.SetServingStatus(TicketServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	}

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("gRPC server stopped gracefully")
	case <-ctx.Done():
		s.logger.Warn("graceful stop timed out, forcing stop")
		s.grpcServer.Stop()
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	return nil
}

// IsRunning returns whether the server is running.
func (s *GRPCServer) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
