// Package server provides the HTTP and gRPC surfaces of the ticket
// service: issue, validate, whoami, and logout over gin, plus an
// optional gRPC validation service behind the auth interceptors.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/tktauth/internal/auth"
	"github.com/vyrodovalexey/tktauth/internal/config"
	"github.com/vyrodovalexey/tktauth/internal/observability"
)

// ginModeOnce ensures gin.SetMode is only called once to avoid race conditions
var ginModeOnce sync.Once

// Config holds configuration for the HTTP server.
type Config struct {
	// ListenAddr is the address to listen on.
	ListenAddr string

	// ReadTimeout is the maximum duration for reading a request.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration for writing a response.
	WriteTimeout time.Duration

	// IdleTimeout is the keep-alive idle timeout.
	IdleTimeout time.Duration

	// MaxHeaderBytes caps the request header size.
	MaxHeaderBytes int

	// MaxBodyBytes caps the request body size on the issue and
	// validate endpoints. Zero disables the limit.
	MaxBodyBytes int64
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:     ":8080",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		MaxBodyBytes:   1 << 20,
	}
}

// FromServerConfig converts the service configuration's server section.
func FromServerConfig(cfg config.ServerConfig) *Config {
	c := DefaultConfig()
	if cfg.ListenAddr != "" {
		c.ListenAddr = cfg.ListenAddr
	}
	if cfg.ReadTimeout > 0 {
		c.ReadTimeout = time.Duration(cfg.ReadTimeout)
	}
	if cfg.WriteTimeout > 0 {
		c.WriteTimeout = time.Duration(cfg.WriteTimeout)
	}
	if cfg.IdleTimeout > 0 {
		c.IdleTimeout = time.Duration(cfg.IdleTimeout)
	}
	c.MaxBodyBytes = cfg.MaxBodyBytes
	return c
}

// Server is the HTTP server for the ticket service.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	logger     observability.Logger
	config     *Config
	mu         sync.RWMutex
	running    bool
}

// ServerOption configures the server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	middlewares []gin.HandlerFunc
}

// WithMiddleware installs middleware on the engine ahead of route
// registration. Order matters: the first middleware wraps outermost.
func WithMiddleware(mw ...gin.HandlerFunc) ServerOption {
	return func(o *serverOptions) {
		o.middlewares = append(o.middlewares, mw...)
	}
}

// New creates the HTTP server, installs the given middleware, and
// mounts the ticket routes.
func New(cfg *Config, handler *Handler, authn auth.Authenticator, logger observability.Logger, opts ...ServerOption) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	// Set gin mode once to avoid data races between servers.
	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	var options serverOptions
	for _, opt := range opts {
		opt(&options)
	}

	engine := gin.New()

	// Client addresses come from the ClientIP middleware, which applies
	// the configured trusted proxies itself. Disable gin's own header
	// handling so c.ClientIP() cannot be spoofed behind it.
	_ = engine.SetTrustedProxies(nil)

	engine.Use(options.middlewares...)

	if handler != nil && authn != nil {
		handler.RegisterRoutes(engine, authn, cfg.MaxBodyBytes)
	}

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return &Server{
		engine: engine,
		logger: logger,
		config: cfg,
	}
}

// Engine returns the underlying gin engine.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}

	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddr,
		Handler:        s.engine,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting HTTP server",
		observability.String("address", s.config.ListenAddr),
		observability.Duration("readTimeout", s.config.ReadTimeout),
		observability.Duration("writeTimeout", s.config.WriteTimeout),
	)

	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Stop stops the HTTP server gracefully, waiting for in-flight
// requests up to the context deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.logger.Info("stopping HTTP server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("HTTP server stopped")
	return nil
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
