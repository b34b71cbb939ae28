package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/tktauth/internal/auth"
	"github.com/vyrodovalexey/tktauth/internal/config"
)

func init() {
	// Claim the package-level ginModeOnce so New cannot flip the
	// engine to release mode mid-test.
	ginModeOnce.Do(func() {
		gin.SetMode(gin.TestMode)
	})
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 120*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 1<<20, cfg.MaxHeaderBytes)
	assert.Equal(t, int64(1<<20), cfg.MaxBodyBytes)
}

func TestFromServerConfig(t *testing.T) {
	t.Parallel()

	t.Run("copies set fields", func(t *testing.T) {
		t.Parallel()

		cfg := FromServerConfig(config.ServerConfig{
			ListenAddr:   "127.0.0.1:9999",
			ReadTimeout:  config.Duration(10 * time.Second),
			WriteTimeout: config.Duration(15 * time.Second),
			IdleTimeout:  config.Duration(60 * time.Second),
			MaxBodyBytes: 4096,
		})

		assert.Equal(t, "127.0.0.1:9999", cfg.ListenAddr)
		assert.Equal(t, 10*time.Second, cfg.ReadTimeout)
		assert.Equal(t, 15*time.Second, cfg.WriteTimeout)
		assert.Equal(t, 60*time.Second, cfg.IdleTimeout)
		assert.Equal(t, int64(4096), cfg.MaxBodyBytes)
	})

	t.Run("zero fields fall back to defaults", func(t *testing.T) {
		t.Parallel()

		cfg := FromServerConfig(config.ServerConfig{})

		assert.Equal(t, ":8080", cfg.ListenAddr)
		assert.Equal(t, 30*time.Second, cfg.ReadTimeout)

		// MaxBodyBytes is copied verbatim so zero disables the limit.
		assert.Equal(t, int64(0), cfg.MaxBodyBytes)
	})
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("nil config uses defaults", func(t *testing.T) {
		t.Parallel()

		srv := New(nil, nil, nil, nil)

		require.NotNil(t, srv)
		assert.NotNil(t, srv.Engine())
		assert.Equal(t, ":8080", srv.config.ListenAddr)
		assert.False(t, srv.IsRunning())
	})

	t.Run("returns same engine on repeated calls", func(t *testing.T) {
		t.Parallel()

		srv := New(nil, nil, nil, nil)

		assert.Same(t, srv.Engine(), srv.Engine())
	})

	t.Run("unknown routes return 404", func(t *testing.T) {
		t.Parallel()

		srv := New(nil, nil, nil, nil)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/nope", nil)
		srv.Engine().ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.JSONEq(t, `{"error":"not found"}`, w.Body.String())
	})
}

func TestNew_MountsRoutes(t *testing.T) {
	t.Parallel()

	f := newTestFactory(t)
	handler, err := NewHandler(auth.StaticFactorySource(f), nil)
	require.NoError(t, err)

	srv := New(nil, handler, newTestAuthenticator(t, f, nil), nil)

	w := postJSON(srv.Engine(), "/v1/tickets", `{"user_id":"alice"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ticket":"`)
}

func TestNew_WithMiddleware(t *testing.T) {
	t.Parallel()

	var order []string
	first := func(c *gin.Context) {
		order = append(order, "first")
		c.Next()
	}
	second := func(c *gin.Context) {
		order = append(order, "second")
		c.Next()
	}

	srv := New(nil, nil, nil, nil, WithMiddleware(first), WithMiddleware(second))
	srv.Engine().GET("/ping", func(c *gin.Context) {
		order = append(order, "handler")
		c.String(http.StatusOK, "pong")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	srv.Engine().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"first", "second", "handler"}, order)
}

func TestNew_BodyLimit(t *testing.T) {
	t.Parallel()

	f := newTestFactory(t)
	handler, err := NewHandler(auth.StaticFactorySource(f), nil)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.MaxBodyBytes = 64

	srv := New(cfg, handler, newTestAuthenticator(t, f, nil), nil)

	oversized := `{"user_id":"alice","user_data":"` + strings.Repeat("x", 200) + `"}`
	w := postJSON(srv.Engine(), "/v1/tickets", oversized)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	// The limit only applies to the ticket endpoints.
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/nope", strings.NewReader(strings.Repeat("x", 200)))
	srv.Engine().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_StartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"

	srv := New(cfg, nil, nil, nil)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(context.Background())
	}()

	// Wait for the listener to come up.
	time.Sleep(100 * time.Millisecond)
	assert.True(t, srv.IsRunning())

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(stopCtx))
	assert.False(t, srv.IsRunning())

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestServer_StartWhileRunning(t *testing.T) {
	t.Parallel()

	srv := New(nil, nil, nil, nil)

	srv.mu.Lock()
	srv.running = true
	srv.mu.Unlock()

	err := srv.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestServer_StopBeforeStart(t *testing.T) {
	t.Parallel()

	srv := New(nil, nil, nil, nil)

	assert.NoError(t, srv.Stop(context.Background()))
}

func TestServer_IsRunning_Concurrent(t *testing.T) {
	t.Parallel()

	srv := New(nil, nil, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = srv.IsRunning()
		}()
	}
	wg.Wait()
}
