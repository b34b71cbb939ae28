package main

import (
	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/tktauth/internal/auth"
	"github.com/vyrodovalexey/tktauth/internal/config"
	"github.com/vyrodovalexey/tktauth/internal/middleware"
)

// noStorePaths are the endpoints whose responses carry tickets and
// must never land in a shared cache.
var noStorePaths = []string{
	"/v1/tickets",
	"/v1/tickets/validate",
	"/v1/whoami",
}

// buildMiddlewareChain assembles the global middleware in execution
// order: the first entry wraps outermost. Recovery runs first so a
// panic anywhere below still produces a response; client IP resolution
// runs before anything that keys on the caller's address.
func buildMiddlewareChain(cfg *config.Config, app *application, authCfg *auth.Config) []gin.HandlerFunc {
	chain := []gin.HandlerFunc{
		middleware.Recovery(app.zlog),
		middleware.RequestID(),
		middleware.ClientIP(middleware.NewClientIPExtractor(cfg.Server.TrustedProxies)),
		middleware.Logging(app.zlog),
		middleware.Metrics(app.metrics),
	}

	if cfg.Tracing.Enabled {
		serviceName := cfg.Tracing.ServiceName
		if serviceName == "" {
			serviceName = metricsNamespace
		}
		chain = append(chain, middleware.Tracing(serviceName))
	}

	secCfg := middleware.DefaultSecurityHeadersConfig()
	secCfg.NoStorePaths = noStorePaths
	chain = append(chain, middleware.SecurityHeadersWithConfig(secCfg))

	if cfg.RateLimit.Enabled {
		chain = append(chain, middleware.RateLimitWithConfig(middleware.RateLimitConfig{
			Limiter:        app.limiter,
			KeyFunc:        rateLimitKeyFunc(cfg.RateLimit.KeyBy, authCfg, app.source),
			Logger:         app.zlog,
			IncludeHeaders: true,
		}))
	}

	return chain
}

// rateLimitKeyFunc selects the throttling key. Keying by user reads
// the uid from the request's ticket without validating the digest;
// a forged uid only isolates the forger in its own bucket. Requests
// without a parseable ticket fall back to the client address.
func rateLimitKeyFunc(keyBy string, authCfg *auth.Config, source auth.FactorySource) middleware.KeyFunc {
	if keyBy != "user" {
		return middleware.IPKeyFunc
	}

	extractor := auth.NewExtractor(authCfg.Sources)
	return func(c *gin.Context) string {
		if id, ok := auth.IdentityFromGinContext(c); ok {
			return "user:" + id.UserID
		}
		cred, err := extractor.ExtractTicket(c.Request)
		if err != nil {
			return middleware.IPKeyFunc(c)
		}
		t, err := source.Factory().Parse(cred.Value)
		if err != nil || t.UserID == "" {
			return middleware.IPKeyFunc(c)
		}
		return "user:" + t.UserID
	}
}
