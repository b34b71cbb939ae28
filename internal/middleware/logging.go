package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LoggingConfig holds configuration for the logging middleware.
type LoggingConfig struct {
	Logger          *zap.Logger
	SkipPaths       []string
	SkipHealthCheck bool
}

// Logging returns a middleware that writes a structured access log
// line per request, skipping health check paths.
func Logging(logger *zap.Logger) gin.HandlerFunc {
	return LoggingWithConfig(LoggingConfig{Logger: logger, SkipHealthCheck: true})
}

// isHealthCheckPath checks if the path is a health check endpoint.
func isHealthCheckPath(path string) bool {
	return path == "/health" || path == "/healthz" || path == "/ready" || path == "/readyz"
}

// buildLogFields builds the log fields from request and response data.
func buildLogFields(c *gin.Context, path string, latency time.Duration, status int) []zap.Field {
	fields := []zap.Field{
		zap.String("requestID", GetRequestID(c)),
		zap.String("method", c.Request.Method),
		zap.String("path", path),
		zap.String("query", c.Request.URL.RawQuery),
		zap.Int("status", status),
		zap.Duration("latency", latency),
		zap.String("userAgent", c.Request.UserAgent()),
		zap.Int("bodySize", c.Writer.Size()),
	}

	if addr := ClientIPFromContext(c); addr.IsValid() {
		fields = append(fields, zap.String("clientIP", addr.String()))
	}

	if len(c.Errors) > 0 {
		fields = append(fields, zap.String("errors", c.Errors.String()))
	}

	return fields
}

// logRequestByStatus logs the request with the level matching the
// status code.
func logRequestByStatus(logger *zap.Logger, status int, fields []zap.Field) {
	switch {
	case status >= 500:
		logger.Error("request completed", fields...)
	case status >= 400:
		logger.Warn("request completed", fields...)
	default:
		logger.Info("request completed", fields...)
	}
}

// LoggingWithConfig returns a logging middleware with custom configuration.
func LoggingWithConfig(config LoggingConfig) gin.HandlerFunc {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	skipPaths := make(map[string]bool)
	for _, path := range config.SkipPaths {
		skipPaths[path] = true
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path

		if skipPaths[path] || (config.SkipHealthCheck && isHealthCheckPath(path)) {
			c.Next()
			return
		}

		start := time.Now()

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		logRequestByStatus(config.Logger, status, buildLogFields(c, path, latency, status))
	}
}
