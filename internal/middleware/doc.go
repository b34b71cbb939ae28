// Package middleware provides the gin HTTP middleware chain for the
// ticket service: request IDs, client IP resolution behind trusted
// proxies, access logging, panic recovery, Prometheus metrics, rate
// limiting, security headers, and request body limits.
//
// Handlers are composable and individually configurable; the cmd
// wiring applies them in a fixed order so recovery wraps everything
// and the request ID exists before anything logs.
package middleware
