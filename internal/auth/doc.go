// Package auth binds ticket validation to HTTP and gRPC requests.
//
// The package extracts a ticket from a configurable chain of request
// sources (cookie, header, query parameter), validates it against the
// active ticket factory, and publishes the resulting identity to the
// request context. Both a Gin middleware and gRPC interceptors are
// provided so HTTP routes and gRPC services share one authentication
// path.
//
// # Usage
//
// Create an authenticator around a factory source and install it:
//
//	authn := auth.NewAuthenticator(source, cfg,
//	    auth.WithAuthenticatorLogger(logger),
//	)
//
//	router.Use(authn.Middleware())
//
// The factory source indirection lets the running service swap the
// ticket factory on configuration reload without tearing down the
// middleware chain.
//
// Handlers read the authenticated identity back from the context:
//
//	identity, ok := auth.IdentityFromGinContext(c)
package auth
