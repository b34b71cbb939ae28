// Package ticket implements issuing and verification of self-contained,
// statelessly-verifiable authentication tickets compatible with the
// mod_auth_tkt cookie format.
//
// A ticket binds a user identity, an ordered list of capability tokens,
// opaque user data, an expiry timestamp, and optionally a client IP
// address under a keyed double-hash digest:
//
//	digest = hex( H( H(data0 + secret + data1) + secret ) )
//
// where data0 carries the IP version tag, the raw address bytes, and the
// big-endian expiry, and data1 carries the percent-encoded user fields
// separated by NUL bytes. No ticket store exists; validity is re-derived
// by recomputing the digest from the parsed fields.
//
// # Usage
//
//	factory, err := ticket.NewFactory(secret,
//	    ticket.WithAlgorithm("sha512"),
//	    ticket.WithDefaultLifetime(2*time.Minute),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	raw, err := factory.New("alice",
//	    ticket.WithTokens("admin", "finance"),
//	    ticket.WithClientIP(clientAddr),
//	)
//
//	tkt, err := factory.Validate(raw, clientAddr)
//	if err != nil {
//	    // ticket.IsParseError / IsDigestError / IsExpiredError
//	}
//
// Validation failures are exactly one of three kinds: a ParseError for
// malformed text, a DigestError for a well-formed ticket whose
// recomputed digest does not match (tampering, wrong secret, or wrong
// client IP), or an ExpiredError for a correctly signed ticket past its
// expiry. Callers must treat all three as rejection; telemetry may
// differentiate them.
//
// A Factory is safe for concurrent use: every digest computation runs
// over fresh hash contexts and no per-call state is shared.
package ticket
