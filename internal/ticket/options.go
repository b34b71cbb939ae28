package ticket

import (
	"net/netip"
	"time"

	"github.com/vyrodovalexey/tktauth/internal/observability"
)

// Option configures a Factory.
type Option func(*factory)

// WithAlgorithm selects the digest algorithm. The name is matched
// case-insensitively and common aliases such as "blake2b" are
// accepted. NewFactory fails with ErrUnknownAlgorithm when the name is
// not registered.
func WithAlgorithm(name string) Option {
	return func(f *factory) {
		f.algorithmName = name
	}
}

// WithDefaultLifetime sets the lifetime applied to tickets issued
// without an explicit expiry. The default is 2 minutes.
func WithDefaultLifetime(d time.Duration) Option {
	return func(f *factory) {
		f.defaultLifetime = d
	}
}

// WithPayloadEncoding sets the character encoding applied to the
// quoted payload before hashing and serialization. The name is
// resolved through the IANA registry; the empty string, "utf-8" and
// "utf8" select raw byte passthrough. NewFactory fails with
// ErrUnknownEncoding when the name is not registered.
func WithPayloadEncoding(name string) Option {
	return func(f *factory) {
		f.encodingName = name
	}
}

// WithLogger sets the factory logger. The default discards all output.
func WithLogger(logger observability.Logger) Option {
	return func(f *factory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder shared by the factory.
func WithMetrics(m *Metrics) Option {
	return func(f *factory) {
		if m != nil {
			f.metrics = m
		}
	}
}

// ticketParams collects the per-ticket options. validUntilSet
// distinguishes an explicit zero expiry from an absent one.
type ticketParams struct {
	tokens        []string
	userData      string
	validUntil    uint32
	validUntilSet bool
	clientIP      netip.Addr
}

// TicketOption configures a single ticket issued by Factory.New.
type TicketOption func(*ticketParams)

// WithTokens sets the ticket's token list.
func WithTokens(tokens ...string) TicketOption {
	return func(p *ticketParams) {
		p.tokens = tokens
	}
}

// WithUserData sets the ticket's free-form payload field.
func WithUserData(data string) TicketOption {
	return func(p *ticketParams) {
		p.userData = data
	}
}

// WithValidUntil sets an explicit expiry in seconds since the Unix
// epoch, overriding the factory's default lifetime. Zero is a valid
// explicit expiry and produces a ticket that is already expired.
func WithValidUntil(validUntil uint32) TicketOption {
	return func(p *ticketParams) {
		p.validUntil = validUntil
		p.validUntilSet = true
	}
}

// WithClientIP binds the ticket to the given client address. Tickets
// bound to an address validate only against the same address. The
// zero Addr means unbound, which hashes as 0.0.0.0.
func WithClientIP(ip netip.Addr) TicketOption {
	return func(p *ticketParams) {
		p.clientIP = ip
	}
}
