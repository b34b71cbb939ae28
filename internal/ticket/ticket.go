package ticket

import "time"

// Ticket holds the decoded fields of a parsed ticket string. The
// Digest is carried verbatim from the wire form; whether it matches
// the factory secret is decided by Validate, not Parse.
type Ticket struct {
	// Digest is the hex digest prefix exactly as it appeared on the
	// wire.
	Digest string

	// UserID identifies the authenticated principal.
	UserID string

	// Tokens are the access tokens granted to the principal. Nil when
	// the ticket carries none.
	Tokens []string

	// UserData is the free-form payload field.
	UserData string

	// ValidUntil is the expiry as seconds since the Unix epoch.
	ValidUntil uint32
}

// ExpiresAt returns the expiry instant in UTC.
func (t *Ticket) ExpiresAt() time.Time {
	return time.Unix(int64(t.ValidUntil), 0).UTC()
}

// HasToken reports whether the ticket carries the given token.
func (t *Ticket) HasToken(token string) bool {
	for _, tok := range t.Tokens {
		if tok == token {
			return true
		}
	}
	return false
}

// HasAllTokens reports whether the ticket carries every one of the
// given tokens. It is vacuously true for an empty list.
func (t *Ticket) HasAllTokens(tokens ...string) bool {
	for _, token := range tokens {
		if !t.HasToken(token) {
			return false
		}
	}
	return true
}
