package auth

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/tktauth/internal/ticket"
)

// GinIdentityKey is the gin context key the middleware stores the
// authenticated identity under.
const GinIdentityKey = "auth.identity"

// Identity represents the principal carried by a validated ticket.
type Identity struct {
	// UserID is the authenticated user id.
	UserID string `json:"user_id"`

	// Tokens are the access tokens granted to the user. Nil when the
	// ticket carries none.
	Tokens []string `json:"tokens,omitempty"`

	// UserData is the free-form payload from the ticket.
	UserData string `json:"user_data,omitempty"`

	// ValidUntil is when the ticket expires.
	ValidUntil time.Time `json:"valid_until"`
}

// IdentityFromTicket builds an identity from a validated ticket.
func IdentityFromTicket(t *ticket.Ticket) *Identity {
	return &Identity{
		UserID:     t.UserID,
		Tokens:     t.Tokens,
		UserData:   t.UserData,
		ValidUntil: t.ExpiresAt(),
	}
}

// HasToken reports whether the identity carries the given token.
func (i *Identity) HasToken(token string) bool {
	for _, tok := range i.Tokens {
		if tok == token {
			return true
		}
	}
	return false
}

// MissingTokens returns the subset of required tokens the identity
// does not carry, preserving order. It returns nil when none are
// missing.
func (i *Identity) MissingTokens(required []string) []string {
	var missing []string
	for _, token := range required {
		if !i.HasToken(token) {
			missing = append(missing, token)
		}
	}
	return missing
}

type identityContextKey struct{}

// ContextWithIdentity adds an identity to the context.
func ContextWithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext extracts the identity from the context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// IdentityFromGinContext extracts the identity the middleware stored
// on the gin context.
func IdentityFromGinContext(c *gin.Context) (*Identity, bool) {
	value, exists := c.Get(GinIdentityKey)
	if !exists {
		return nil, false
	}
	identity, ok := value.(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
