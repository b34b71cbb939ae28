package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vyrodovalexey/tktauth/internal/ticket"
)

// Sentinel errors for request authentication.
var (
	// ErrNoTicket indicates that no source in the extraction chain
	// yielded a ticket.
	ErrNoTicket = errors.New("no ticket provided")

	// ErrMissingToken indicates that a validated ticket lacks a token
	// required for the route.
	ErrMissingToken = errors.New("required token missing")
)

// TokenError reports which required tokens a validated ticket lacks.
type TokenError struct {
	// Missing lists the required tokens absent from the ticket.
	Missing []string
}

// Error implements the error interface.
func (e *TokenError) Error() string {
	return fmt.Sprintf("required token missing: %s", strings.Join(e.Missing, ", "))
}

// Unwrap returns ErrMissingToken so callers can match with errors.Is.
func (e *TokenError) Unwrap() error {
	return ErrMissingToken
}

// NewTokenError creates a TokenError for the given missing tokens.
func NewTokenError(missing []string) *TokenError {
	return &TokenError{Missing: missing}
}

// Failure kinds classify why authentication was refused. They appear
// as the reason field in deny responses, as metric labels, and in
// audit events.
const (
	FailureMissing = "missing"
	FailureParse   = "parse"
	FailureDigest  = "digest"
	FailureExpired = "expired"
	FailureToken   = "token"
	FailureError   = "error"
)

// FailureKind maps an authentication error to its failure kind.
// Unrecognized errors fall through to FailureError.
func FailureKind(err error) string {
	switch {
	case errors.Is(err, ErrNoTicket):
		return FailureMissing
	case errors.Is(err, ErrMissingToken):
		return FailureToken
	case errors.Is(err, ticket.ErrMalformedTicket):
		return FailureParse
	case errors.Is(err, ticket.ErrDigestMismatch):
		return FailureDigest
	case errors.Is(err, ticket.ErrTicketExpired):
		return FailureExpired
	default:
		return FailureError
	}
}
