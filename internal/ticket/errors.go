package ticket

import (
	"errors"
	"fmt"
)

// Parse failure reasons carried by ParseError.
const (
	ReasonInvalidLength = "invalid length"
	ReasonInvalidTime   = "invalid time field"
	ReasonMissingParts  = "missing parts"
)

// Sentinel errors for ticket operations.
var (
	// ErrMalformedTicket indicates that the ticket text is malformed.
	ErrMalformedTicket = errors.New("ticket is malformed")

	// ErrDigestMismatch indicates that the recomputed digest does not
	// match the one carried by the ticket.
	ErrDigestMismatch = errors.New("ticket digest mismatch")

	// ErrTicketExpired indicates that the ticket is at or past its expiry.
	ErrTicketExpired = errors.New("ticket has expired")

	// ErrUnknownAlgorithm indicates that the hash algorithm identifier is
	// not supported.
	ErrUnknownAlgorithm = errors.New("hash algorithm is not supported")

	// ErrUnknownEncoding indicates that the payload encoding name is
	// not registered.
	ErrUnknownEncoding = errors.New("payload encoding is not supported")

	// ErrUnencodablePayload indicates that a payload field contains
	// runes the configured payload encoding cannot represent.
	ErrUnencodablePayload = errors.New("payload is not representable in the configured encoding")

	// ErrEmptySecret indicates that the factory secret is empty.
	ErrEmptySecret = errors.New("secret is empty")

	// ErrEmptyUserID indicates that the user id is empty.
	ErrEmptyUserID = errors.New("user id is empty")
)

// ParseError reports malformed ticket text: too short, a non-hex time
// field, or a wrong field count. It carries the offending ticket text
// and a reason string.
type ParseError struct {
	Ticket string
	Reason string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parse ticket: %s", e.Reason)
}

// Unwrap returns the sentinel malformed-ticket error.
func (e *ParseError) Unwrap() error {
	return ErrMalformedTicket
}

// NewParseError creates a new ParseError.
func NewParseError(ticket, reason string) *ParseError {
	return &ParseError{Ticket: ticket, Reason: reason}
}

// DigestError reports a structurally well-formed ticket whose
// recomputed digest does not match: tampering, a wrong secret, or a
// wrong client IP.
type DigestError struct {
	Ticket string
}

// Error implements the error interface.
func (e *DigestError) Error() string {
	return "validate ticket: digest mismatch"
}

// Unwrap returns the sentinel digest-mismatch error.
func (e *DigestError) Unwrap() error {
	return ErrDigestMismatch
}

// NewDigestError creates a new DigestError.
func NewDigestError(ticket string) *DigestError {
	return &DigestError{Ticket: ticket}
}

// ExpiredError reports a well-formed, correctly signed ticket whose
// expiry is at or before the check time.
type ExpiredError struct {
	Ticket     string
	ValidUntil uint32
}

// Error implements the error interface.
func (e *ExpiredError) Error() string {
	return fmt.Sprintf("validate ticket: expired at %d", e.ValidUntil)
}

// Unwrap returns the sentinel expired error.
func (e *ExpiredError) Unwrap() error {
	return ErrTicketExpired
}

// NewExpiredError creates a new ExpiredError.
func NewExpiredError(ticket string, validUntil uint32) *ExpiredError {
	return &ExpiredError{Ticket: ticket, ValidUntil: validUntil}
}

// IsParseError checks if an error is a ParseError.
func IsParseError(err error) bool {
	var parseErr *ParseError
	return errors.As(err, &parseErr)
}

// IsDigestError checks if an error is a DigestError.
func IsDigestError(err error) bool {
	var digestErr *DigestError
	return errors.As(err, &digestErr)
}

// IsExpiredError checks if an error indicates ticket expiry.
func IsExpiredError(err error) bool {
	return errors.Is(err, ErrTicketExpired)
}
