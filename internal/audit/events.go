package audit

import (
	"net/netip"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of audit event.
type EventType string

// Event types.
const (
	// EventTicketIssued records a newly minted ticket.
	EventTicketIssued EventType = "ticket.issued"

	// EventTicketValidated records a ticket that passed validation.
	EventTicketValidated EventType = "ticket.validated"

	// EventTicketRejected records a presented ticket that failed
	// validation. The reason carries the failure kind.
	EventTicketRejected EventType = "ticket.rejected"

	// EventAuthDenied records a valid ticket that lacked a required
	// capability token.
	EventAuthDenied EventType = "auth.denied"

	// EventSessionLogout records an explicit logout.
	EventSessionLogout EventType = "session.logout"
)

// Outcome represents the outcome of an audited action.
type Outcome string

// Outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// Event represents an audit event. It deliberately carries no ticket
// text and no secret material.
type Event struct {
	// ID is a unique identifier for the event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the type of event.
	Type EventType `json:"type"`

	// Outcome is the outcome of the action.
	Outcome Outcome `json:"outcome"`

	// UserID is the subject's user id, when known. Rejections before
	// the digest check passes have no trustworthy user id.
	UserID string `json:"user_id,omitempty"`

	// ClientIP is the resolved client address.
	ClientIP string `json:"client_ip,omitempty"`

	// RequestID correlates the event with the request log line.
	RequestID string `json:"request_id,omitempty"`

	// Reason is the failure kind for rejections and denials.
	Reason string `json:"reason,omitempty"`

	// TraceID is the trace ID for distributed tracing.
	TraceID string `json:"trace_id,omitempty"`

	// SpanID is the span ID for distributed tracing.
	SpanID string `json:"span_id,omitempty"`
}

// NewEvent creates a new audit event with default values.
func NewEvent(eventType EventType, outcome Outcome) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Outcome:   outcome,
	}
}

// WithUser sets the user id.
func (e *Event) WithUser(userID string) *Event {
	e.UserID = userID
	return e
}

// WithClientIP sets the client address. The zero Addr is skipped.
func (e *Event) WithClientIP(addr netip.Addr) *Event {
	if addr.IsValid() {
		e.ClientIP = addr.String()
	}
	return e
}

// WithRequestID sets the request id.
func (e *Event) WithRequestID(requestID string) *Event {
	e.RequestID = requestID
	return e
}

// WithReason sets the failure reason.
func (e *Event) WithReason(reason string) *Event {
	e.Reason = reason
	return e
}

// TicketIssued creates an issuance audit event.
func TicketIssued(userID string) *Event {
	return NewEvent(EventTicketIssued, OutcomeSuccess).WithUser(userID)
}

// TicketValidated creates a successful validation audit event.
func TicketValidated(userID string) *Event {
	return NewEvent(EventTicketValidated, OutcomeSuccess).WithUser(userID)
}

// TicketRejected creates a failed validation audit event. The reason is
// the failure kind (parse, digest, expired).
func TicketRejected(reason string) *Event {
	return NewEvent(EventTicketRejected, OutcomeFailure).WithReason(reason)
}

// AuthDenied creates a capability denial audit event for a ticket that
// validated but lacked a required token.
func AuthDenied(userID, reason string) *Event {
	return NewEvent(EventAuthDenied, OutcomeDenied).
		WithUser(userID).
		WithReason(reason)
}

// SessionLogout creates a logout audit event.
func SessionLogout(userID string) *Event {
	return NewEvent(EventSessionLogout, OutcomeSuccess).WithUser(userID)
}
