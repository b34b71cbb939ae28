package auth

import (
	"context"
	"net/http"
	"strings"

	"google.golang.org/grpc/metadata"
)

// ExtractionType says where a ticket source reads from.
type ExtractionType string

// Extraction types.
const (
	ExtractionTypeHeader ExtractionType = "header"
	ExtractionTypeCookie ExtractionType = "cookie"
	ExtractionTypeQuery  ExtractionType = "query"
)

// ExtractionSource describes one place to look for a ticket.
type ExtractionSource struct {
	// Type is where to read from.
	Type ExtractionType

	// Name is the header, cookie, or query parameter name.
	Name string

	// Prefix, when set, must lead the extracted value and is stripped
	// from it. A value without the prefix does not match this source.
	Prefix string
}

// DefaultSources returns the standard ticket extraction chain: the
// auth cookie, the dedicated ticket header, an Authorization header
// with a Ticket scheme, and finally a query parameter.
func DefaultSources() []ExtractionSource {
	return []ExtractionSource{
		{Type: ExtractionTypeCookie, Name: "auth_tkt"},
		{Type: ExtractionTypeHeader, Name: "X-Auth-Ticket"},
		{Type: ExtractionTypeHeader, Name: "Authorization", Prefix: "Ticket "},
		{Type: ExtractionTypeQuery, Name: "ticket"},
	}
}

// Credential is a ticket pulled out of a request.
type Credential struct {
	// Value is the raw ticket text.
	Value string

	// Source is where the ticket was extracted from, as "type:name".
	Source string
}

// Extractor extracts tickets from requests.
type Extractor interface {
	// ExtractTicket extracts a ticket from the request.
	ExtractTicket(r *http.Request) (*Credential, error)

	// ExtractTicketFromGRPC extracts a ticket from gRPC metadata.
	ExtractTicketFromGRPC(ctx context.Context) (*Credential, error)
}

// extractor implements the Extractor interface.
type extractor struct {
	sources []ExtractionSource
}

// NewExtractor creates an extractor over the given source chain. The
// first source that yields a ticket wins. A nil or empty chain falls
// back to DefaultSources.
func NewExtractor(sources []ExtractionSource) Extractor {
	if len(sources) == 0 {
		sources = DefaultSources()
	}
	return &extractor{sources: sources}
}

// ExtractTicket extracts a ticket from the request.
func (e *extractor) ExtractTicket(r *http.Request) (*Credential, error) {
	for _, source := range e.sources {
		value := extractFromHTTP(r, source)
		if value != "" {
			return &Credential{
				Value:  value,
				Source: string(source.Type) + ":" + source.Name,
			}, nil
		}
	}
	return nil, ErrNoTicket
}

// ExtractTicketFromGRPC extracts a ticket from gRPC metadata. Only
// header sources apply; cookie and query sources are skipped.
func (e *extractor) ExtractTicketFromGRPC(ctx context.Context) (*Credential, error) {
	for _, source := range e.sources {
		if source.Type != ExtractionTypeHeader {
			continue
		}
		value := extractFromGRPC(ctx, source)
		if value != "" {
			return &Credential{
				Value:  value,
				Source: "metadata:" + source.Name,
			}, nil
		}
	}
	return nil, ErrNoTicket
}

// extractFromHTTP extracts a value from an HTTP request. Cookie values
// are taken as-is; the ticket's own percent quoting must survive the
// round trip untouched.
func extractFromHTTP(r *http.Request, source ExtractionSource) string {
	var value string

	switch source.Type {
	case ExtractionTypeHeader:
		value = r.Header.Get(source.Name)
	case ExtractionTypeCookie:
		if cookie, err := r.Cookie(source.Name); err == nil {
			value = cookie.Value
		}
	case ExtractionTypeQuery:
		value = r.URL.Query().Get(source.Name)
	}

	return stripPrefix(value, source.Prefix)
}

// extractFromGRPC extracts a value from gRPC metadata.
func extractFromGRPC(ctx context.Context, source ExtractionSource) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}

	// Try the exact name first
	values := md.Get(source.Name)
	if len(values) == 0 {
		// Try lowercase (gRPC metadata keys are lowercase)
		values = md.Get(strings.ToLower(source.Name))
	}

	if len(values) == 0 {
		return ""
	}

	return stripPrefix(values[0], source.Prefix)
}

func stripPrefix(value, prefix string) string {
	if value == "" {
		return ""
	}

	if prefix != "" {
		if !strings.HasPrefix(value, prefix) {
			return ""
		}
		value = strings.TrimPrefix(value, prefix)
	}

	return strings.TrimSpace(value)
}
