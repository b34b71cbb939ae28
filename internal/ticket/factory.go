package ticket

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding"

	"github.com/vyrodovalexey/tktauth/internal/observability"
)

// Defaults applied by NewFactory.
const (
	// DefaultAlgorithm is the digest algorithm used when none is
	// configured.
	DefaultAlgorithm = AlgSHA512

	// DefaultLifetime is the lifetime applied to tickets issued
	// without an explicit expiry.
	DefaultLifetime = 2 * time.Minute
)

// Factory issues, parses and validates tickets signed with a shared
// secret. Implementations are safe for concurrent use.
type Factory interface {
	// New issues a signed ticket for the given user id. The user id
	// must be non-empty; tokens, payload, expiry and client address
	// binding are supplied through options.
	New(userID string, opts ...TicketOption) (string, error)

	// Parse splits raw into its fields without verifying the digest.
	Parse(raw string) (*Ticket, error)

	// Validate checks raw against the factory secret and the current
	// time. The clientIP must match the address the ticket was bound
	// to; pass the zero Addr for unbound tickets.
	Validate(raw string, clientIP netip.Addr) (*Ticket, error)

	// ValidateAt is Validate with an explicit current time.
	ValidateAt(raw string, clientIP netip.Addr, now time.Time) (*Ticket, error)

	// Algorithm returns the canonical digest algorithm name.
	Algorithm() string

	// DigestSize returns the digest length in bytes.
	DigestSize() int

	// DefaultLifetime returns the lifetime applied to tickets issued
	// without an explicit expiry.
	DefaultLifetime() time.Duration
}

// factory implements the Factory interface.
type factory struct {
	secret          []byte
	algorithmName   string
	algorithm       string
	digestSize      int
	newHash         func() hash.Hash
	defaultLifetime time.Duration
	encodingName    string
	payloadEnc      encoding.Encoding
	logger          observability.Logger
	metrics         *Metrics
}

var _ Factory = (*factory)(nil)

// NewFactory creates a ticket factory around the shared secret. The
// secret is copied, so the caller may zero its slice afterwards.
func NewFactory(secret []byte, opts ...Option) (Factory, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}

	f := &factory{
		algorithmName:   DefaultAlgorithm,
		defaultLifetime: DefaultLifetime,
		logger:          observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(f)
	}

	// Initialize metrics if not provided
	if f.metrics == nil {
		f.metrics = NewMetrics("tktauth")
	}

	name, alg, err := lookupAlgorithm(f.algorithmName)
	if err != nil {
		return nil, err
	}
	f.algorithm = name
	f.digestSize = alg.size
	f.newHash = alg.new

	enc, err := lookupEncoding(f.encodingName)
	if err != nil {
		return nil, err
	}
	f.payloadEnc = enc

	f.secret = make([]byte, len(secret))
	copy(f.secret, secret)

	return f, nil
}

// Algorithm returns the canonical digest algorithm name.
func (f *factory) Algorithm() string {
	return f.algorithm
}

// DigestSize returns the digest length in bytes.
func (f *factory) DigestSize() int {
	return f.digestSize
}

// DefaultLifetime returns the lifetime applied to tickets issued
// without an explicit expiry.
func (f *factory) DefaultLifetime() time.Duration {
	return f.defaultLifetime
}

// New issues a signed ticket for userID.
func (f *factory) New(userID string, opts ...TicketOption) (string, error) {
	start := time.Now()

	if userID == "" {
		f.metrics.RecordIssue("error", f.algorithm, time.Since(start))
		return "", ErrEmptyUserID
	}

	var p ticketParams
	for _, opt := range opts {
		opt(&p)
	}
	if !p.validUntilSet {
		p.validUntil = uint32(time.Now().Unix()) + uint32(f.defaultLifetime/time.Second)
	}

	raw, err := f.build(userID, p.tokens, p.userData, p.validUntil, p.clientIP)
	if err != nil {
		f.metrics.RecordIssue("error", f.algorithm, time.Since(start))
		return "", err
	}

	f.metrics.RecordIssue("success", f.algorithm, time.Since(start))
	f.logger.Debug("ticket issued",
		observability.String("user_id", userID),
		observability.String("algorithm", f.algorithm),
		observability.Uint32("valid_until", p.validUntil),
	)
	return raw, nil
}

// Parse splits raw into its fields without verifying the digest. The
// digest prefix is carried verbatim; whether it matches the secret is
// decided by Validate.
func (f *factory) Parse(raw string) (*Ticket, error) {
	digestLen := f.digestSize * 2
	if len(raw) < digestLen+8 {
		return nil, NewParseError(raw, ReasonInvalidLength)
	}

	ts, err := strconv.ParseUint(raw[digestLen:digestLen+8], 16, 32)
	if err != nil {
		return nil, NewParseError(raw, ReasonInvalidTime)
	}

	parts := strings.Split(raw[digestLen+8:], "!")
	if len(parts) != 3 {
		return nil, NewParseError(raw, ReasonMissingParts)
	}

	var tokens []string
	if parts[1] != "" {
		tokens = strings.Split(parts[1], ",")
	}

	return &Ticket{
		Digest:     raw[:digestLen],
		UserID:     Unquote(parts[0]),
		Tokens:     tokens,
		UserData:   Unquote(parts[2]),
		ValidUntil: uint32(ts),
	}, nil
}

// Validate checks raw against the factory secret and the current time.
func (f *factory) Validate(raw string, clientIP netip.Addr) (*Ticket, error) {
	return f.ValidateAt(raw, clientIP, time.Now())
}

// ValidateAt checks raw against the factory secret at the given
// instant. The digest is recomputed from the parsed fields and
// clientIP and compared first; expiry is checked second, so a
// tampered ticket is always reported as a digest mismatch even when
// it is also expired. A ticket is expired once now reaches its
// expiry.
func (f *factory) ValidateAt(raw string, clientIP netip.Addr, now time.Time) (*Ticket, error) {
	start := time.Now()

	t, err := f.Parse(raw)
	if err != nil {
		f.metrics.RecordValidation("error", "malformed", time.Since(start))
		return nil, err
	}

	expected, err := f.hexDigest(clientIP, t.ValidUntil, Quote(t.UserID), strings.Join(t.Tokens, ","), Quote(t.UserData))
	if err != nil {
		f.metrics.RecordValidation("error", "unencodable", time.Since(start))
		return nil, err
	}

	if t.Digest != expected {
		f.metrics.RecordValidation("error", "digest_mismatch", time.Since(start))
		f.logger.Debug("ticket rejected",
			observability.String("reason", "digest mismatch"),
			observability.String("user_id", t.UserID),
		)
		return nil, NewDigestError(raw)
	}

	if int64(t.ValidUntil) <= now.Unix() {
		f.metrics.RecordValidation("error", "expired", time.Since(start))
		f.logger.Debug("ticket rejected",
			observability.String("reason", "expired"),
			observability.String("user_id", t.UserID),
			observability.Uint32("valid_until", t.ValidUntil),
		)
		return nil, NewExpiredError(raw, t.ValidUntil)
	}

	f.metrics.RecordValidation("success", "valid", time.Since(start))
	return t, nil
}

// build assembles and signs the wire form from resolved fields.
func (f *factory) build(userID string, tokens []string, userData string, validUntil uint32, ip netip.Addr) (string, error) {
	quotedUser := Quote(userID)
	tokenStr := strings.Join(tokens, ",")
	quotedData := Quote(userData)

	digest, err := f.hexDigest(ip, validUntil, quotedUser, tokenStr, quotedData)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s%08x%s!%s!%s", digest, validUntil, quotedUser, tokenStr, quotedData), nil
}

// hexDigest computes the double digest over the packed address and
// expiry followed by the encoded payload. The payload fields are
// hashed in their quoted form, NUL-separated, with the secret mixed
// in between and after.
func (f *factory) hexDigest(ip netip.Addr, validUntil uint32, quotedUser, tokenStr, quotedData string) (string, error) {
	data1, err := f.encodePayload(quotedUser + "\x00" + tokenStr + "\x00" + quotedData)
	if err != nil {
		return "", err
	}

	h0 := f.newHash()
	h0.Write(packAddr(ip, validUntil))
	h0.Write(f.secret)
	h0.Write(data1)

	h1 := f.newHash()
	h1.Write(h0.Sum(nil))
	h1.Write(f.secret)

	return hex.EncodeToString(h1.Sum(nil)), nil
}

// encodePayload applies the configured payload encoding. The quoted
// fields are plain ASCII, but tokens pass through verbatim, so wide
// or exotic encodings can both change the hashed bytes and reject
// tokens they cannot represent.
func (f *factory) encodePayload(payload string) ([]byte, error) {
	if f.payloadEnc == nil {
		return []byte(payload), nil
	}

	out, err := f.payloadEnc.NewEncoder().Bytes([]byte(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnencodablePayload, err)
	}
	return out, nil
}

// packAddr serializes the client address and expiry for hashing: a
// version byte, the raw address bytes and the expiry as a big-endian
// 32-bit value. The zero Addr hashes as 0.0.0.0. IPv4-mapped IPv6
// addresses keep their 16-byte form and version byte 6, so they do
// not collide with the plain IPv4 address they wrap.
func packAddr(ip netip.Addr, validUntil uint32) []byte {
	if !ip.IsValid() {
		ip = netip.AddrFrom4([4]byte{})
	}

	var buf []byte
	if ip.Is4() {
		a := ip.As4()
		buf = make([]byte, 0, 9)
		buf = append(buf, 4)
		buf = append(buf, a[:]...)
	} else {
		a := ip.As16()
		buf = make([]byte, 0, 21)
		buf = append(buf, 6)
		buf = append(buf, a[:]...)
	}
	return binary.BigEndian.AppendUint32(buf, validUntil)
}
