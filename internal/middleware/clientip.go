package middleware

import (
	"net/netip"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderXForwardedFor is the X-Forwarded-For header name.
	HeaderXForwardedFor = "X-Forwarded-For"

	// HeaderXRealIP is the X-Real-IP header name.
	HeaderXRealIP = "X-Real-IP"

	// ClientIPKey is the gin context key the ClientIP middleware
	// stores the resolved address under.
	ClientIPKey = "clientIP"
)

// ClientIPExtractor resolves the real client address from requests,
// walking X-Forwarded-For with trusted proxy validation. When no
// trusted proxies are configured only RemoteAddr is used, the secure
// default against header spoofing.
type ClientIPExtractor struct {
	trustedPrefixes []netip.Prefix
}

// NewClientIPExtractor creates an extractor trusting the given proxy
// CIDRs. Single addresses are accepted and widened to host prefixes;
// entries that parse as neither are skipped.
func NewClientIPExtractor(trustedProxies []string) *ClientIPExtractor {
	prefixes := make([]netip.Prefix, 0, len(trustedProxies))
	for _, proxy := range trustedProxies {
		prefix, err := netip.ParsePrefix(proxy)
		if err != nil {
			addr, err := netip.ParseAddr(proxy)
			if err != nil {
				continue
			}
			addr = addr.Unmap()
			prefix = netip.PrefixFrom(addr, addr.BitLen())
		}
		prefixes = append(prefixes, prefix)
	}
	return &ClientIPExtractor{trustedPrefixes: prefixes}
}

// Resolve returns the real client address for a request received from
// remoteAddr carrying the given forwarded-for and real-ip header
// values. The zero Addr is returned when nothing parses.
//
// With trusted proxies configured and a trusted RemoteAddr, the
// X-Forwarded-For chain is walked right to left and the first
// untrusted hop wins; X-Real-IP is the fallback when the chain is
// empty. An untrusted RemoteAddr is always returned as-is.
func (e *ClientIPExtractor) Resolve(remoteAddr, forwardedFor, realIP string) netip.Addr {
	remote := parseHostAddr(remoteAddr)

	// Secure default: no trusted proxies means only use RemoteAddr
	if len(e.trustedPrefixes) == 0 {
		return remote
	}

	if !e.isTrusted(remote) {
		return remote
	}

	if addr := e.fromForwardedChain(forwardedFor); addr.IsValid() {
		return addr
	}

	if addr := parseHostAddr(realIP); addr.IsValid() {
		return addr
	}

	return remote
}

// fromForwardedChain walks the X-Forwarded-For value right to left and
// returns the first untrusted address, or the zero Addr when the value
// is empty, unparseable, or entirely trusted.
func (e *ClientIPExtractor) fromForwardedChain(forwardedFor string) netip.Addr {
	if forwardedFor == "" {
		return netip.Addr{}
	}

	hops := strings.Split(forwardedFor, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		addr := parseHostAddr(strings.TrimSpace(hops[i]))
		if !addr.IsValid() {
			continue
		}
		if !e.isTrusted(addr) {
			return addr
		}
	}

	return netip.Addr{}
}

// isTrusted checks whether the address is within any trusted prefix.
func (e *ClientIPExtractor) isTrusted(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	for _, prefix := range e.trustedPrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// parseHostAddr parses an address that may carry a port, in both
// "192.0.2.1:8080" and "[::1]:8080" forms. Mapped IPv4-in-IPv6
// addresses are unmapped so prefix checks and ticket digests see the
// IPv4 form.
func parseHostAddr(s string) netip.Addr {
	if s == "" {
		return netip.Addr{}
	}
	if addrPort, err := netip.ParseAddrPort(s); err == nil {
		return addrPort.Addr().Unmap()
	}
	if addr, err := netip.ParseAddr(s); err == nil {
		return addr.Unmap()
	}
	return netip.Addr{}
}

// ClientIP returns a middleware that resolves the client address once
// per request and stores it in the gin context for the handlers and
// middlewares downstream.
func ClientIP(extractor *ClientIPExtractor) gin.HandlerFunc {
	if extractor == nil {
		extractor = NewClientIPExtractor(nil)
	}
	return func(c *gin.Context) {
		addr := extractor.Resolve(
			c.Request.RemoteAddr,
			c.GetHeader(HeaderXForwardedFor),
			c.GetHeader(HeaderXRealIP),
		)
		c.Set(ClientIPKey, addr)
		c.Next()
	}
}

// ClientIPFromContext returns the address the ClientIP middleware
// resolved, falling back to parsing RemoteAddr when the middleware did
// not run.
func ClientIPFromContext(c *gin.Context) netip.Addr {
	if value, exists := c.Get(ClientIPKey); exists {
		if addr, ok := value.(netip.Addr); ok {
			return addr
		}
	}
	return parseHostAddr(c.Request.RemoteAddr)
}
