package ticket

import "strings"

const upperhex = "0123456789ABCDEF"

// shouldEscape reports whether the byte must be percent-encoded. The
// unreserved set is ALPHA / DIGIT / "_" / "." / "-" / "~" plus "/";
// everything else escapes, so the structural delimiters "!" and ","
// and NUL can never appear unescaped in a quoted field.
func shouldEscape(c byte) bool {
	if 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9' {
		return false
	}
	switch c {
	case '_', '.', '-', '~', '/':
		return false
	}
	return true
}

// Quote percent-encodes every byte of s outside the unreserved set,
// using uppercase hex digits. The output is deterministic and safe for
// cookie transport.
func Quote(s string) string {
	escape := 0
	for i := 0; i < len(s); i++ {
		if shouldEscape(s[i]) {
			escape++
		}
	}
	if escape == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 2*escape)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if shouldEscape(c) {
			b.WriteByte('%')
			b.WriteByte(upperhex[c>>4])
			b.WriteByte(upperhex[c&0xf])
		} else {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Unquote decodes %XX sequences case-insensitively. Malformed
// sequences (a stray "%" or non-hex digits) are copied through
// unchanged, so decoding never fails and arbitrary input round-trips
// losslessly.
func Unquote(s string) string {
	if !strings.ContainsRune(s, '%') {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		c := s[i]
		if c == '%' && i+2 < len(s) && ishex(s[i+1]) && ishex(s[i+2]) {
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 3
		} else {
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

// ishex reports whether c is a hexadecimal digit.
func ishex(c byte) bool {
	switch {
	case '0' <= c && c <= '9':
		return true
	case 'a' <= c && c <= 'f':
		return true
	case 'A' <= c && c <= 'F':
		return true
	}
	return false
}

// unhex returns the value of the hexadecimal digit c.
func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}
