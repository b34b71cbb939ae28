package ticket

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// lookupEncoding resolves a payload encoding name through the IANA
// registry. The empty string, "utf-8" and "utf8" mean raw byte
// passthrough and return a nil Encoding, which the factory treats as
// the identity transform.
func lookupEncoding(name string) (encoding.Encoding, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	switch normalized {
	case "", "utf-8", "utf8":
		return nil, nil
	}

	enc, err := ianaindex.IANA.Encoding(normalized)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}
	return enc, nil
}
