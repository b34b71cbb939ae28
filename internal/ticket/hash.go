package ticket

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/sha3"
)

// Hash algorithm identifiers.
const (
	AlgMD5        = "md5"
	AlgSHA1       = "sha1"
	AlgSHA224     = "sha224"
	AlgSHA256     = "sha256"
	AlgSHA384     = "sha384"
	AlgSHA512     = "sha512"
	AlgSHA3_224   = "sha3-224"
	AlgSHA3_256   = "sha3-256"
	AlgSHA3_384   = "sha3-384"
	AlgSHA3_512   = "sha3-512"
	AlgBLAKE2b256 = "blake2b-256"
	AlgBLAKE2b384 = "blake2b-384"
	AlgBLAKE2b512 = "blake2b-512"
	AlgBLAKE2s256 = "blake2s-256"
	AlgBLAKE3     = "blake3"
)

// hashAlgorithm describes a registered digest algorithm: its size in
// bytes and a constructor returning a fresh hash context. Fresh
// contexts per computation keep concurrent callers from observing each
// other's partial state.
type hashAlgorithm struct {
	size int
	new  func() hash.Hash
}

var hashAlgorithms = map[string]hashAlgorithm{
	AlgMD5:      {size: md5.Size, new: md5.New},
	AlgSHA1:     {size: sha1.Size, new: sha1.New},
	AlgSHA224:   {size: sha256.Size224, new: sha256.New224},
	AlgSHA256:   {size: sha256.Size, new: sha256.New},
	AlgSHA384:   {size: sha512.Size384, new: sha512.New384},
	AlgSHA512:   {size: sha512.Size, new: sha512.New},
	AlgSHA3_224: {size: 28, new: sha3.New224},
	AlgSHA3_256: {size: 32, new: sha3.New256},
	AlgSHA3_384: {size: 48, new: sha3.New384},
	AlgSHA3_512: {size: 64, new: sha3.New512},
	AlgBLAKE2b256: {size: blake2b.Size256, new: func() hash.Hash {
		h, _ := blake2b.New256(nil)
		return h
	}},
	AlgBLAKE2b384: {size: blake2b.Size384, new: func() hash.Hash {
		h, _ := blake2b.New384(nil)
		return h
	}},
	AlgBLAKE2b512: {size: blake2b.Size, new: func() hash.Hash {
		h, _ := blake2b.New512(nil)
		return h
	}},
	AlgBLAKE2s256: {size: blake2s.Size, new: func() hash.Hash {
		h, _ := blake2s.New256(nil)
		return h
	}},
	AlgBLAKE3: {size: 32, new: func() hash.Hash {
		return blake3.New()
	}},
}

// hashAliases maps alternate spellings to canonical identifiers.
var hashAliases = map[string]string{
	"sha3_224": AlgSHA3_224,
	"sha3_256": AlgSHA3_256,
	"sha3_384": AlgSHA3_384,
	"sha3_512": AlgSHA3_512,
	"blake2b":  AlgBLAKE2b512,
	"blake2s":  AlgBLAKE2s256,
}

// lookupAlgorithm resolves an algorithm identifier (case-insensitive,
// aliases allowed) to its canonical name and registry entry.
func lookupAlgorithm(name string) (string, hashAlgorithm, error) {
	canonical := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := hashAliases[canonical]; ok {
		canonical = alias
	}
	alg, ok := hashAlgorithms[canonical]
	if !ok {
		return "", hashAlgorithm{}, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
	return canonical, alg, nil
}

// Algorithms returns the sorted canonical identifiers of all supported
// hash algorithms.
func Algorithms() []string {
	names := make([]string, 0, len(hashAlgorithms))
	for name := range hashAlgorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DigestSize returns the digest size in bytes for the given algorithm
// identifier.
func DigestSize(name string) (int, error) {
	_, alg, err := lookupAlgorithm(name)
	if err != nil {
		return 0, err
	}
	return alg.size, nil
}
