// Package digest computes hex digests over canonical bytes.
//
// Only sha256 and sha512 are supported. Requesting anything else fails when the
// Hasher is built, never silently at hash time.
package digest

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Algorithm names a supported hash function.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
)

// Supported lists the accepted algorithms in preference order.
var Supported = []Algorithm{SHA256, SHA512}

// ErrUnsupportedAlgorithm is returned for any algorithm outside Supported.
var ErrUnsupportedAlgorithm = errors.New("digest: unsupported hash algorithm")

// UnsupportedAlgorithmError names the rejected algorithm.
type UnsupportedAlgorithmError struct {
	Requested string
}

func (e *UnsupportedAlgorithmError) Error() string {
	return fmt.Sprintf("%v %q (supported: sha256, sha512)", ErrUnsupportedAlgorithm, e.Requested)
}

func (e *UnsupportedAlgorithmError) Unwrap() error { return ErrUnsupportedAlgorithm }

// ParseAlgorithm maps a name such as "SHA256" or "sha-512" to an Algorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "") {
	case "sha256":
		return SHA256, nil
	case "sha512":
		return SHA512, nil
	default:
		return "", &UnsupportedAlgorithmError{Requested: name}
	}
}

// HexLen returns the digest length in hex characters, or 0 if unsupported.
func (a Algorithm) HexLen() int {
	switch a {
	case SHA256:
		return sha256.Size * 2
	case SHA512:
		return sha512.Size * 2
	default:
		return 0
	}
}

func (a Algorithm) String() string { return string(a) }

// Hasher is a pure digest function bound to one algorithm.
type Hasher struct {
	alg Algorithm
}

// New returns a Hasher for alg.
func New(alg Algorithm) (Hasher, error) {
	if alg.HexLen() == 0 {
		return Hasher{}, &UnsupportedAlgorithmError{Requested: string(alg)}
	}
	return Hasher{alg: alg}, nil
}

// NewFromName parses name and returns its Hasher.
func NewFromName(name string) (Hasher, error) {
	alg, err := ParseAlgorithm(name)
	if err != nil {
		return Hasher{}, err
	}
	return New(alg)
}

// Algorithm returns the bound algorithm.
func (h Hasher) Algorithm() Algorithm { return h.alg }

// Sum returns the lowercase hex digest of data.
func (h Hasher) Sum(data []byte) string {
	switch h.alg {
	case SHA512:
		sum := sha512.Sum512(data)
		return hex.EncodeToString(sum[:])
	default:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	}
}

// Valid reports whether s looks like a digest produced by alg.
func Valid(alg Algorithm, s string) bool {
	n := alg.HexLen()
	if n == 0 || len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
