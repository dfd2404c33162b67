// Package seal binds a contract document to its digest so that any later
// change to the sealed copy is detected on verification.
package seal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/helm-ledger/pkg/canonicalize"
	"github.com/Mindburn-Labs/helm-ledger/pkg/digest"
)

// UnknownVersion is recorded when the document declares no usable version.
const UnknownVersion = "unknown"

// Document is a contract: any JSON object.
type Document = canonicalize.Payload

// Seal is an issued seal record. It is never mutated after Seal returns;
// changing SealedContract is exactly what Verify detects.
type Seal struct {
	SealID          string           `json:"seal_id"`
	Timestamp       string           `json:"timestamp"`
	ContractHash    string           `json:"contract_hash"`
	HashAlgorithm   digest.Algorithm `json:"hash_algorithm"`
	ContractVersion string           `json:"contract_version"`
	SealedContract  Document         `json:"sealed_contract"`
}

// ContractName returns the document's "name", falling back to "contract_id".
func (s *Seal) ContractName() string {
	for _, key := range []string{"name", "contract_id"} {
		if v, ok := s.SealedContract[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Sealer issues seals with one algorithm.
type Sealer struct {
	hasher digest.Hasher
	now    func() time.Time
	newID  func() string
}

// Option configures a Sealer.
type Option func(*Sealer)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Sealer) { s.now = now }
}

// NewSealer fails with digest.ErrUnsupportedAlgorithm for anything but
// sha256 and sha512. There is no fallback.
func NewSealer(alg string, opts ...Option) (*Sealer, error) {
	h, err := digest.NewFromName(alg)
	if err != nil {
		return nil, err
	}
	s := &Sealer{
		hasher: h,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Algorithm returns the algorithm this Sealer hashes with.
func (s *Sealer) Algorithm() digest.Algorithm { return s.hasher.Algorithm() }

// Seal deep-copies doc and hashes the copy.
func (s *Sealer) Seal(doc Document) (*Seal, error) {
	if doc == nil {
		return nil, fmt.Errorf("seal: nil document")
	}
	sealed, err := canonicalize.Clone(doc)
	if err != nil {
		return nil, err
	}
	canonical, err := sealed.Canonical()
	if err != nil {
		return nil, err
	}
	return &Seal{
		SealID:          s.newID(),
		Timestamp:       s.now().UTC().Format(time.RFC3339Nano),
		ContractHash:    s.hasher.Sum(canonical),
		HashAlgorithm:   s.hasher.Algorithm(),
		ContractVersion: versionOf(sealed),
		SealedContract:  sealed,
	}, nil
}

func versionOf(doc Document) string {
	switch v := doc["version"].(type) {
	case string:
		if v != "" {
			return v
		}
	case json.Number:
		return v.String()
	}
	return UnknownVersion
}

// Status is the verdict of one verification call.
type Status string

const (
	StatusValid   Status = "verified_valid"
	StatusInvalid Status = "verified_invalid"
)

// Result explains a verdict.
type Result struct {
	Status       Status `json:"status"`
	Reason       string `json:"reason,omitempty"`
	ComputedHash string `json:"computed_hash,omitempty"`
}

// Valid reports whether the seal verified.
func (r Result) Valid() bool { return r.Status == StatusValid }

func invalid(format string, args ...interface{}) Result {
	return Result{Status: StatusInvalid, Reason: fmt.Sprintf(format, args...)}
}

// Check recomputes the digest of the sealed contract with the seal's own
// algorithm. It fails closed and never modifies s.
func Check(s *Seal) Result {
	if s == nil {
		return invalid("no seal")
	}
	if s.SealedContract == nil {
		return invalid("seal carries no sealed_contract")
	}
	h, err := digest.New(s.HashAlgorithm)
	if err != nil {
		return invalid("%v", err)
	}
	canonical, err := s.SealedContract.Canonical()
	if err != nil {
		return invalid("%v", err)
	}
	computed := h.Sum(canonical)
	if computed != s.ContractHash {
		r := invalid("contract_hash %s does not match sealed_contract", s.ContractHash)
		r.ComputedHash = computed
		return r
	}
	return Result{Status: StatusValid, ComputedHash: computed}
}

// Verify reports whether s still matches its contract_hash.
func Verify(s *Seal) bool { return Check(s).Valid() }

// Marshal renders s as canonical JSON.
func Marshal(s *Seal) ([]byte, error) {
	return canonicalize.JCS(s)
}

// Unmarshal parses a seal record. Numbers stay json.Number so the sealed
// contract re-canonicalizes to the bytes that were hashed.
func Unmarshal(data []byte) (*Seal, error) {
	var s Seal
	if err := canonicalize.Decode(data, &s); err != nil {
		return nil, fmt.Errorf("seal: decode: %w", err)
	}
	return &s, nil
}
