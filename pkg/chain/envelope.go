// Package chain implements the tamper-evident audit trail: envelopes that bind
// a payload to its digest and to the previous entry's digest, a single-writer
// appender, and a verifier that reports every problem found in one pass.
package chain

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Mindburn-Labs/helm-ledger/pkg/canonicalize"
	"github.com/Mindburn-Labs/helm-ledger/pkg/digest"
)

// Genesis is the previous_entry_hash of the first envelope. It can never be
// mistaken for a digest, which is always fixed-length lowercase hex.
const Genesis = "genesis"

// Housekeeping field names. None of them is ever part of the hashed payload.
const (
	FieldPreviousHash = "previous_entry_hash"
	FieldGenericHash  = "entry_hash"

	annotationLineNumber    = "_line_number"
	annotationHashVerified  = "_hash_verified"
	annotationChainVerified = "_chain_verified"
)

var (
	// ErrReservedField is returned when a payload uses a housekeeping key.
	ErrReservedField = errors.New("chain: payload uses a reserved field name")
	// ErrSchemaRejected is returned when the schema validator refuses a payload.
	ErrSchemaRejected = errors.New("chain: payload rejected by schema validator")
	// ErrNotOpen is returned by Append before Open has recovered the tail.
	ErrNotOpen = errors.New("chain: appender not opened")
)

// HashField returns the wire name of the digest field for alg.
func HashField(alg digest.Algorithm) string {
	return "entry_" + string(alg) + "_hash"
}

// reserved reports whether key is a housekeeping name.
func reserved(key string) bool {
	switch key {
	case FieldPreviousHash, FieldGenericHash,
		annotationLineNumber, annotationHashVerified, annotationChainVerified:
		return true
	}
	for _, alg := range digest.Supported {
		if key == HashField(alg) {
			return true
		}
	}
	return false
}

// CheckPayload rejects payloads whose keys collide with housekeeping names.
func CheckPayload(p canonicalize.Payload) error {
	var bad []string
	for k := range p {
		if reserved(k) {
			bad = append(bad, k)
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return fmt.Errorf("%w: %s", ErrReservedField, strings.Join(bad, ", "))
	}
	return nil
}

// Envelope wraps a payload with its digest and the previous entry's digest.
type Envelope struct {
	Payload           canonicalize.Payload
	Algorithm         digest.Algorithm
	EntryHash         string
	PreviousEntryHash string
}

// NewEnvelope hashes payload and links it to prev. An empty prev means the
// envelope starts a chain.
func NewEnvelope(h digest.Hasher, prev string, payload canonicalize.Payload) (*Envelope, error) {
	if err := CheckPayload(payload); err != nil {
		return nil, err
	}
	frozen, err := canonicalize.Clone(payload)
	if err != nil {
		return nil, err
	}
	canonical, err := frozen.Canonical()
	if err != nil {
		return nil, err
	}
	if prev == "" {
		prev = Genesis
	}
	return &Envelope{
		Payload:           frozen,
		Algorithm:         h.Algorithm(),
		EntryHash:         h.Sum(canonical),
		PreviousEntryHash: prev,
	}, nil
}

// IsGenesis reports whether the envelope starts a chain.
func (e *Envelope) IsGenesis() bool {
	return e.PreviousEntryHash == Genesis
}

// MarshalJSON renders the flat wire form: payload fields plus the digest
// field and previous_entry_hash.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	flat := make(map[string]interface{}, len(e.Payload)+2)
	for k, v := range e.Payload {
		flat[k] = v
	}
	flat[HashField(e.Algorithm)] = e.EntryHash
	flat[FieldPreviousHash] = e.PreviousEntryHash
	return canonicalize.JCS(flat)
}

// Record returns the single-line wire form of the envelope.
func (e *Envelope) Record() ([]byte, error) {
	return e.MarshalJSON()
}
