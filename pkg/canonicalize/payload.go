package canonicalize

import (
	"fmt"
)

// Payload is the hashable content of a ledger entry or contract: a mapping of
// string keys to JSON-like values. Key order is irrelevant.
type Payload map[string]interface{}

// Canonical returns the canonical bytes of the payload.
func (p Payload) Canonical() ([]byte, error) {
	if p == nil {
		return JCS(map[string]interface{}{})
	}
	return JCS(map[string]interface{}(p))
}

// DecodePayload parses a JSON object into a Payload.
func DecodePayload(data []byte) (Payload, error) {
	var p Payload
	if err := Decode(data, &p); err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("expected JSON object, got null")
	}
	return p, nil
}

// Clone deep copies p through its canonical form. Later mutation of p does
// not affect the clone.
func Clone(p Payload) (Payload, error) {
	b, err := p.Canonical()
	if err != nil {
		return nil, err
	}
	return DecodePayload(b)
}
