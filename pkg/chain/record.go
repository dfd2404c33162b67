package chain

import (
	"fmt"

	"github.com/Mindburn-Labs/helm-ledger/pkg/canonicalize"
	"github.com/Mindburn-Labs/helm-ledger/pkg/digest"
)

// record is a stored line split back into payload and housekeeping.
type record struct {
	payload     canonicalize.Payload
	algorithm   digest.Algorithm
	storedHash  string
	hasHash     bool
	previous    string
	hasPrevious bool
}

// decodeRecord parses raw and strips every housekeeping field. The digest
// field picks the algorithm; a generic entry_hash is read with fallback.
func decodeRecord(raw []byte, fallback digest.Algorithm) (*record, error) {
	p, err := canonicalize.DecodePayload(raw)
	if err != nil {
		return nil, err
	}
	rec := &record{algorithm: fallback}

	for _, alg := range digest.Supported {
		field := HashField(alg)
		v, ok := p[field]
		if !ok {
			continue
		}
		delete(p, field)
		if rec.hasHash {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s is %T, want string", field, v)
		}
		rec.algorithm, rec.storedHash, rec.hasHash = alg, s, true
	}
	if v, ok := p[FieldGenericHash]; ok {
		delete(p, FieldGenericHash)
		if !rec.hasHash {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%s is %T, want string", FieldGenericHash, v)
			}
			rec.storedHash, rec.hasHash = s, true
		}
	}

	if v, ok := p[FieldPreviousHash]; ok {
		delete(p, FieldPreviousHash)
		switch prev := v.(type) {
		case string:
			rec.previous, rec.hasPrevious = prev, true
		case nil:
		default:
			return nil, fmt.Errorf("%s is %T, want string", FieldPreviousHash, v)
		}
	}

	delete(p, annotationLineNumber)
	delete(p, annotationHashVerified)
	delete(p, annotationChainVerified)

	rec.payload = p
	return rec, nil
}

// DecodeEnvelope parses a stored record without checking its digest.
func DecodeEnvelope(raw []byte, fallback digest.Algorithm) (*Envelope, error) {
	rec, err := decodeRecord(raw, fallback)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Payload:           rec.payload,
		Algorithm:         rec.algorithm,
		EntryHash:         rec.storedHash,
		PreviousEntryHash: rec.previous,
	}, nil
}
