// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme) compliant
// serialization for deterministic hashing of ledger payloads and contracts.
package canonicalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/gowebpki/jcs"
)

// ErrEncoding is returned when a value has no deterministic canonical form
// (NaN, Inf, cycles, channels, functions).
var ErrEncoding = errors.New("canonicalize: value cannot be encoded")

// EncodingError carries the underlying cause of an ErrEncoding failure.
type EncodingError struct {
	Cause error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("%v: %v", ErrEncoding, e.Cause)
}

func (e *EncodingError) Unwrap() []error {
	return []error{ErrEncoding, e.Cause}
}

// JCS returns the RFC 8785 canonical JSON representation of v.
//
// Strategy: marshal with encoding/json (respects struct tags, rejects NaN/Inf
// and cycles), then let the JCS transformer sort keys at every level, strip
// whitespace, undo HTML escaping and normalise numbers to their ES6 form.
func JCS(v interface{}) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, &EncodingError{Cause: err}
	}
	if err := checkNumbers(intermediate); err != nil {
		return nil, &EncodingError{Cause: err}
	}

	out, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, &EncodingError{Cause: err}
	}
	return out, nil
}

// MaxSafeInteger is the largest integer every JSON reader holds exactly.
const MaxSafeInteger = 1<<53 - 1

// ErrNumberPrecision is the cause of an EncodingError for a number that
// would change value when written in canonical (IEEE 754 double) form.
var ErrNumberPrecision = errors.New("number not representable as an IEEE 754 double")

// checkNumbers rejects numbers the JCS transform would round: integers
// beyond ±(2^53-1) and decimals whose shortest double form is a different
// value.
func checkNumbers(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if n, ok := tok.(json.Number); ok {
			if err := checkNumber(string(n)); err != nil {
				return err
			}
		}
	}
}

func checkNumber(lit string) error {
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNumberPrecision, lit)
	}
	if !strings.ContainsAny(lit, ".eE") && math.Abs(f) > MaxSafeInteger {
		return fmt.Errorf("%w: integer %s exceeds ±%d", ErrNumberPrecision, lit, int64(MaxSafeInteger))
	}
	if f == 0 {
		// Underflow parses to zero; only a zero mantissa is exact.
		mantissa, _, _ := strings.Cut(strings.ToLower(lit), "e")
		if strings.Trim(mantissa, "-+0.") != "" {
			return fmt.Errorf("%w: %s", ErrNumberPrecision, lit)
		}
		return nil
	}
	want, ok := new(big.Rat).SetString(lit)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNumberPrecision, lit)
	}
	got, ok := new(big.Rat).SetString(strconv.FormatFloat(f, 'g', -1, 64))
	if !ok || got.Cmp(want) != 0 {
		return fmt.Errorf("%w: %s", ErrNumberPrecision, lit)
	}
	return nil
}

// JCSString returns the JCS canonical form as a string
func JCSString(v interface{}) (string, error) {
	data, err := JCS(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Decode parses JSON into generic values, keeping numbers as json.Number so a
// decoded value re-canonicalizes to the exact bytes it was written with.
func Decode(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected trailing data after JSON value")
	}
	return nil
}
