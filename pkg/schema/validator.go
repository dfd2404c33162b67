// Package schema provides the structural validation capability consulted
// before a payload is appended to a chain. The chain never implements schema
// logic itself; it only sees a Result.
package schema

import (
	"github.com/Mindburn-Labs/helm-ledger/pkg/canonicalize"
)

// Result is the outcome of validating one payload.
type Result struct {
	Valid bool    `json:"valid"`
	Error *string `json:"error"`
}

// Reason returns the failure text, or "" for a valid result.
func (r Result) Reason() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}

// Validator checks a payload against the schema registered as schemaID.
type Validator interface {
	Validate(payload canonicalize.Payload, schemaID string) Result
}

// Valid is the passing Result.
func Valid() Result { return Result{Valid: true} }

// Invalid returns a failing Result carrying reason.
func Invalid(reason string) Result {
	return Result{Valid: false, Error: &reason}
}

// AcceptAll is the variant used when no schemas are configured.
type AcceptAll struct{}

func (AcceptAll) Validate(canonicalize.Payload, string) Result { return Valid() }
