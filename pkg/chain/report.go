package chain

import (
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/helm-ledger/pkg/digest"
)

// Sentinels for the issue kinds. Issue unwraps to one of these.
var (
	ErrDecode           = errors.New("chain: entry could not be decoded")
	ErrMissingHashField = errors.New("chain: entry has no digest field")
	ErrHashMismatch     = errors.New("chain: stored digest does not match payload")
	ErrChainBreak       = errors.New("chain: previous_entry_hash does not match predecessor")
	ErrMissingLinkField = errors.New("chain: entry has no previous_entry_hash")
)

// IssueKind classifies a verification problem.
type IssueKind string

const (
	KindDecodeError      IssueKind = "decode_error"
	KindMissingHashField IssueKind = "missing_hash_field"
	KindHashMismatch     IssueKind = "hash_mismatch"
	KindChainBreak       IssueKind = "chain_break"
	KindMissingLinkField IssueKind = "missing_link_field"
)

// Fatal reports whether the kind defeats integrity. Missing fields are
// warnings: the entry cannot be checked, but nothing contradicts it.
func (k IssueKind) Fatal() bool {
	return k == KindHashMismatch || k == KindChainBreak
}

func (k IssueKind) sentinel() error {
	switch k {
	case KindDecodeError:
		return ErrDecode
	case KindMissingHashField:
		return ErrMissingHashField
	case KindHashMismatch:
		return ErrHashMismatch
	case KindChainBreak:
		return ErrChainBreak
	case KindMissingLinkField:
		return ErrMissingLinkField
	}
	return nil
}

// Issue is one problem found at one entry.
type Issue struct {
	Index      int       `json:"index"`
	LineNumber int       `json:"line_number"`
	Kind       IssueKind `json:"kind"`
	Detail     string    `json:"detail,omitempty"`
}

func (i Issue) Error() string {
	if i.Detail == "" {
		return fmt.Sprintf("entry %d (line %d): %s", i.Index, i.LineNumber, i.Kind)
	}
	return fmt.Sprintf("entry %d (line %d): %s: %s", i.Index, i.LineNumber, i.Kind, i.Detail)
}

func (i Issue) Unwrap() error { return i.Kind.sentinel() }

// LinkStatus is the outcome of the linkage check for one entry.
type LinkStatus string

const (
	LinkVerified      LinkStatus = "verified"
	LinkBroken        LinkStatus = "broken"
	LinkNotApplicable LinkStatus = "not_applicable"
)

// EntryResult is the per-entry verdict.
type EntryResult struct {
	Index             int              `json:"index"`
	LineNumber        int              `json:"line_number"`
	Algorithm         digest.Algorithm `json:"algorithm,omitempty"`
	StoredHash        string           `json:"stored_hash,omitempty"`
	ComputedHash      string           `json:"computed_hash,omitempty"`
	PreviousEntryHash string           `json:"previous_entry_hash,omitempty"`
	HashVerified      bool             `json:"hash_verified"`
	Chain             LinkStatus       `json:"chain_status"`
	Error             string           `json:"error,omitempty"`
}

// Report is the result of verifying a whole chain.
type Report struct {
	Algorithm         digest.Algorithm `json:"algorithm"`
	Entries           []EntryResult    `json:"entries"`
	Issues            []Issue          `json:"issues"`
	IntegrityVerified bool             `json:"integrity_verified"`
	BrokenIndices     []int            `json:"broken_indices"`
	Empty             bool             `json:"empty,omitempty"`
	// ChainHead is the digest of the last entry whose stored hash verified.
	ChainHead string `json:"chain_head,omitempty"`
}

// Summary holds the counts printed by the CLI.
type Summary struct {
	Total         int `json:"total"`
	ValidHashes   int `json:"valid_hashes"`
	InvalidHashes int `json:"invalid_hashes"`
	ChainBreaks   int `json:"chain_breaks"`
	Warnings      int `json:"warnings"`
}

// Summary counts entries and issues.
func (r *Report) Summary() Summary {
	s := Summary{Total: len(r.Entries), ChainBreaks: len(r.BrokenIndices)}
	for _, e := range r.Entries {
		if e.HashVerified {
			s.ValidHashes++
		} else {
			s.InvalidHashes++
		}
	}
	for _, is := range r.Issues {
		if !is.Kind.Fatal() {
			s.Warnings++
		}
	}
	return s
}

// Invalid returns the entries whose digest could not be confirmed.
func (r *Report) Invalid() []EntryResult {
	var out []EntryResult
	for _, e := range r.Entries {
		if !e.HashVerified {
			out = append(out, e)
		}
	}
	return out
}

// IssuesOf returns the issues of one kind, in entry order.
func (r *Report) IssuesOf(kind IssueKind) []Issue {
	var out []Issue
	for _, is := range r.Issues {
		if is.Kind == kind {
			out = append(out, is)
		}
	}
	return out
}

// Err joins the fatal issues, or returns nil when integrity holds.
func (r *Report) Err() error {
	if r.IntegrityVerified {
		return nil
	}
	var errs []error
	for _, is := range r.Issues {
		if is.Kind.Fatal() {
			errs = append(errs, is)
		}
	}
	return errors.Join(errs...)
}

func (r *Report) finish() {
	r.IntegrityVerified = true
	r.BrokenIndices = []int{}
	for _, is := range r.Issues {
		if is.Kind.Fatal() {
			r.IntegrityVerified = false
		}
		if is.Kind == KindChainBreak {
			r.BrokenIndices = append(r.BrokenIndices, is.Index)
		}
	}
	if r.Issues == nil {
		r.Issues = []Issue{}
	}
	if r.Entries == nil {
		r.Entries = []EntryResult{}
	}
	r.Empty = len(r.Entries) == 0
}
