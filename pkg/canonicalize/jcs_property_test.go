//go:build property
// +build property

package canonicalize_test

import (
	"testing"

	"github.com/Mindburn-Labs/helm-ledger/pkg/canonicalize"
	"github.com/Mindburn-Labs/helm-ledger/pkg/digest"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestCanonicalHashDeterminism: Sum(Canonical(p)) == Sum(Canonical(p)) for any p.
func TestCanonicalHashDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	h, err := digest.New(digest.SHA256)
	if err != nil {
		t.Fatal(err)
	}

	properties.Property("hashing a payload twice gives the same digest", prop.ForAll(
		func(keys []string, values []string) bool {
			p := canonicalize.Payload{}
			for i := 0; i < len(keys) && i < len(values); i++ {
				p[keys[i]] = values[i]
			}
			b1, err1 := p.Canonical()
			b2, err2 := p.Canonical()
			if err1 != nil || err2 != nil {
				return false
			}
			return h.Sum(b1) == h.Sum(b2)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AnyString()),
	))

	properties.TestingRun(t)
}

// TestCanonicalKeyOrderIndependence: insertion order never changes the bytes.
func TestCanonicalKeyOrderIndependence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("reverse insertion order yields identical bytes", prop.ForAll(
		func(keys []string, n int64) bool {
			forward := canonicalize.Payload{}
			reverse := canonicalize.Payload{}
			for i, k := range keys {
				forward[k] = n + int64(i)
			}
			for i := len(keys) - 1; i >= 0; i-- {
				reverse[keys[i]] = forward[keys[i]]
			}
			b1, err1 := forward.Canonical()
			b2, err2 := reverse.Canonical()
			if err1 != nil || err2 != nil {
				return false
			}
			return string(b1) == string(b2)
		},
		gen.SliceOf(gen.Identifier()),
		gen.Int64Range(-1<<40, 1<<40),
	))

	properties.TestingRun(t)
}
