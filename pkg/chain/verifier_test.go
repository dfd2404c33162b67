package chain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm-ledger/pkg/canonicalize"
	"github.com/Mindburn-Labs/helm-ledger/pkg/digest"
	"github.com/Mindburn-Labs/helm-ledger/pkg/sink"
)

// buildChain returns the wire records of a correctly linked chain.
func buildChain(t *testing.T, alg digest.Algorithm, n int) [][]byte {
	t.Helper()
	h := mustHasher(t, alg)
	prev := Genesis
	records := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		env, err := NewEnvelope(h, prev, canonicalize.Payload{
			"seq":      i,
			"decision": "allow",
			"context":  map[string]interface{}{"tenant": "acme", "tags": []interface{}{"a", i}},
		})
		require.NoError(t, err)
		rec, err := env.Record()
		require.NoError(t, err)
		records = append(records, rec)
		prev = env.EntryHash
	}
	return records
}

// mutate decodes raw, applies fn and re-encodes canonically.
func mutate(t *testing.T, raw []byte, fn func(m map[string]interface{})) []byte {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, canonicalize.Decode(raw, &m))
	fn(m)
	out, err := canonicalize.JCS(m)
	require.NoError(t, err)
	return out
}

func mustVerifier(t *testing.T, opts ...VerifierOption) *Verifier {
	t.Helper()
	v, err := NewVerifier(digest.SHA256, opts...)
	require.NoError(t, err)
	return v
}

func TestVerify_ValidChain(t *testing.T) {
	for _, alg := range digest.Supported {
		t.Run(string(alg), func(t *testing.T) {
			rep := mustVerifier(t).Verify(buildChain(t, alg, 5))

			assert.True(t, rep.IntegrityVerified)
			assert.Equal(t, []int{}, rep.BrokenIndices)
			assert.Empty(t, rep.Issues)
			assert.False(t, rep.Empty)
			require.Len(t, rep.Entries, 5)
			for i, e := range rep.Entries {
				assert.True(t, e.HashVerified, "entry %d", i)
				assert.Equal(t, LinkVerified, e.Chain, "entry %d", i)
				assert.Equal(t, i+1, e.LineNumber)
				assert.Equal(t, alg, e.Algorithm)
			}
			assert.Equal(t, rep.Entries[4].ComputedHash, rep.ChainHead)
			assert.NoError(t, rep.Err())
		})
	}
}

func TestVerify_ChainBreakAtIndexTwo(t *testing.T) {
	records := buildChain(t, digest.SHA256, 3)
	records[2] = mutate(t, records[2], func(m map[string]interface{}) {
		m[FieldPreviousHash] = strings.Repeat("0", 64)
	})

	rep := mustVerifier(t).Verify(records)

	assert.False(t, rep.IntegrityVerified)
	assert.Equal(t, []int{2}, rep.BrokenIndices)
	for _, i := range []int{0, 1} {
		assert.True(t, rep.Entries[i].HashVerified)
		assert.Equal(t, LinkVerified, rep.Entries[i].Chain)
	}
	assert.True(t, rep.Entries[2].HashVerified)
	assert.Equal(t, LinkBroken, rep.Entries[2].Chain)

	require.Len(t, rep.Issues, 1)
	assert.Equal(t, KindChainBreak, rep.Issues[0].Kind)
	assert.ErrorIs(t, rep.Err(), ErrChainBreak)
}

func TestVerify_TamperedPayload(t *testing.T) {
	records := buildChain(t, digest.SHA256, 4)
	records[1] = mutate(t, records[1], func(m map[string]interface{}) {
		m["decision"] = "deny"
	})

	rep := mustVerifier(t).Verify(records)

	assert.False(t, rep.IntegrityVerified)
	assert.False(t, rep.Entries[1].HashVerified)
	assert.NotEqual(t, rep.Entries[1].StoredHash, rep.Entries[1].ComputedHash)
	// The successor links to the stored digest, but the recomputed one wins.
	assert.Equal(t, []int{2}, rep.BrokenIndices)
	assert.Equal(t, LinkVerified, rep.Entries[3].Chain)

	require.Len(t, rep.Issues, 2)
	assert.Equal(t, KindHashMismatch, rep.Issues[0].Kind)
	assert.Equal(t, 1, rep.Issues[0].Index)
	assert.Equal(t, KindChainBreak, rep.Issues[1].Kind)

	err := rep.Err()
	assert.ErrorIs(t, err, ErrHashMismatch)
	assert.ErrorIs(t, err, ErrChainBreak)
}

func TestVerify_ReportsEveryProblemInOnePass(t *testing.T) {
	records := buildChain(t, digest.SHA256, 8)
	for _, i := range []int{2, 5, 7} {
		records[i] = mutate(t, records[i], func(m map[string]interface{}) {
			m[FieldPreviousHash] = fmt.Sprintf("%064d", i)
		})
	}
	records[4] = []byte(`{"seq":4,"decision":`)

	rep := mustVerifier(t).Verify(records)

	assert.Equal(t, []int{2, 5, 7}, rep.BrokenIndices)
	assert.Len(t, rep.IssuesOf(KindDecodeError), 1)
	// Entry 5 is checked against entry 3, across the undecodable line.
	assert.Equal(t, LinkBroken, rep.Entries[5].Chain)
	assert.True(t, rep.Entries[7].HashVerified)
}

func TestVerify_MissingHashFieldIsWarning(t *testing.T) {
	records := buildChain(t, digest.SHA256, 3)
	records[1] = mutate(t, records[1], func(m map[string]interface{}) {
		delete(m, HashField(digest.SHA256))
	})

	var rep *Report
	require.NotPanics(t, func() { rep = mustVerifier(t).Verify(records) })

	assert.True(t, rep.IntegrityVerified)
	assert.False(t, rep.Entries[1].HashVerified)
	assert.Empty(t, rep.Entries[1].StoredHash)
	assert.Len(t, rep.Entries[1].ComputedHash, 64)
	assert.True(t, rep.Entries[2].HashVerified)
	assert.Equal(t, LinkVerified, rep.Entries[2].Chain)

	issues := rep.IssuesOf(KindMissingHashField)
	require.Len(t, issues, 1)
	assert.True(t, errors.Is(issues[0], ErrMissingHashField))
	assert.False(t, issues[0].Kind.Fatal())

	s := rep.Summary()
	assert.Equal(t, Summary{Total: 3, ValidHashes: 2, InvalidHashes: 1, Warnings: 1}, s)
}

func TestVerify_DecodeErrorDoesNotAbort(t *testing.T) {
	records := buildChain(t, digest.SHA256, 3)
	records = append(records[:1], append([][]byte{[]byte("not json at all")}, records[1:]...)...)

	rep := mustVerifier(t).Verify(records)

	require.Len(t, rep.Entries, 4)
	assert.NotEmpty(t, rep.Entries[1].Error)
	assert.False(t, rep.Entries[1].HashVerified)
	assert.Equal(t, LinkVerified, rep.Entries[2].Chain)
	assert.Equal(t, LinkVerified, rep.Entries[3].Chain)
	assert.True(t, rep.IntegrityVerified)
	assert.Equal(t, 2, rep.Entries[2].LineNumber-rep.Entries[0].LineNumber)
}

func TestVerify_DecodeErrorDoesNotHideBreak(t *testing.T) {
	records := buildChain(t, digest.SHA256, 4)
	records[1] = []byte("overwritten")

	rep := mustVerifier(t).Verify(records)

	// Entry 2 still names the lost entry 1, not entry 0.
	assert.Equal(t, []int{2}, rep.BrokenIndices)
	assert.Equal(t, LinkBroken, rep.Entries[2].Chain)
	assert.Equal(t, LinkVerified, rep.Entries[3].Chain)
	assert.False(t, rep.IntegrityVerified)

	issues := rep.IssuesOf(KindChainBreak)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0].Detail, "1 undecodable line(s) skipped")
}

func TestVerify_LeadingDecodeErrorsLeaveLinkUnjudged(t *testing.T) {
	records := buildChain(t, digest.SHA256, 2)
	records = append([][]byte{[]byte("{")}, records[1:]...)

	rep := mustVerifier(t).Verify(records)
	assert.Equal(t, LinkNotApplicable, rep.Entries[1].Chain)
	assert.True(t, rep.IntegrityVerified)
}

func TestVerify_ChainHeadSkipsMismatchedTail(t *testing.T) {
	records := buildChain(t, digest.SHA256, 3)
	records[2] = mutate(t, records[2], func(m map[string]interface{}) { m["decision"] = "deny" })

	rep := mustVerifier(t).Verify(records)

	require.False(t, rep.Entries[2].HashVerified)
	assert.False(t, rep.IntegrityVerified)
	assert.Equal(t, rep.Entries[1].ComputedHash, rep.ChainHead)
	assert.NotEqual(t, rep.Entries[2].ComputedHash, rep.ChainHead)
}

func TestVerify_ChainHeadEmptyWithoutVerifiedEntry(t *testing.T) {
	records := buildChain(t, digest.SHA256, 1)
	records[0] = mutate(t, records[0], func(m map[string]interface{}) { delete(m, HashField(digest.SHA256)) })

	rep := mustVerifier(t).Verify(records)
	assert.Empty(t, rep.ChainHead)
}

func TestVerify_AbsentLinkIsNotApplicable(t *testing.T) {
	records := buildChain(t, digest.SHA256, 3)
	records[0] = mutate(t, records[0], func(m map[string]interface{}) { delete(m, FieldPreviousHash) })
	records[2] = mutate(t, records[2], func(m map[string]interface{}) { delete(m, FieldPreviousHash) })

	rep := mustVerifier(t).Verify(records)

	assert.Equal(t, LinkNotApplicable, rep.Entries[0].Chain)
	assert.Equal(t, LinkNotApplicable, rep.Entries[2].Chain)
	assert.Equal(t, LinkVerified, rep.Entries[1].Chain)

	issues := rep.IssuesOf(KindMissingLinkField)
	require.Len(t, issues, 1)
	assert.Equal(t, 2, issues[0].Index)
	assert.True(t, rep.IntegrityVerified)
}

func TestVerify_GenesisMidChainIsBreak(t *testing.T) {
	records := buildChain(t, digest.SHA256, 3)
	records[1] = mutate(t, records[1], func(m map[string]interface{}) { m[FieldPreviousHash] = Genesis })

	rep := mustVerifier(t).Verify(records)
	assert.Equal(t, []int{1}, rep.BrokenIndices)
}

func TestVerify_Empty(t *testing.T) {
	rep := mustVerifier(t).Verify(nil)

	assert.True(t, rep.IntegrityVerified)
	assert.Equal(t, []int{}, rep.BrokenIndices)
	assert.True(t, rep.Empty)
	assert.NoError(t, rep.Err())
	assert.Equal(t, Summary{}, rep.Summary())
}

func TestVerify_GenericHashFieldAndAnnotations(t *testing.T) {
	records := buildChain(t, digest.SHA256, 2)
	for i := range records {
		records[i] = mutate(t, records[i], func(m map[string]interface{}) {
			m[FieldGenericHash] = m[HashField(digest.SHA256)]
			delete(m, HashField(digest.SHA256))
			m["_line_number"] = i + 1
			m["_hash_verified"] = true
			m["_chain_verified"] = true
		})
	}

	rep := mustVerifier(t).Verify(records)
	assert.True(t, rep.IntegrityVerified)
	assert.True(t, rep.Entries[0].HashVerified)
	assert.True(t, rep.Entries[1].HashVerified)
	assert.Equal(t, LinkVerified, rep.Entries[1].Chain)
}

func TestVerify_DetectsAlgorithmFromField(t *testing.T) {
	rep := mustVerifier(t).Verify(buildChain(t, digest.SHA512, 3))
	assert.True(t, rep.IntegrityVerified)
	assert.Equal(t, digest.SHA512, rep.Entries[0].Algorithm)
	assert.Len(t, rep.ChainHead, 128)
}

func TestVerify_WorkersMatchSequential(t *testing.T) {
	records := buildChain(t, digest.SHA256, 64)
	records[10] = mutate(t, records[10], func(m map[string]interface{}) { m["decision"] = "deny" })
	records[33] = []byte(`{"broken`)
	records[50] = mutate(t, records[50], func(m map[string]interface{}) { m[FieldPreviousHash] = Genesis })

	sequential := mustVerifier(t).Verify(records)
	parallel := mustVerifier(t, WithWorkers(8)).Verify(records)

	assert.Equal(t, sequential, parallel)
	assert.Equal(t, []int{11, 34, 50}, parallel.BrokenIndices)
}

func TestVerifyReader_PhysicalLineNumbers(t *testing.T) {
	records := buildChain(t, digest.SHA256, 3)
	log := string(records[0]) + "\n\n" + string(records[1]) + "\n   \n" + string(records[2]) + "\n" + `{"seq":3,"deci`

	rep, err := mustVerifier(t).VerifyReader(context.Background(), strings.NewReader(log))
	require.NoError(t, err)

	require.Len(t, rep.Entries, 4)
	assert.Equal(t, []int{1, 3, 5, 6}, []int{
		rep.Entries[0].LineNumber, rep.Entries[1].LineNumber,
		rep.Entries[2].LineNumber, rep.Entries[3].LineNumber,
	})
	// A partially written final line only fails itself.
	assert.True(t, rep.IntegrityVerified)
	issues := rep.IssuesOf(KindDecodeError)
	require.Len(t, issues, 1)
	assert.Equal(t, 6, issues[0].LineNumber)
	assert.Contains(t, issues[0].Error(), "line 6")
}

func TestVerifyReader_OversizeLineBetweenEntries(t *testing.T) {
	records := buildChain(t, digest.SHA256, 3)
	var log bytes.Buffer
	log.Write(records[0])
	log.WriteByte('\n')
	log.Write(bytes.Repeat([]byte("g"), 17<<20))
	log.WriteByte('\n')
	log.Write(records[1])
	log.WriteByte('\n')
	log.Write(records[2])
	log.WriteByte('\n')

	rep, err := mustVerifier(t).VerifyReader(context.Background(), &log)
	require.NoError(t, err)

	require.Len(t, rep.Entries, 4)
	assert.Equal(t, []int{1, 2, 3, 4}, []int{
		rep.Entries[0].LineNumber, rep.Entries[1].LineNumber,
		rep.Entries[2].LineNumber, rep.Entries[3].LineNumber,
	})
	issues := rep.IssuesOf(KindDecodeError)
	require.Len(t, issues, 1)
	assert.Equal(t, 1, issues[0].Index)
	assert.Contains(t, issues[0].Detail, sink.ErrRecordTooLarge.Error())

	assert.True(t, rep.Entries[2].HashVerified)
	assert.Equal(t, LinkVerified, rep.Entries[2].Chain)
	assert.Equal(t, LinkVerified, rep.Entries[3].Chain)
	assert.True(t, rep.IntegrityVerified)
}

func TestVerifyReader_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := mustVerifier(t).VerifyReader(ctx, strings.NewReader("{}\n{}\n"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVerifyEnvelopes(t *testing.T) {
	h := mustHasher(t, digest.SHA256)
	a, err := NewEnvelope(h, "", canonicalize.Payload{"n": 1})
	require.NoError(t, err)
	b, err := NewEnvelope(h, a.EntryHash, canonicalize.Payload{"n": 2})
	require.NoError(t, err)

	rep, err := mustVerifier(t).VerifyEnvelopes([]*Envelope{a, b})
	require.NoError(t, err)
	assert.True(t, rep.IntegrityVerified)

	rep, err = mustVerifier(t).VerifyEnvelopes([]*Envelope{b, a})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, rep.BrokenIndices)
}

func TestNewVerifier_UnsupportedAlgorithm(t *testing.T) {
	_, err := NewVerifier("md5")
	assert.ErrorIs(t, err, digest.ErrUnsupportedAlgorithm)
}
