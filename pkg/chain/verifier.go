package chain

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/Mindburn-Labs/helm-ledger/pkg/digest"
	"github.com/Mindburn-Labs/helm-ledger/pkg/sink"
)

// Verifier recomputes digests and checks linkage. It never stops at the first
// bad entry: every problem in the chain ends up in the Report.
type Verifier struct {
	fallback digest.Algorithm
	hashers  map[digest.Algorithm]digest.Hasher
	workers  int
	logger   *slog.Logger
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithWorkers sets how many entries are decoded and hashed concurrently.
// Linkage is always checked in order afterwards.
func WithWorkers(n int) VerifierOption {
	return func(v *Verifier) {
		if n > 0 {
			v.workers = n
		}
	}
}

// WithVerifierLogger sets the logger used for warnings.
func WithVerifierLogger(l *slog.Logger) VerifierOption {
	return func(v *Verifier) {
		if l != nil {
			v.logger = l
		}
	}
}

// NewVerifier returns a Verifier. alg is used for records that carry only the
// generic entry_hash field; records naming their algorithm are checked with it.
func NewVerifier(alg digest.Algorithm, opts ...VerifierOption) (*Verifier, error) {
	if _, err := digest.New(alg); err != nil {
		return nil, err
	}
	v := &Verifier{
		fallback: alg,
		hashers:  make(map[digest.Algorithm]digest.Hasher, len(digest.Supported)),
		workers:  1,
		logger:   slog.Default(),
	}
	for _, a := range digest.Supported {
		h, _ := digest.New(a)
		v.hashers[a] = h
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.With("component", "chain.verifier")
	return v, nil
}

// WorkersForCPU is a WithWorkers value sized to the machine.
func WorkersForCPU() int { return runtime.GOMAXPROCS(0) }

type line struct {
	number int
	raw    []byte
}

// Verify checks records in order. Line numbers are index+1.
func (v *Verifier) Verify(records [][]byte) *Report {
	lines := make([]line, len(records))
	for i, r := range records {
		lines[i] = line{number: i + 1, raw: r}
	}
	// Only cancellation makes verifyLines fail, and Background never cancels.
	rep, _ := v.verifyLines(context.Background(), lines)
	return rep
}

// VerifyEnvelopes checks in-memory envelopes through their wire form.
func (v *Verifier) VerifyEnvelopes(envs []*Envelope) (*Report, error) {
	records := make([][]byte, len(envs))
	for i, e := range envs {
		rec, err := e.Record()
		if err != nil {
			return nil, fmt.Errorf("chain: encode envelope %d: %w", i, err)
		}
		records[i] = rec
	}
	return v.Verify(records), nil
}

// VerifyReader reads a JSONL stream. Blank lines are skipped and entries keep
// their physical 1-based line numbers.
func (v *Verifier) VerifyReader(ctx context.Context, r io.Reader) (*Report, error) {
	var lines []line
	err := sink.ScanLines(ctx, r, func(number int, raw []byte) error {
		lines = append(lines, line{number: number, raw: raw})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("chain: read log: %w", err)
	}
	return v.verifyLines(ctx, lines)
}

// VerifySink reads every record from s and verifies them.
func (v *Verifier) VerifySink(ctx context.Context, s sink.Sink) (*Report, error) {
	records, err := s.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: read sink: %w", err)
	}
	lines := make([]line, len(records))
	for i, r := range records {
		lines[i] = line{number: i + 1, raw: r}
	}
	return v.verifyLines(ctx, lines)
}

// checked is the per-entry result of the parallel phase.
type checked struct {
	rec       *record
	decodeErr error
	computed  string
	encodeErr error
}

func (v *Verifier) check(raw []byte) checked {
	if len(raw) > sink.MaxRecordSize {
		return checked{decodeErr: fmt.Errorf("%w: line exceeds %d bytes", sink.ErrRecordTooLarge, sink.MaxRecordSize)}
	}
	rec, err := decodeRecord(raw, v.fallback)
	if err != nil {
		return checked{decodeErr: err}
	}
	canonical, err := rec.payload.Canonical()
	if err != nil {
		return checked{rec: rec, encodeErr: err}
	}
	return checked{rec: rec, computed: v.hashers[rec.algorithm].Sum(canonical)}
}

func (v *Verifier) verifyLines(ctx context.Context, lines []line) (*Report, error) {
	ctx, span := tracer.Start(ctx, "chain.verify")
	defer span.End()

	results := make([]checked, len(lines))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)
	for i := range lines {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = v.check(lines[i].raw)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rep := &Report{
		Algorithm: v.fallback,
		Entries:   make([]EntryResult, len(lines)),
	}
	addIssue := func(i int, kind IssueKind, detail string) {
		rep.Issues = append(rep.Issues, Issue{Index: i, LineNumber: lines[i].number, Kind: kind, Detail: detail})
	}

	for i, c := range results {
		res := EntryResult{Index: i, LineNumber: lines[i].number, Chain: LinkNotApplicable}

		switch {
		case c.decodeErr != nil:
			res.Error = c.decodeErr.Error()
			addIssue(i, KindDecodeError, c.decodeErr.Error())
		case c.encodeErr != nil:
			res.Algorithm = c.rec.algorithm
			res.StoredHash = c.rec.storedHash
			res.PreviousEntryHash = c.rec.previous
			res.Error = c.encodeErr.Error()
			addIssue(i, KindDecodeError, c.encodeErr.Error())
		default:
			res.Algorithm = c.rec.algorithm
			res.StoredHash = c.rec.storedHash
			res.PreviousEntryHash = c.rec.previous
			res.ComputedHash = c.computed
			switch {
			case !c.rec.hasHash:
				v.logger.WarnContext(ctx, "entry has no digest field", "line", lines[i].number)
				addIssue(i, KindMissingHashField, "")
			case c.rec.storedHash == c.computed:
				res.HashVerified = true
				rep.ChainHead = c.computed
			default:
				addIssue(i, KindHashMismatch, fmt.Sprintf("stored %s, computed %s", c.rec.storedHash, c.computed))
			}
		}

		if c.rec != nil {
			res.Chain = v.link(i, c.rec, results, addIssue)
		}
		rep.Entries[i] = res
	}

	rep.finish()
	if rep.Empty {
		v.logger.WarnContext(ctx, "chain has no entries")
	}

	algAttr := metric.WithAttributes(attribute.String("algorithm", string(v.fallback)))
	verifiedCounter.Add(ctx, int64(len(lines)), algAttr)
	for _, is := range rep.Issues {
		issueCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(is.Kind))))
	}
	span.SetAttributes(
		attribute.Int("ledger.entries", len(lines)),
		attribute.Bool("ledger.integrity_verified", rep.IntegrityVerified),
	)
	return rep, nil
}

// link checks entry i against the nearest decodable entry before it.
// Undecodable lines in between do not suspend linkage.
func (v *Verifier) link(i int, rec *record, results []checked, addIssue func(int, IssueKind, string)) LinkStatus {
	if i == 0 {
		if rec.hasPrevious && rec.previous == Genesis {
			return LinkVerified
		}
		return LinkNotApplicable
	}
	if !rec.hasPrevious {
		addIssue(i, KindMissingLinkField, "")
		return LinkNotApplicable
	}
	j := i - 1
	for j >= 0 && results[j].rec == nil {
		j--
	}
	if j < 0 {
		return LinkNotApplicable
	}
	prev := results[j]
	want := prev.computed
	if want == "" {
		want = prev.rec.storedHash
	}
	if want == "" {
		return LinkNotApplicable
	}
	if rec.previous != want {
		detail := fmt.Sprintf("links to %s, predecessor is %s", rec.previous, want)
		if skipped := i - 1 - j; skipped > 0 {
			detail += fmt.Sprintf(" (%d undecodable line(s) skipped)", skipped)
		}
		addIssue(i, KindChainBreak, detail)
		return LinkBroken
	}
	return LinkVerified
}
