package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/helm-ledger/pkg/chain"
	"github.com/Mindburn-Labs/helm-ledger/pkg/digest"
	"github.com/Mindburn-Labs/helm-ledger/pkg/sink"
)

type verifyOptions struct {
	algorithm string
	workers   int
	jsonOut   bool
	strict    bool
}

// verifyCmd implements `helm-ledger verify`.
//
// Every entry is checked and every problem printed; the command runs to
// completion on corrupt logs. Without a path the configured sink is read.
func (a *app) verifyCmd() *cobra.Command {
	var opts verifyOptions
	cmd := &cobra.Command{
		Use:   "verify [log.jsonl]",
		Short: "Recompute entry digests and check chain linkage",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runVerify(cmd, args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.algorithm, "algorithm", "", "algorithm for records with a generic entry_hash field (default from config)")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "entries hashed in parallel (default from config, 0 for one per CPU)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "print the full report as JSON")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "exit 1 when integrity is not verified")
	return cmd
}

func (a *app) newVerifier(algorithm string, workers int) (*chain.Verifier, error) {
	if algorithm == "" {
		algorithm = a.cfg.HashAlgorithm
	}
	alg, err := digest.ParseAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}
	return chain.NewVerifier(alg,
		chain.WithWorkers(resolveWorkers(workers, a.cfg.Workers)),
		chain.WithVerifierLogger(a.logger))
}

// resolveWorkers prefers the flag, then the config, then one per CPU.
func resolveWorkers(flag, configured int) int {
	switch {
	case flag > 0:
		return flag
	case configured > 0:
		return configured
	default:
		return chain.WorkersForCPU()
	}
}

func (a *app) runVerify(cmd *cobra.Command, args []string, opts verifyOptions) (err error) {
	ctx, done := a.telemetry.TrackOperation(cmd.Context(), "ledger.verify")
	defer func() { done(err) }()

	v, err := a.newVerifier(opts.algorithm, opts.workers)
	if err != nil {
		return err
	}

	var (
		report *chain.Report
		source string
	)
	if len(args) == 1 {
		source = args[0]
		f, err := os.Open(source)
		if err != nil {
			return fmt.Errorf("cannot open log: %w", err)
		}
		defer func() { _ = f.Close() }()
		report, err = v.VerifyReader(ctx, f)
		if err != nil {
			return err
		}
	} else {
		s, err := sink.New(ctx, a.cfg.Sink)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()
		source = fmt.Sprintf("%s sink", a.cfg.Sink.Type)
		report, err = v.VerifySink(ctx, s)
		if err != nil {
			return err
		}
	}

	if opts.jsonOut {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(a.stdout, string(data))
	} else {
		a.printReport(source, report)
	}

	a.logger.InfoContext(ctx, "verification complete",
		"source", source,
		"entries", len(report.Entries),
		"integrity_verified", report.IntegrityVerified)
	if opts.strict && !report.IntegrityVerified {
		return errVerificationFailed
	}
	return nil
}

// invalidDetail is the JSON block printed for each entry whose digest could
// not be confirmed.
type invalidDetail struct {
	LineNumber       int    `json:"line_number"`
	StoredHash       string `json:"stored_hash,omitempty"`
	RecalculatedHash string `json:"recalculated_hash,omitempty"`
	Error            string `json:"error,omitempty"`
}

func (a *app) printReport(source string, report *chain.Report) {
	w := a.stdout
	s := report.Summary()

	_, _ = fmt.Fprintf(w, "Ledger: %s\n", source)
	_, _ = fmt.Fprintf(w, "Total entries checked: %d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Valid hashes: %d\n", s.ValidHashes)
	_, _ = fmt.Fprintf(w, "Invalid hashes: %d\n", s.InvalidHashes)

	for _, e := range report.Invalid() {
		detail := invalidDetail{
			LineNumber:       e.LineNumber,
			StoredHash:       e.StoredHash,
			RecalculatedHash: e.ComputedHash,
			Error:            e.Error,
		}
		if detail.Error == "" && detail.StoredHash == "" {
			detail.Error = "no entry hash field"
		}
		data, _ := json.MarshalIndent(detail, "", "  ")
		_, _ = fmt.Fprintln(w, string(data))
	}

	if report.Empty {
		_, _ = fmt.Fprintf(w, "⚠️  WARNING: %s contains no entries\n", source)
		return
	}
	if len(report.BrokenIndices) > 0 {
		_, _ = fmt.Fprintf(w, "Chain breaks at indices: %v\n", report.BrokenIndices)
		for _, is := range report.IssuesOf(chain.KindChainBreak) {
			_, _ = fmt.Fprintf(w, "  - %v\n", is)
		}
	}
	if report.IntegrityVerified {
		_, _ = fmt.Fprintf(w, "✅ Ledger integrity VERIFIED (head %s)\n", report.ChainHead)
	} else {
		_, _ = fmt.Fprintf(w, "❌ Ledger integrity FAILED\n")
	}
}

func sinkAttr(t sink.Type) attribute.KeyValue {
	if t == "" {
		t = sink.TypeFile
	}
	return attribute.String("ledger.sink", string(t))
}
