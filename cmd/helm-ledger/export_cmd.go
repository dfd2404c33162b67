package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/helm-ledger/pkg/evidence"
	"github.com/Mindburn-Labs/helm-ledger/pkg/sink"
)

func (a *app) exportCmd() *cobra.Command {
	var out, label, algorithm string
	cmd := &cobra.Command{
		Use:   "export [log.jsonl] --out pack.zip",
		Short: "Write an evidence pack with the log, its verification report and a Merkle root",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx, done := a.telemetry.TrackOperation(cmd.Context(), "ledger.export", sinkAttr(a.cfg.Sink.Type))
			defer func() { done(err) }()

			v, err := a.newVerifier(algorithm, 0)
			if err != nil {
				return err
			}
			exporter := evidence.NewExporter(v)

			var (
				pack     []byte
				checksum string
			)
			if len(args) == 1 {
				if label == "" {
					label = filepath.Base(args[0])
				}
				pack, checksum, err = exportFile(ctx, exporter, args[0], label)
			} else {
				var s sink.Sink
				s, err = sink.New(ctx, a.cfg.Sink)
				if err != nil {
					return err
				}
				defer func() { _ = s.Close() }()
				pack, checksum, err = exporter.GeneratePackFromSink(ctx, s, label)
			}
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, pack, 0o600); err != nil {
				return fmt.Errorf("write pack: %w", err)
			}
			a.logger.InfoContext(ctx, "evidence pack written", "path", out, "bytes", len(pack))
			_, _ = fmt.Fprintf(a.stdout, "Evidence pack: %s\nsha256: %s\n", out, checksum)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "evidence.zip", "pack destination")
	cmd.Flags().StringVar(&label, "label", "", "label recorded in the manifest")
	cmd.Flags().StringVar(&algorithm, "algorithm", "", "algorithm for records with a generic entry_hash field (default from config)")
	return cmd
}

func exportFile(ctx context.Context, e *evidence.Exporter, path, label string) ([]byte, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("cannot open log: %w", err)
	}
	defer func() { _ = f.Close() }()
	records, err := sink.ReadLines(ctx, f)
	if err != nil {
		return nil, "", err
	}
	return e.GeneratePack(ctx, records, label)
}
