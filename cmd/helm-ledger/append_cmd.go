package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/helm-ledger/pkg/canonicalize"
	"github.com/Mindburn-Labs/helm-ledger/pkg/chain"
	"github.com/Mindburn-Labs/helm-ledger/pkg/schema"
	"github.com/Mindburn-Labs/helm-ledger/pkg/sink"
)

type appendOptions struct {
	payload  string
	schemaID string
	path     string
}

func (a *app) appendCmd() *cobra.Command {
	var opts appendOptions
	cmd := &cobra.Command{
		Use:   "append --payload '<json>'",
		Short: "Append one payload to the configured chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runAppend(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.payload, "payload", "p", "", "JSON object to append, or - to read stdin")
	cmd.Flags().StringVar(&opts.schemaID, "schema", "", "schema id to validate against (default from config)")
	cmd.Flags().StringVar(&opts.path, "path", "", "override the sink path")
	_ = cmd.MarkFlagRequired("payload")
	return cmd
}

// appendResult is printed after a successful append.
type appendResult struct {
	EntryHash         string `json:"entry_hash"`
	PreviousEntryHash string `json:"previous_entry_hash"`
	HashAlgorithm     string `json:"hash_algorithm"`
	Length            uint64 `json:"appended"`
}

func (a *app) runAppend(cmd *cobra.Command, opts appendOptions) (err error) {
	cfg := *a.cfg
	if opts.path != "" {
		cfg.Sink.Path = opts.path
	}
	if opts.schemaID != "" {
		cfg.SchemaID = opts.schemaID
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, done := a.telemetry.TrackOperation(cmd.Context(), "ledger.append", sinkAttr(cfg.Sink.Type))
	defer func() { done(err) }()

	raw, err := readPayload(opts.payload, cmd.InOrStdin())
	if err != nil {
		return err
	}
	payload, err := canonicalize.DecodePayload(raw)
	if err != nil {
		return fmt.Errorf("payload: %w", err)
	}

	validator, err := loadValidator(cfg.SchemaDir)
	if err != nil {
		return err
	}
	alg, err := cfg.Algorithm()
	if err != nil {
		return err
	}

	s, err := sink.New(ctx, cfg.Sink)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	appender, err := chain.NewAppender(chain.AppenderConfig{
		Algorithm: alg,
		Sink:      s,
		Validator: validator,
		SchemaID:  cfg.SchemaID,
		Logger:    a.logger,
	})
	if err != nil {
		return err
	}
	if err := appender.Open(ctx); err != nil {
		return err
	}
	env, err := appender.Append(ctx, payload)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(appendResult{
		EntryHash:         env.EntryHash,
		PreviousEntryHash: env.PreviousEntryHash,
		HashAlgorithm:     string(env.Algorithm),
		Length:            appender.Appended(),
	}, "", "  ")
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(a.stdout, string(out))
	return nil
}

func readPayload(flag string, stdin io.Reader) ([]byte, error) {
	if flag != "-" {
		if flag == "" {
			return nil, errors.New("payload is empty")
		}
		return []byte(flag), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("read payload from stdin: %w", err)
	}
	return data, nil
}

// loadValidator returns a JSON Schema validator for dir, or one that accepts
// everything when no schema directory is configured.
func loadValidator(dir string) (schema.Validator, error) {
	if dir == "" {
		return schema.AcceptAll{}, nil
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("schema dir: %w", err)
	}
	return schema.LoadDir(dir)
}
