// Command helm-ledger appends to, verifies, seals and exports tamper-evident
// audit chains.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/helm-ledger/pkg/config"
	"github.com/Mindburn-Labs/helm-ledger/pkg/observability"
)

// Exit codes:
//
//	0 = ran to completion
//	1 = verification failed (verify --strict, verify-seal)
//	2 = usage or runtime error
const (
	exitOK     = 0
	exitFailed = 1
	exitError  = 2
)

// errVerificationFailed makes Run exit with exitFailed.
var errVerificationFailed = errors.New("verification failed")

// Dispatcher
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	os.Exit(RunContext(ctx, os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	return RunContext(context.Background(), args, stdout, stderr)
}

// RunContext runs the CLI with args (including the program name).
func RunContext(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	var rest []string
	if len(args) > 1 {
		rest = args[1:]
	}
	root.SetArgs(normalizeArgs(rest))
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	a.shutdown()
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errVerificationFailed):
		return exitFailed
	default:
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
}

// normalizeArgs lets `helm-ledger <log.jsonl>` stand for `helm-ledger verify <log.jsonl>`.
func normalizeArgs(args []string) []string {
	if len(args) > 0 && strings.HasSuffix(args[0], ".jsonl") {
		return append([]string{"verify"}, args...)
	}
	// A nil slice would make cobra fall back to os.Args.
	return append([]string{}, args...)
}

type app struct {
	stdout, stderr io.Writer

	configPath string
	cfg        *config.Config
	logger     *slog.Logger
	telemetry  *observability.Provider
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "helm-ledger",
		Short: "Tamper-evident audit chain tooling",
		Long: `helm-ledger maintains hash-chained audit logs: every entry carries the digest
of its canonical payload and the digest of the entry before it. It appends,
verifies, seals contract documents and exports evidence packs.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML config file (environment variables override it)")

	root.AddCommand(
		a.verifyCmd(),
		a.appendCmd(),
		a.sealCmd(),
		a.verifySealCmd(),
		a.exportCmd(),
	)
	return root
}

// setup loads configuration and installs the logger and telemetry.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if a.configPath != "" {
		cfg, err := config.LoadFile(a.configPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
	} else {
		a.cfg = config.Load()
	}

	logger, err := observability.NewLogger(a.stderr, a.cfg.LogLevel, a.cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	a.logger = logger.With("command", cmd.Name())
	slog.SetDefault(a.logger)

	p, err := observability.New(cmd.Context(), &a.cfg.Telemetry)
	if err != nil {
		return err
	}
	a.telemetry = p
	return nil
}

func (a *app) shutdown() {
	if a.telemetry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.telemetry.Shutdown(ctx)
}
