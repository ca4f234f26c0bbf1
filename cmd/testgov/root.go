package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/helm/testgov/pkg/config"
	"github.com/Mindburn-Labs/helm/testgov/pkg/contracts"
	"github.com/Mindburn-Labs/helm/testgov/pkg/observability"
)

// Exit codes:
//
//	0 = success
//	1 = check failed (gaps, broken chain, bad signature, not deployable)
//	2 = runtime error
const (
	exitOK     = 0
	exitFailed = 1
	exitError  = 2
)

// Build info, set with -ldflags.
var (
	Version   = "0.1.0"
	GitCommit = "dev"
	BuildDate = "unknown"
)

// checkFailed marks an error as a failed check rather than a runtime error.
type checkFailed struct{ err error }

func (e *checkFailed) Error() string { return e.err.Error() }

func (e *checkFailed) Unwrap() error { return e.err }

func failed(format string, args ...any) error {
	return &checkFailed{err: fmt.Errorf(format, args...)}
}

type cli struct {
	stdout, stderr io.Writer

	configPath string
	jsonOutput bool

	cfg      *config.Config
	logger   *slog.Logger
	provider *observability.Provider
}

// Run executes the CLI with args (without the program name) and returns
// the process exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	c := &cli{stdout: stdout, stderr: stderr}
	root := c.newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(context.Background())
	if c.provider != nil {
		if shutdownErr := c.provider.Shutdown(context.Background()); shutdownErr != nil {
			c.logger.Error("telemetry shutdown failed", "error", shutdownErr)
		}
	}
	if err == nil {
		return exitOK
	}

	_, _ = fmt.Fprintf(stderr, "testgov: %v\n", err)
	if code := contracts.CodeOf(err); code != "" {
		_, _ = fmt.Fprintf(stderr, "code: %s\n", code)
	}
	var cf *checkFailed
	if errors.As(err, &cf) {
		return exitFailed
	}
	return exitError
}

func (c *cli) newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "testgov",
		Short: "Test verification and governance",
		Long: `testgov turns test executions into auditable evidence.

It checks contract catalogs for coverage gaps, suggests tests for a change,
verifies signed receipts and the hash-chained receipt ledger, and exports
ledger snapshots to content-addressed storage.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd.Context())
		},
	}

	cmd.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default ./testgov.yaml if present)")
	cmd.PersistentFlags().BoolVar(&c.jsonOutput, "json", false, "machine-readable JSON output")

	cmd.AddCommand(
		c.newCoverageCmd(),
		c.newSuggestCmd(),
		c.newLedgerCmd(),
		c.newReceiptCmd(),
		c.newDeployCmd(),
		c.newPlanCmd(),
		c.newDoctorCmd(),
		c.newVersionCmd(),
	)
	return cmd
}

func (c *cli) init(ctx context.Context) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.cfg = cfg

	logger, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format, c.stderr)
	if err != nil {
		return err
	}
	c.logger = logger
	slog.SetDefault(logger)

	if cfg.Observability.Enabled {
		p, err := observability.New(ctx, cfg.Observability.Provider(Version))
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		c.provider = p
	}
	return nil
}

func (c *cli) metrics() *observability.Metrics {
	if c.provider == nil {
		return nil
	}
	return c.provider.Metrics()
}

func (c *cli) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.stdout, format, args...)
}

func (c *cli) outputJSON(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
