// Command perception-load drives simulated participants against a running
// perception hub and verifies that their sessions are tracked.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/okian/perception/internal/loadgen"
	"github.com/okian/perception/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := loadgen.DefaultConfig()
	var (
		verbose   bool
		logFormat string
	)

	cmd := &cobra.Command{
		Use:   "perception-load",
		Short: "Load test a perception hub over websocket",
		Long: `perception-load connects simulated participants to every session,
streams random-walk ratings at a fixed rate for the configured duration,
then checks /health and each session's view to confirm the hub tracked them.`,
		Example: `  perception-load --url http://localhost:3001 --sessions 8 --participants 50 --rate 2 --duration 1m`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := logger.Init(logger.WithFormat(logFormat), logger.WithOutput(cmd.ErrOrStderr())); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			if verbose {
				if err := logger.SetLevelString("debug"); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := loadgen.Run(ctx, cfg)
			if report != nil {
				if werr := printReport(cmd, report); werr != nil {
					return werr
				}
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "url", cfg.BaseURL, "base URL of the hub (http, https, ws or wss)")
	f.IntVar(&cfg.Sessions, "sessions", cfg.Sessions, "number of sessions")
	f.IntVar(&cfg.Participants, "participants", cfg.Participants, "participants per session")
	f.Float64Var(&cfg.Rate, "rate", cfg.Rate, "ratings per second per participant")
	f.DurationVar(&cfg.Duration, "duration", cfg.Duration, "length of the rating phase")
	f.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "HTTP and handshake timeout")
	f.StringVar(&cfg.SessionPrefix, "prefix", cfg.SessionPrefix, "session id prefix")
	f.StringVar(&cfg.OutputFile, "output", "", "write the JSON report to this file")
	f.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	f.StringVar(&logFormat, "log-format", "text", "log format: text or json")

	return cmd
}

func printReport(cmd *cobra.Command, r *loadgen.Report) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to print report: %w", err)
	}
	return nil
}
