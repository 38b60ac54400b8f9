// Package replay implements the replay command, which drives the coverage
// engine through a recorded host session.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/jitcov/internal/cli/helpers"
	"github.com/coral-mesh/jitcov/internal/coverage/engine"
	"github.com/coral-mesh/jitcov/internal/coverage/hooks"
	"github.com/coral-mesh/jitcov/internal/coverage/report"
	"github.com/coral-mesh/jitcov/internal/coverage/simhost"
	errs "github.com/coral-mesh/jitcov/internal/errors"
)

// NewReplayCmd creates the replay command.
func NewReplayCmd() *cobra.Command {
	flags := helpers.NewConfigFlags()

	cmd := &cobra.Command{
		Use:   "replay SCRIPT",
		Short: "Replay a recorded host session through the coverage engine",
		Long: `Replay loads the modules, JIT compilations, calls and unloads described by
SCRIPT into an in-memory host and runs the coverage engine against them.
At the end of the session the engine shuts down and writes its report to
every configured sink.

Example script:

  modules:
    - name: CodeCoverage.Example.dll
      types:
        - name: Foo
          methods: [{name: Bar}, {name: Baz}]
  events:
    - load: CodeCoverage.Example.dll
    - call: Foo::Bar
      module: CodeCoverage.Example.dll
      times: 2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.Load()
			if err != nil {
				return err
			}
			logger := helpers.NewLogger(cfg.Logging, cmd.ErrOrStderr())
			for _, w := range cfg.Warnings() {
				logger.Warn().Msg(w)
			}

			script, err := readScript(args[0], logger)
			if err != nil {
				return err
			}

			opts := engine.OptionsFromConfig(cfg, cmd.OutOrStdout(), logger)
			res, rows, err := Run(cmd.Context(), opts, script, logger)
			if res != nil {
				printSummary(cmd.ErrOrStderr(), res, rows)
			}
			return err
		},
	}
	cmd.Flags().AddFlagSet(flags.FlagSet())
	return cmd
}

// Run plays script against a fresh engine built from opts. The engine is
// shut down, and its report written, even when playback fails.
func Run(ctx context.Context, opts engine.Options, script *simhost.Script, logger zerolog.Logger) (*simhost.Result, []report.Row, error) {
	rt := simhost.New()
	addrs := hooks.ProcessAddresses()
	rt.RegisterHook(addrs.Enter, hooks.Enter)
	rt.RegisterHook(addrs.Leave, hooks.Leave)
	opts.Addresses = &addrs

	e := engine.New(opts)
	if err := e.Initialize(rt.Host()); err != nil {
		return nil, nil, fmt.Errorf("initialize engine: %w", err)
	}

	res, playErr := simhost.NewPlayer(rt, e, logger).Play(ctx, script)
	if playErr != nil {
		playErr = fmt.Errorf("replay: %w", playErr)
	}
	for _, f := range res.JITFailures {
		logger.Warn().Str("method", f.Method).Stringer("status", f.Status).Err(f.Err).Msg("JIT compilation rejected")
	}

	shutdownErr := e.Shutdown()
	if shutdownErr != nil {
		shutdownErr = fmt.Errorf("shutdown: %w", shutdownErr)
	}
	return res, e.Report(), errors.Join(playErr, shutdownErr)
}

func readScript(path string, logger zerolog.Logger) (*simhost.Script, error) {
	f, err := os.Open(path) // #nosec G304 - the script path is provided by the operator.
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer errs.DeferClose(logger, f, "Failed to close script")

	script, err := simhost.ParseScript(f)
	if err != nil {
		return nil, fmt.Errorf("script %s: %w", path, err)
	}
	return script, nil
}

func printSummary(w io.Writer, res *simhost.Result, rows []report.Row) {
	sum := report.Summarize(rows)
	_, _ = fmt.Fprintf(w, "Replayed %d calls, %d compilations, %d rejected\n",
		res.Calls, res.Compiled, len(res.JITFailures))
	_, _ = fmt.Fprintf(w, "Coverage: %d/%d methods (%.1f%%), %d invocations\n",
		sum.Covered, sum.Methods, sum.Percent(), sum.Invocations)
}
