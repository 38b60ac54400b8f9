// Package report implements the report command, which reads a coverage
// report written by an earlier run.
package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/jitcov/internal/cli/helpers"
	"github.com/coral-mesh/jitcov/internal/config"
	"github.com/coral-mesh/jitcov/internal/constants"
	"github.com/coral-mesh/jitcov/internal/coverage/report"
)

var supportedFormats = []helpers.OutputFormat{
	helpers.FormatTable,
	helpers.FormatCSV,
	helpers.FormatJSON,
	helpers.FormatYAML,
}

// NewReportCmd creates the report command.
func NewReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Inspect coverage reports",
	}
	cmd.AddCommand(newShowCmd())
	return cmd
}

// MethodView is one row of the show output.
type MethodView struct {
	Module      string `header:"MODULE" json:"module" yaml:"module"`
	Method      string `header:"METHOD" json:"method" yaml:"method"`
	Invocations uint64 `header:"CALLS" json:"invocations" yaml:"invocations"`
}

// RunView is the structured show output.
type RunView struct {
	RunID    string       `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Process  string       `json:"process,omitempty" yaml:"process,omitempty"`
	PID      int32        `json:"pid,omitempty" yaml:"pid,omitempty"`
	Started  *time.Time   `json:"started,omitempty" yaml:"started,omitempty"`
	Finished *time.Time   `json:"finished,omitempty" yaml:"finished,omitempty"`
	Methods  int          `json:"methods" yaml:"methods"`
	Covered  int          `json:"covered" yaml:"covered"`
	Percent  float64      `json:"percent" yaml:"percent"`
	Rows     []MethodView `json:"rows" yaml:"rows"`
}

type showOptions struct {
	db        string
	file      string
	format    string
	uncovered bool
	logLevel  string
}

func newShowCmd() *cobra.Command {
	opts := showOptions{}

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the methods and invocation counts of a report",
		Long: `Show prints a coverage report. With --db it reads the last run stored in a
DuckDB report database; otherwise it reads the CSV report file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := helpers.ValidateFormat(opts.format, supportedFormats); err != nil {
				return err
			}
			logger := helpers.NewLogger(config.LoggingConfig{Level: opts.logLevel}, cmd.ErrOrStderr())
			view, err := load(cmd.Context(), opts, logger)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), helpers.OutputFormat(opts.format), view)
		},
	}

	cmd.Flags().StringVar(&opts.db, "db", "", "DuckDB report database to read")
	cmd.Flags().StringVar(&opts.file, "file", constants.DefaultReportPath, "CSV report file to read")
	cmd.Flags().BoolVar(&opts.uncovered, "uncovered", false, "Only list methods that were never called")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "warn", "Log level")
	helpers.AddFormatFlag(cmd, &opts.format, helpers.FormatTable, supportedFormats)
	cmd.MarkFlagsMutuallyExclusive("db", "file")
	return cmd
}

func load(ctx context.Context, opts showOptions, logger zerolog.Logger) (*RunView, error) {
	var (
		view RunView
		rows []report.Row
	)
	if opts.db != "" {
		run, r, err := report.LoadRun(ctx, opts.db, logger)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", opts.db, err)
		}
		view.RunID = run.ID.String()
		view.Process = run.Process
		view.PID = run.PID
		view.Started = &run.Started
		view.Finished = &run.Finished
		rows = r
	} else {
		r, err := report.ReadCSV(opts.file)
		if err != nil {
			return nil, err
		}
		rows = r
	}

	sum := report.Summarize(rows)
	view.Methods = sum.Methods
	view.Covered = sum.Covered
	view.Percent = sum.Percent()
	view.Rows = make([]MethodView, 0, len(rows))
	for _, r := range rows {
		if opts.uncovered && r.Invocations > 0 {
			continue
		}
		view.Rows = append(view.Rows, MethodView{Module: r.Module, Method: r.Qualified(), Invocations: r.Invocations})
	}
	return &view, nil
}

func render(w io.Writer, format helpers.OutputFormat, view *RunView) error {
	formatter, err := helpers.NewFormatter(format)
	if err != nil {
		return err
	}

	switch format {
	case helpers.FormatJSON, helpers.FormatYAML:
		return formatter.Format(view, w)
	case helpers.FormatCSV:
		return formatter.Format(view.Rows, w)
	}

	if view.RunID != "" {
		_, _ = fmt.Fprintf(w, "Run %s: %s (pid %d), finished %s\n\n",
			view.RunID, view.Process, view.PID, view.Finished.Format(time.RFC3339))
	}
	if err := formatter.Format(view.Rows, w); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "\n%d/%d methods covered (%.1f%%)\n", view.Covered, view.Methods, view.Percent)
	return err
}
