package engine

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/jitcov/internal/config"
	"github.com/coral-mesh/jitcov/internal/coverage/filter"
	"github.com/coral-mesh/jitcov/internal/coverage/report"
)

// OptionsFromConfig derives engine options from the configuration: the
// allow-list and one sink per enabled report output. Console lines go to
// console, or to stderr when it is nil.
func OptionsFromConfig(cfg *config.Config, console io.Writer, logger zerolog.Logger) Options {
	sinkLogger := logger.With().Str("component", "report").Logger()

	sinks := []report.Sink{report.CSVFile{Path: cfg.Report.Path}}
	if cfg.Report.Console {
		if console == nil {
			console = os.Stderr
		}
		sinks = append(sinks, report.LogSink{W: console, Logger: sinkLogger})
	}
	if cfg.Report.DuckDB != "" {
		sinks = append(sinks, report.DuckDBSink{Path: cfg.Report.DuckDB, Logger: sinkLogger})
	}

	return Options{
		Filter:          filter.New(cfg.Modules.String()),
		Sinks:           sinks,
		MetricsTextfile: cfg.Report.MetricsTextfile,
		Logger:          logger,
	}
}
