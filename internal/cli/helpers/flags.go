// Package helpers provides flag, configuration and output helpers shared by
// jitcov commands.
package helpers

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/coral-mesh/jitcov/internal/config"
)

// AddFormatFlag adds a standard --format/-o flag to a command.
func AddFormatFlag(cmd *cobra.Command, formatVar *string, defaultFormat OutputFormat, supportedFormats []OutputFormat) {
	formatNames := make([]string, len(supportedFormats))
	for i, f := range supportedFormats {
		formatNames[i] = string(f)
	}

	description := fmt.Sprintf("Output format (%s)", strings.Join(formatNames, ", "))
	cmd.Flags().StringVarP(formatVar, "format", "o", string(defaultFormat), description)

	_ = cmd.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return formatNames, cobra.ShellCompDirectiveNoFileComp
	})
}

// ValidateFormat checks if the format is in the supported list.
func ValidateFormat(format string, supported []OutputFormat) error {
	names := make([]string, len(supported))
	for i, s := range supported {
		if format == string(s) {
			return nil
		}
		names[i] = string(s)
	}
	return fmt.Errorf("unsupported format %q, must be one of: %s", format, strings.Join(names, ", "))
}

// ConfigFlags are the configuration overrides commands accept. They take
// precedence over the environment and the configuration file.
type ConfigFlags struct {
	Path     string
	Modules  string
	Report   string
	DuckDB   string
	Metrics  string
	LogLevel string
	Pretty   bool
	Quiet    bool

	flags *pflag.FlagSet
}

// NewConfigFlags returns a flag set bound to a new ConfigFlags.
func NewConfigFlags() *ConfigFlags {
	f := &ConfigFlags{}
	fs := pflag.NewFlagSet("config", pflag.ContinueOnError)
	fs.StringVar(&f.Path, "config", "", "Configuration file (default $JITCOV_CONFIG)")
	fs.StringVar(&f.Modules, "modules", "", "Comma-separated module allow-list")
	fs.StringVar(&f.Report, "report", "", "CSV report path")
	fs.StringVar(&f.DuckDB, "duckdb", "", "DuckDB report database")
	fs.StringVar(&f.Metrics, "metrics-textfile", "", "Prometheus textfile for engine metrics")
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	fs.BoolVar(&f.Pretty, "pretty", false, "Human-readable log output")
	fs.BoolVarP(&f.Quiet, "quiet", "q", false, "Do not print the per-method report")
	f.flags = fs
	return f
}

// FlagSet returns the underlying flag set, for cmd.Flags().AddFlagSet.
func (f *ConfigFlags) FlagSet() *pflag.FlagSet { return f.flags }

// Load loads the configuration with the flags that were set applied on top.
func (f *ConfigFlags) Load() (*config.Config, error) {
	return config.Load(config.Path(f.Path), f.Apply)
}

// Apply copies the flags that were set on the command line into cfg.
func (f *ConfigFlags) Apply(cfg *config.Config) {
	if f.changed("modules") {
		cfg.Modules = config.AllowList(f.Modules)
	}
	if f.changed("report") {
		cfg.Report.Path = f.Report
	}
	if f.changed("duckdb") {
		cfg.Report.DuckDB = f.DuckDB
	}
	if f.changed("metrics-textfile") {
		cfg.Report.MetricsTextfile = f.Metrics
	}
	if f.changed("log-level") {
		cfg.Logging.Level = f.LogLevel
	}
	if f.changed("pretty") {
		cfg.Logging.Pretty = f.Pretty
	}
	if f.changed("quiet") && f.Quiet {
		cfg.Report.Console = false
	}
}

func (f *ConfigFlags) changed(name string) bool {
	fl := f.flags.Lookup(name)
	return fl != nil && fl.Changed
}
