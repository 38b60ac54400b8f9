// Package config loads the engine configuration from defaults, an optional
// YAML file and JITCOV_* environment variables.
package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/jitcov/internal/constants"
)

// Config is the complete engine configuration.
type Config struct {
	// Modules is the comma-separated allow-list of module file names to
	// instrument. Entries match exactly and case-sensitively.
	Modules AllowList     `yaml:"modules" json:"modules" env:"JITCOV_MODULES" jsonschema:"description=Module file names to instrument"`
	Report  ReportConfig  `yaml:"report" json:"report"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ReportConfig selects the report sinks written at shutdown.
type ReportConfig struct {
	Path            string `yaml:"path" json:"path" env:"JITCOV_REPORT_PATH" jsonschema:"description=CSV report file"`
	Console         bool   `yaml:"console" json:"console" env:"JITCOV_REPORT_CONSOLE" jsonschema:"description=Print one line per method at shutdown"`
	DuckDB          string `yaml:"duckdb,omitempty" json:"duckdb,omitempty" env:"JITCOV_REPORT_DUCKDB" jsonschema:"description=DuckDB report database; empty disables"`
	MetricsTextfile string `yaml:"metrics_textfile,omitempty" json:"metrics_textfile,omitempty" env:"JITCOV_METRICS_TEXTFILE" jsonschema:"description=Prometheus textfile; empty disables"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"JITCOV_LOG_LEVEL" jsonschema:"enum=trace,enum=debug,enum=info,enum=warn,enum=error"`
	Pretty bool   `yaml:"pretty" json:"pretty" env:"JITCOV_LOG_PRETTY"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Modules: AllowList(constants.DefaultModules),
		Report: ReportConfig{
			Path:    constants.DefaultReportPath,
			Console: true,
		},
		Logging: LoggingConfig{
			Level: constants.DefaultLogLevel,
		},
	}
}

// AllowList is a comma-separated list of module file names. In YAML it may
// be written as a scalar or as a sequence. Entries are kept verbatim.
type AllowList string

// Entries splits the list.
func (a AllowList) Entries() []string {
	if a == "" {
		return nil
	}
	return strings.Split(string(a), ",")
}

func (a AllowList) String() string { return string(a) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *AllowList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*a = AllowList(node.Value)
		return nil
	case yaml.SequenceNode:
		var entries []string
		if err := node.Decode(&entries); err != nil {
			return err
		}
		for _, e := range entries {
			if strings.Contains(e, ",") {
				return fmt.Errorf("line %d: module name %q contains a comma", node.Line, e)
			}
		}
		*a = AllowList(strings.Join(entries, ","))
		return nil
	}
	return fmt.Errorf("line %d: modules must be a string or a list of strings", node.Line)
}
