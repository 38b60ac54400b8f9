// Package constants defines shared configuration constants.
package constants

const (
	// DefaultModules is the allow-list used when none is configured.
	DefaultModules = "CodeCoverage.Example.dll"

	// DefaultReportPath is the CSV report written in the working directory.
	DefaultReportPath = "coverage.csv"

	DefaultLogLevel = "info"

	// EnvConfig names the configuration file to load.
	EnvConfig = "JITCOV_CONFIG"

	// EnvPrefix prefixes every configuration environment variable.
	EnvPrefix = "JITCOV_"
)
