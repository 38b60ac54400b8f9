package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

var logLevels = map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}

// Validate checks the configuration, reporting every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Modules == "" {
		errs = append(errs, errors.New("modules: allow-list is empty"))
	}
	for _, e := range c.Modules.Entries() {
		if strings.ContainsAny(e, `/\`) {
			errs = append(errs, fmt.Errorf("modules: entry %q must be a file name, not a path", e))
		}
	}
	if c.Report.Path == "" {
		errs = append(errs, errors.New("report.path: must not be empty"))
	}
	if c.Report.DuckDB != "" && c.Report.DuckDB == c.Report.Path {
		errs = append(errs, errors.New("report.duckdb: must differ from report.path"))
	}
	if !logLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// Warnings lists settings that are accepted but have no effect, such as
// empty allow-list entries, which never match a module.
func (c *Config) Warnings() []string {
	var warnings []string
	for i, e := range c.Modules.Entries() {
		if e == "" {
			warnings = append(warnings, fmt.Sprintf("modules: entry %d is empty and matches no module", i))
		}
	}
	return warnings
}
