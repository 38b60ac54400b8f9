package helpers

import (
	"io"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/jitcov/internal/config"
	"github.com/coral-mesh/jitcov/internal/logging"
)

// NewLogger builds a command logger from the logging configuration.
func NewLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	return logging.New(logging.Config{
		Level:  cfg.Level,
		Pretty: cfg.Pretty,
		Output: out,
	})
}
