// Package errors provides the deferred cleanup helpers used by report
// sinks and commands.
package errors

import (
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// DeferClose closes closer and logs a failure at warn level with msg.
// A nil closer is ignored.
func DeferClose(logger zerolog.Logger, closer io.Closer, msg string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warn().Err(err).Msg(msg)
	}
}

// DeferRollback rolls tx back, ignoring sql.ErrTxDone after a commit.
func DeferRollback(logger zerolog.Logger, tx *sql.Tx) {
	if tx == nil {
		return
	}
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logger.Warn().Err(err).Msg("Transaction rollback failed")
	}
}

// CloseInto closes closer and joins a failure into *errp. Use it in defer
// statements of functions whose result depends on the close succeeding,
// such as writers.
func CloseInto(errp *error, closer io.Closer, what string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		*errp = errors.Join(*errp, fmt.Errorf("close %s: %w", what, err))
	}
}

// Must panics if err is not nil. Use only during initialization.
func Must(err error, msg string) {
	if err != nil {
		panic(fmt.Sprintf("%s: %v", msg, err))
	}
}
