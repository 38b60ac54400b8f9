package report

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// LogSink prints one "Function Type::Method called N times" line per row
// and mirrors it as a debug event.
type LogSink struct {
	// W receives the lines. Nil means stderr.
	W      io.Writer
	Logger zerolog.Logger
}

// Name implements Sink.
func (l LogSink) Name() string { return "console" }

// Write implements Sink.
func (l LogSink) Write(_ context.Context, run Run, rows []Row) error {
	w := l.W
	if w == nil {
		w = os.Stderr
	}
	for _, r := range rows {
		if _, err := fmt.Fprintf(w, "Function %s called %d times\n", r.Qualified(), r.Invocations); err != nil {
			return err
		}
		l.Logger.Debug().
			Str("run_id", run.ID.String()).
			Str("module", r.Module).
			Str("method", r.Qualified()).
			Uint64("invocations", r.Invocations).
			Msg("Method coverage")
	}
	return nil
}
