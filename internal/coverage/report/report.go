// Package report turns the metadata model into coverage rows and writes
// them to the configured sinks at shutdown.
package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/coral-mesh/jitcov/internal/coverage/metadata"
)

// Row is the final count of one method.
type Row struct {
	Module      string
	Type        string
	Method      string
	Invocations uint64
}

// Qualified returns "Type::Method".
func (r Row) Qualified() string {
	return r.Type + "::" + r.Method
}

// Collect snapshots every method record of model in module, type and
// discovery order. Records of unloaded modules are included.
func Collect(model *metadata.Model) []Row {
	var rows []Row
	model.Walk(func(mod *metadata.Module, typ *metadata.Type, meth *metadata.Method) {
		rows = append(rows, Row{
			Module:      mod.Name,
			Type:        typ.Name,
			Method:      meth.Name,
			Invocations: meth.Invocations(),
		})
	})
	return rows
}

// Run identifies one profiled process execution.
type Run struct {
	ID       uuid.UUID
	Process  string
	PID      int32
	Started  time.Time
	Finished time.Time
}

// NewRun creates a run for the current process. The process name and start
// time come from the operating system when available.
func NewRun(ctx context.Context) Run {
	run := Run{
		ID:      uuid.New(),
		PID:     int32(os.Getpid()), // #nosec G115 - pids fit in int32.
		Started: time.Now().UTC(),
	}
	if p, err := process.NewProcessWithContext(ctx, run.PID); err == nil {
		if name, err := p.NameWithContext(ctx); err == nil {
			run.Process = name
		}
		if ms, err := p.CreateTimeWithContext(ctx); err == nil && ms > 0 {
			run.Started = time.UnixMilli(ms).UTC()
		}
	}
	return run
}

// Sink receives the rows of a run.
type Sink interface {
	Name() string
	Write(ctx context.Context, run Run, rows []Row) error
}

// Synthesize hands rows to every sink. A failing sink does not prevent the
// others from running; failures are returned joined.
func Synthesize(ctx context.Context, run Run, rows []Row, sinks ...Sink) error {
	if run.Finished.IsZero() {
		run.Finished = time.Now().UTC()
	}
	var errs []error
	for _, s := range sinks {
		if err := s.Write(ctx, run, rows); err != nil {
			errs = append(errs, fmt.Errorf("%s sink: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Summary aggregates a set of rows.
type Summary struct {
	Methods     int
	Covered     int
	Invocations uint64
}

// Percent returns the share of covered methods, 0 for an empty report.
func (s Summary) Percent() float64 {
	if s.Methods == 0 {
		return 0
	}
	return 100 * float64(s.Covered) / float64(s.Methods)
}

// Summarize aggregates rows.
func Summarize(rows []Row) Summary {
	var s Summary
	for _, r := range rows {
		s.Methods++
		if r.Invocations > 0 {
			s.Covered++
		}
		s.Invocations += r.Invocations
	}
	return s
}
