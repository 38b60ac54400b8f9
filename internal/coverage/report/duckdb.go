package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/jitcov/internal/duckdb"
	errs "github.com/coral-mesh/jitcov/internal/errors"
	"github.com/coral-mesh/jitcov/internal/safe"
)

// ErrNoRun is returned when a report database holds no run.
var ErrNoRun = errors.New("no coverage run recorded")

const schema = `
CREATE TABLE IF NOT EXISTS coverage_runs (
	run_id      TEXT PRIMARY KEY,
	process     TEXT,
	pid         INTEGER,
	started_at  TIMESTAMP,
	finished_at TIMESTAMP,
	methods     BIGINT,
	covered     BIGINT
);
CREATE TABLE IF NOT EXISTS coverage_methods (
	run_id      TEXT,
	method_key  TEXT,
	seq         BIGINT,
	module      TEXT,
	type_name   TEXT,
	method      TEXT,
	invocations BIGINT,
	PRIMARY KEY (run_id, seq)
);
`

type runRecord struct {
	RunID      string    `duckdb:"run_id,pk"`
	Process    string    `duckdb:"process"`
	PID        int32     `duckdb:"pid"`
	StartedAt  time.Time `duckdb:"started_at"`
	FinishedAt time.Time `duckdb:"finished_at"`
	Methods    int64     `duckdb:"methods"`
	Covered    int64     `duckdb:"covered"`
}

type methodRecord struct {
	RunID       string `duckdb:"run_id,pk"`
	MethodKey   string `duckdb:"method_key"`
	Seq         int64  `duckdb:"seq,pk"`
	Module      string `duckdb:"module"`
	TypeName    string `duckdb:"type_name"`
	Method      string `duckdb:"method"`
	Invocations int64  `duckdb:"invocations"`
}

// DuckDBSink stores the run in a DuckDB database file. The previous run is
// replaced; nothing is merged across runs.
type DuckDBSink struct {
	Path   string
	Logger zerolog.Logger
}

// Name implements Sink.
func (d DuckDBSink) Name() string { return "duckdb" }

// Write implements Sink.
func (d DuckDBSink) Write(ctx context.Context, run Run, rows []Row) (err error) {
	db, err := openReportDB(ctx, d.Path)
	if err != nil {
		return err
	}
	defer errs.CloseInto(&err, db, "report database")

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer errs.DeferRollback(d.Logger, tx)

	runs := duckdb.NewTable[runRecord](tx, "coverage_runs")
	methods := duckdb.NewTable[methodRecord](tx, "coverage_methods")

	if err := methods.DeleteAll(ctx); err != nil {
		return fmt.Errorf("clear methods: %w", err)
	}
	if err := runs.DeleteAll(ctx); err != nil {
		return fmt.Errorf("clear runs: %w", err)
	}

	sum := Summarize(rows)
	total, _ := safe.Uint64ToInt64(uint64(sum.Methods))
	covered, _ := safe.Uint64ToInt64(uint64(sum.Covered))
	if err := runs.Insert(ctx, &runRecord{
		RunID:      run.ID.String(),
		Process:    run.Process,
		PID:        run.PID,
		StartedAt:  run.Started,
		FinishedAt: run.Finished,
		Methods:    total,
		Covered:    covered,
	}); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	records := make([]*methodRecord, 0, len(rows))
	for i, r := range rows {
		count, clamped := safe.Uint64ToInt64(r.Invocations)
		if clamped {
			d.Logger.Warn().Str("method", r.Qualified()).Msg("Invocation count clamped")
		}
		records = append(records, &methodRecord{
			RunID:       run.ID.String(),
			MethodKey:   strconv.FormatUint(MethodKey(r.Module, r.Type, r.Method), 16),
			Seq:         int64(i),
			Module:      r.Module,
			TypeName:    r.Type,
			Method:      r.Method,
			Invocations: count,
		})
	}
	if err := methods.BatchInsert(ctx, records); err != nil {
		return fmt.Errorf("insert methods: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	d.Logger.Debug().Str("path", d.Path).Str("run_id", run.ID.String()).Int("methods", len(rows)).Msg("Coverage stored")
	return nil
}

// LoadRun reads the run stored in the report database at path.
func LoadRun(ctx context.Context, path string, logger zerolog.Logger) (Run, []Row, error) {
	db, err := openReportDB(ctx, path)
	if err != nil {
		return Run{}, nil, err
	}
	defer errs.DeferClose(logger, db, "Failed to close report database")

	runs, err := duckdb.NewTable[runRecord](db, "coverage_runs").List(ctx, nil, "finished_at")
	if err != nil {
		return Run{}, nil, fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		return Run{}, nil, ErrNoRun
	}
	last := runs[len(runs)-1]

	id, err := uuid.Parse(last.RunID)
	if err != nil {
		return Run{}, nil, fmt.Errorf("run id %q: %w", last.RunID, err)
	}
	run := Run{ID: id, Process: last.Process, PID: last.PID, Started: last.StartedAt, Finished: last.FinishedAt}

	records, err := duckdb.NewTable[methodRecord](db, "coverage_methods").
		List(ctx, map[string]any{"run_id": last.RunID}, "seq")
	if err != nil {
		return Run{}, nil, fmt.Errorf("list methods: %w", err)
	}
	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		count, _ := safe.Int64ToUint64(rec.Invocations)
		rows = append(rows, Row{Module: rec.Module, Type: rec.TypeName, Method: rec.Method, Invocations: count})
	}
	return run, rows, nil
}

func openReportDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := duckdb.OpenDB(ctx, path)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create report schema: %w", err)
	}
	return db, nil
}
