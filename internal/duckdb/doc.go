// Package duckdb provides the DuckDB access layer of the report store.
//
// The Table type maps a struct with `duckdb` tags onto a table:
//
//	type MethodRow struct {
//	    RunID  string `duckdb:"run_id,pk"`
//	    Method string `duckdb:"method,pk"`
//	    Count  int64  `duckdb:"invocations"`
//	}
//
//	table := duckdb.NewTable[MethodRow](db, "coverage_methods")
//	err := table.BatchInsert(ctx, rows)
//
// Writes are retried on DuckDB transaction conflicts.
package duckdb
