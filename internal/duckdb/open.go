package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	duckdbDriver "github.com/marcboeker/go-duckdb"

	"github.com/coral-mesh/jitcov/internal/retry"
)

// lockRetry bounds waiting for another process to release the database
// file lock.
var lockRetry = retry.Config{
	MaxRetries:     5,
	InitialBackoff: 50 * time.Millisecond,
	MaxBackoff:     time.Second,
	Jitter:         0.1,
}

// OpenDB opens the DuckDB database at path, or an in-memory database when
// path is empty or ":memory:". Every pooled connection runs the given
// bootstrap statements.
func OpenDB(ctx context.Context, path string, bootstrap ...string) (*sql.DB, error) {
	if path == ":memory:" {
		path = ""
	}

	connector, err := duckdbDriver.NewConnector(path, func(execer driver.ExecerContext) error {
		for _, query := range bootstrap {
			if _, err := execer.ExecContext(context.Background(), query, nil); err != nil {
				return fmt.Errorf("bootstrap %q: %w", query, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("open duckdb %q: %w", path, err)
	}

	db := sql.OpenDB(connector)
	err = retry.Do(ctx, lockRetry, func() error {
		return db.PingContext(ctx)
	}, isLockConflict)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open duckdb %q: %w", path, err)
	}
	return db, nil
}

func isLockConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Could not set lock") || strings.Contains(msg, "Conflicting lock")
}
