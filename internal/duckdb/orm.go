package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/coral-mesh/jitcov/internal/retry"
)

// Execer is an interface that matches both *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Beginner starts transactions. *sql.DB implements it.
type Beginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

var conflictRetry = retry.Config{
	MaxRetries:     10,
	InitialBackoff: 10 * time.Millisecond,
	MaxBackoff:     500 * time.Millisecond,
	Jitter:         0.1,
}

// Table represents a generic database table wrapper for type T.
type Table[T any] struct {
	db        Execer
	tableName string
	columns   []string
	pkColumns []string
	fieldMap  map[string]int
}

// NewTable creates a new Table[T] instance.
// T must be a struct with `duckdb` tags.
func NewTable[T any](db Execer, tableName string) *Table[T] {
	var zero T
	t := reflect.TypeOf(zero)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		panic("Table generic type T must be a struct")
	}

	tbl := &Table[T]{
		db:        db,
		tableName: tableName,
		fieldMap:  make(map[string]int),
	}
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("duckdb")
		if tag == "" || tag == "-" {
			continue
		}
		parts := strings.Split(tag, ",")
		col := strings.TrimSpace(parts[0])
		tbl.columns = append(tbl.columns, col)
		tbl.fieldMap[col] = i
		for _, opt := range parts[1:] {
			if strings.TrimSpace(opt) == "pk" {
				tbl.pkColumns = append(tbl.pkColumns, col)
			}
		}
	}
	return tbl
}

// Name returns the table name.
func (t *Table[T]) Name() string { return t.tableName }

// Columns returns the mapped column names in field order.
func (t *Table[T]) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

func (t *Table[T]) insertQuery() string {
	placeholders := make([]string, len(t.columns))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	// #nosec G201 - table and column names come from struct tags.
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		t.tableName,
		strings.Join(t.columns, ", "),
		strings.Join(placeholders, ", "),
	)
}

func (t *Table[T]) values(item *T) []any {
	val := reflect.ValueOf(item).Elem()
	values := make([]any, len(t.columns))
	for i, col := range t.columns {
		values[i] = val.Field(t.fieldMap[col]).Interface()
	}
	return values
}

// Insert inserts one item, retrying on transaction conflicts.
func (t *Table[T]) Insert(ctx context.Context, item *T) error {
	query := t.insertQuery()
	values := t.values(item)
	return retry.Do(ctx, conflictRetry, func() error {
		_, err := t.db.ExecContext(ctx, query, values...)
		return err
	}, isTransactionConflict)
}

// BatchInsert inserts items through one prepared statement. When the table
// is bound to a *sql.DB the batch runs in its own transaction; when bound
// to a *sql.Tx the caller owns commit and rollback.
func (t *Table[T]) BatchInsert(ctx context.Context, items []*T) error {
	if len(items) == 0 {
		return nil
	}

	var tx *sql.Tx
	owned := false
	switch d := t.db.(type) {
	case *sql.Tx:
		tx = d
	case Beginner:
		var err error
		if tx, err = d.BeginTx(ctx, nil); err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		owned = true
	default:
		return fmt.Errorf("unsupported Execer type for BatchInsert: %T", t.db)
	}

	err := t.execBatch(ctx, tx, items)
	if owned {
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if err = tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
	return err
}

func (t *Table[T]) execBatch(ctx context.Context, tx *sql.Tx, items []*T) error {
	stmt, err := tx.PrepareContext(ctx, t.insertQuery())
	if err != nil {
		return fmt.Errorf("prepare stmt: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, item := range items {
		if _, err := stmt.ExecContext(ctx, t.values(item)...); err != nil {
			return fmt.Errorf("batch exec: %w", err)
		}
	}
	return nil
}

// DeleteAll removes every row of the table.
func (t *Table[T]) DeleteAll(ctx context.Context) error {
	// #nosec G201 - table name comes from the caller, not user input.
	query := fmt.Sprintf("DELETE FROM %s", t.tableName)
	return retry.Do(ctx, conflictRetry, func() error {
		_, err := t.db.ExecContext(ctx, query)
		return err
	}, isTransactionConflict)
}

// List retrieves items matching simple "column = value" filters, ordered by
// the given columns. Unknown filter or order columns are rejected.
func (t *Table[T]) List(ctx context.Context, filters map[string]any, orderBy ...string) ([]*T, error) {
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(t.columns, ", "), t.tableName)

	var args []any
	if len(filters) > 0 {
		clauses := make([]string, 0, len(filters))
		for _, col := range t.columns {
			val, ok := filters[col]
			if !ok {
				continue
			}
			clauses = append(clauses, col+" = ?")
			args = append(args, val)
		}
		if len(clauses) != len(filters) {
			return nil, fmt.Errorf("filter on unknown column of %s", t.tableName)
		}
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	if len(orderBy) > 0 {
		for _, col := range orderBy {
			if _, ok := t.fieldMap[col]; !ok {
				return nil, fmt.Errorf("order by unknown column %q of %s", col, t.tableName)
			}
		}
		query += " ORDER BY " + strings.Join(orderBy, ", ")
	}

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []*T
	for rows.Next() {
		item, err := t.scanRows(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// scanRows scans the current row from rows into T.
func (t *Table[T]) scanRows(rows *sql.Rows) (*T, error) {
	var item T
	val := reflect.ValueOf(&item).Elem()
	dest := make([]any, len(t.columns))
	for i, col := range t.columns {
		dest[i] = val.Field(t.fieldMap[col]).Addr().Interface()
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}
	return &item, nil
}

func isTransactionConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Conflict on update") ||
		strings.Contains(msg, "TransactionContext Error") ||
		strings.Contains(msg, "serialization")
}
