package target

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	mssql "github.com/microsoft/go-mssqldb"

	"github.com/johndauphine/pg-mssql-migrate/internal/driver"
	mssqldialect "github.com/johndauphine/pg-mssql-migrate/internal/driver/mssql"
	"github.com/johndauphine/pg-mssql-migrate/internal/logging"
)

// SQL Server limits for a single parameterised INSERT.
const (
	maxParams          = 2100
	maxRowConstructors = 1000
)

// Loader writes one table's rows inside a single destination transaction.
// Begin must be called first; every Write becomes visible only on Commit,
// and Rollback discards everything written.
type Loader interface {
	Begin(ctx context.Context) error
	Write(ctx context.Context, rows [][]any) error
	Commit(ctx context.Context) error
	Rollback() error
}

// LoaderOptions configures a loader for one destination table.
type LoaderOptions struct {
	Namespace    string
	Table        string
	Columns      []string
	RowsPerBatch int // bulk copy batch hint
}

func (o LoaderOptions) qualified() string {
	return (&mssqldialect.Dialect{}).QualifyTable(o.Namespace, o.Table)
}

// NewLoader picks the bulk copy path, or the explicit INSERT path when the
// table's identity values must be preserved.
func NewLoader(db *sql.DB, opts LoaderOptions, preserveIdentity bool) Loader {
	if preserveIdentity {
		return NewInsertLoader(db, opts)
	}
	return NewBulkLoader(db, opts)
}

// BulkLoader streams rows with the TDS bulk copy protocol. Bulk copy skips
// constraint checks by default, so load order between tables does not matter.
type BulkLoader struct {
	db   *sql.DB
	opts LoaderOptions
	tx   *sql.Tx
	stmt *sql.Stmt
}

// NewBulkLoader creates a bulk copy loader.
func NewBulkLoader(db *sql.DB, opts LoaderOptions) *BulkLoader {
	return &BulkLoader{db: db, opts: opts}
}

// Begin opens the transaction and the bulk copy statement.
func (l *BulkLoader) Begin(ctx context.Context) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	bulkOpts := mssql.BulkOptions{
		Tablock:      true,
		RowsPerBatch: l.opts.RowsPerBatch,
	}
	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(l.opts.qualified(), bulkOpts, l.opts.Columns...))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing bulk copy: %w", Describe(err))
	}
	l.tx, l.stmt = tx, stmt
	return nil
}

// Write queues rows for the bulk copy.
func (l *BulkLoader) Write(ctx context.Context, rows [][]any) error {
	for _, row := range rows {
		if _, err := l.stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("bulk copy row: %w", Describe(err))
		}
	}
	return nil
}

// Commit flushes the bulk copy and commits.
func (l *BulkLoader) Commit(ctx context.Context) error {
	if _, err := l.stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("flushing bulk copy: %w", Describe(err))
	}
	if err := l.stmt.Close(); err != nil {
		return fmt.Errorf("closing bulk copy: %w", Describe(err))
	}
	l.stmt = nil
	if err := l.tx.Commit(); err != nil {
		return fmt.Errorf("committing bulk copy: %w", Describe(err))
	}
	l.tx = nil
	return nil
}

// Rollback abandons the load. It is safe to call after Commit.
func (l *BulkLoader) Rollback() error {
	if l.stmt != nil {
		l.stmt.Close()
		l.stmt = nil
	}
	if l.tx == nil {
		return nil
	}
	err := l.tx.Rollback()
	l.tx = nil
	return err
}

// InsertLoader writes rows with multi-row INSERT statements while
// IDENTITY_INSERT is on, so source identity values are kept. Constraint
// checking is suspended on the table for the duration of the load.
type InsertLoader struct {
	db      *sql.DB
	opts    LoaderOptions
	dialect driver.Dialect
	conn    *sql.Conn
	tx      *sql.Tx
	prefix  string
}

// NewInsertLoader creates an identity preserving loader.
func NewInsertLoader(db *sql.DB, opts LoaderOptions) *InsertLoader {
	return &InsertLoader{db: db, opts: opts, dialect: &mssqldialect.Dialect{}}
}

// Begin pins a connection, since IDENTITY_INSERT is a session setting, and
// opens the transaction on it.
func (l *InsertLoader) Begin(ctx context.Context) error {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		conn.Close()
		return fmt.Errorf("beginning transaction: %w", err)
	}
	l.conn, l.tx = conn, tx

	table := l.opts.qualified()
	for _, stmt := range []string{
		"ALTER TABLE " + table + " NOCHECK CONSTRAINT ALL",
		"SET IDENTITY_INSERT " + table + " ON",
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			l.Rollback()
			return fmt.Errorf("preparing %s: %w", table, Describe(err))
		}
	}
	l.prefix = fmt.Sprintf("INSERT INTO %s (%s) VALUES ", table, driver.ColumnList(l.dialect, l.opts.Columns))
	return nil
}

// BatchSize returns the number of rows per INSERT statement.
func (l *InsertLoader) BatchSize() int {
	return insertBatchSize(len(l.opts.Columns))
}

func insertBatchSize(columns int) int {
	if columns <= 0 {
		return 1
	}
	n := (maxParams - 1) / columns
	if n > maxRowConstructors {
		n = maxRowConstructors
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Write inserts rows in parameter-limited batches.
func (l *InsertLoader) Write(ctx context.Context, rows [][]any) error {
	size := l.BatchSize()
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		query, args := l.buildInsert(rows[start:end])
		if _, err := l.tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("inserting rows %d-%d: %w", start+1, end, Describe(err))
		}
	}
	return nil
}

func (l *InsertLoader) buildInsert(rows [][]any) (string, []any) {
	cols := len(l.opts.Columns)
	args := make([]any, 0, len(rows)*cols)
	var sb strings.Builder
	sb.WriteString(l.prefix)
	for r, row := range rows {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for c := 0; c < cols; c++ {
			if c > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(l.dialect.ParameterPlaceholder(len(args) + 1))
			args = append(args, row[c])
		}
		sb.WriteByte(')')
	}
	return sb.String(), args
}

// Commit restores the session and constraint settings and commits.
// Re-enabling constraints does not revalidate rows already loaded.
func (l *InsertLoader) Commit(ctx context.Context) error {
	table := l.opts.qualified()
	for _, stmt := range []string{
		"SET IDENTITY_INSERT " + table + " OFF",
		"ALTER TABLE " + table + " CHECK CONSTRAINT ALL",
	} {
		if _, err := l.tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("finishing %s: %w", table, Describe(err))
		}
	}
	if err := l.tx.Commit(); err != nil {
		return fmt.Errorf("committing inserts: %w", Describe(err))
	}
	l.tx = nil
	return l.release()
}

// Rollback abandons the load and returns the connection with
// IDENTITY_INSERT switched off.
func (l *InsertLoader) Rollback() error {
	var err error
	if l.tx != nil {
		err = l.tx.Rollback()
		l.tx = nil
		if l.conn != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if _, offErr := l.conn.ExecContext(ctx, "SET IDENTITY_INSERT "+l.opts.qualified()+" OFF"); offErr != nil {
				logging.Debug("Resetting IDENTITY_INSERT on %s: %v", l.opts.qualified(), offErr)
			}
			cancel()
		}
	}
	if relErr := l.release(); err == nil {
		err = relErr
	}
	return err
}

func (l *InsertLoader) release() error {
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}
