package target

import (
	"context"
	"database/sql"
	"fmt"

	mssqldialect "github.com/johndauphine/pg-mssql-migrate/internal/driver/mssql"
)

// RowQuerier runs a query expected to return one row.
type RowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CountRows returns the row count of a destination table.
func CountRows(ctx context.Context, db RowQuerier, namespace, table string) (int64, error) {
	query := "SELECT COUNT_BIG(*) FROM " + (&mssqldialect.Dialect{}).QualifyTable(namespace, table)
	var n int64
	if err := db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting rows of %s.%s: %w", namespace, table, err)
	}
	return n, nil
}
