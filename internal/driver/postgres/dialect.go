package postgres

import (
	"fmt"

	"github.com/lib/pq"

	"github.com/johndauphine/pg-mssql-migrate/internal/driver"
)

// Dialect implements driver.Dialect for PostgreSQL.
type Dialect struct{}

var _ driver.Dialect = (*Dialect)(nil)

func (d *Dialect) DBType() string { return driver.Postgres }

// QuoteIdentifier delegates to lib/pq, which doubles embedded quotes and
// strips NUL bytes.
func (d *Dialect) QuoteIdentifier(name string) string {
	return pq.QuoteIdentifier(name)
}

func (d *Dialect) QualifyTable(schema, table string) string {
	return d.QuoteIdentifier(schema) + "." + d.QuoteIdentifier(table)
}

func (d *Dialect) ParameterPlaceholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

// MaxIdentifierLength is NAMEDATALEN-1.
func (d *Dialect) MaxIdentifierLength() int { return 63 }
