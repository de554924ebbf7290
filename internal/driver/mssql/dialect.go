package mssql

import (
	"fmt"
	"strings"

	"github.com/johndauphine/pg-mssql-migrate/internal/driver"
)

// Dialect implements driver.Dialect for SQL Server.
type Dialect struct{}

var _ driver.Dialect = (*Dialect)(nil)

func (d *Dialect) DBType() string { return driver.MSSQL }

// QuoteIdentifier brackets name, doubling any closing bracket inside it.
func (d *Dialect) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (d *Dialect) QualifyTable(schema, table string) string {
	return d.QuoteIdentifier(schema) + "." + d.QuoteIdentifier(table)
}

func (d *Dialect) ParameterPlaceholder(index int) string {
	return fmt.Sprintf("@p%d", index)
}

// MaxIdentifierLength is the sysname limit.
func (d *Dialect) MaxIdentifierLength() int { return 128 }
