package driver

import "strings"

// Dialect covers the identifier rules of one engine. Values never go through
// a dialect; they are always bound as parameters.
type Dialect interface {
	// DBType returns the engine name ("postgres", "mssql").
	DBType() string

	// QuoteIdentifier quotes a single identifier so that any embedded
	// delimiter is escaped.
	// PostgreSQL: "identifier"
	// MSSQL: [identifier]
	QuoteIdentifier(name string) string

	// QualifyTable returns namespace.table with both parts quoted.
	QualifyTable(schema, table string) string

	// ParameterPlaceholder returns the bind placeholder for a 1-based index.
	// PostgreSQL: $1, $2
	// MSSQL: @p1, @p2
	ParameterPlaceholder(index int) string

	// MaxIdentifierLength is the longest identifier the engine accepts.
	MaxIdentifierLength() int
}

// ColumnList quotes and joins column names with ", ".
func ColumnList(d Dialect, cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.QuoteIdentifier(c)
	}
	return strings.Join(quoted, ", ")
}
