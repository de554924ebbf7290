// Package typemap translates PostgreSQL column types into SQL Server type literals.
package typemap

import (
	"fmt"
	"strings"
)

// Fallback is used for every type the table does not know.
const Fallback = "NVARCHAR(MAX)"

// SQL Server limits for sized character types.
const (
	maxNVarcharLength = 4000
	maxCharLength     = 8000
	maxDecimalDigits  = 38
)

// Unconstrained numeric has no declared precision; SQL Server would read a
// bare DECIMAL as DECIMAL(18, 0) and drop the fraction.
const unconstrainedDecimal = "DECIMAL(38, 10)"

// aliases maps udt names and alternate spellings to the names used in mappings.
var aliases = map[string]string{
	"bool":         "boolean",
	"int2":         "smallint",
	"int4":         "integer",
	"int":          "integer",
	"int8":         "bigint",
	"float4":       "real",
	"float8":       "double precision",
	"bpchar":       "character",
	"char":         "character",
	"varchar":      "character varying",
	"decimal":      "numeric",
	"varbit":       "bit varying",
	"timestamp":    "timestamp without time zone",
	"timestamptz":  "timestamp with time zone",
	"time":         "time without time zone",
	"timetz":       "time with time zone",
	"serial":       "integer",
	"serial4":      "integer",
	"bigserial":    "bigint",
	"serial8":      "bigint",
	"smallserial":  "smallint",
	"serial2":      "smallint",
	"user-defined": "domain",
	"_text":        "array",
	"_int4":        "array",
}

// mappings is keyed by information_schema data_type names.
var mappings = map[string]string{
	"bigint":                      "BIGINT",
	"integer":                     "INT",
	"smallint":                    "SMALLINT",
	"boolean":                     "BIT",
	"real":                        "REAL",
	"double precision":            "FLOAT",
	"numeric":                     unconstrainedDecimal,
	"money":                       "DECIMAL(19, 4)",
	"character":                   "CHAR",
	"character varying":           "NVARCHAR(MAX)",
	"text":                        "NVARCHAR(MAX)",
	"citext":                      "NVARCHAR(MAX)",
	"date":                        "DATE",
	"time without time zone":      "TIME",
	"time with time zone":         "TIME",
	"timestamp without time zone": "DATETIME2",
	"timestamp with time zone":    "DATETIMEOFFSET",
	"interval":                    "NVARCHAR(100)",
	"uuid":                        "UNIQUEIDENTIFIER",
	"bytea":                       "VARBINARY(MAX)",
	"bit":                         "BIT",
	"bit varying":                 "VARBINARY(MAX)",
	"xml":                         "XML",
	"json":                        "NVARCHAR(MAX)",
	"jsonb":                       "NVARCHAR(MAX)",
	"cidr":                        "NVARCHAR(MAX)",
	"inet":                        "NVARCHAR(MAX)",
	"macaddr":                     "NVARCHAR(MAX)",
	"macaddr8":                    "NVARCHAR(MAX)",
	"tsvector":                    "NVARCHAR(MAX)",
	"tsquery":                     "NVARCHAR(MAX)",
	"array":                       "NVARCHAR(MAX)",
	"domain":                      "NVARCHAR(MAX)",
	"oid":                         "BIGINT",
}

func canonical(sourceType string) string {
	name := strings.ToLower(strings.TrimSpace(sourceType))
	if a, ok := aliases[name]; ok {
		return a
	}
	return name
}

// Lookup returns the mapped type and whether the name was known.
func Lookup(sourceType string) (string, bool) {
	t, ok := mappings[canonical(sourceType)]
	if !ok {
		return Fallback, false
	}
	return t, true
}

// Map returns the SQL Server type for a PostgreSQL type name. It never
// fails: unknown names map to Fallback.
func Map(sourceType string) string {
	t, _ := Lookup(sourceType)
	return t
}

// MapColumn is Map refined by the declared length or precision of a column.
// Zero values mean "not declared" and leave the plain mapping in place.
func MapColumn(sourceType string, maxLength, precision, scale int64) string {
	switch canonical(sourceType) {
	case "character varying":
		if maxLength > 0 && maxLength <= maxNVarcharLength {
			return fmt.Sprintf("NVARCHAR(%d)", maxLength)
		}
	case "character":
		if maxLength > 0 && maxLength <= maxCharLength {
			return fmt.Sprintf("CHAR(%d)", maxLength)
		}
	case "bit":
		if maxLength > 1 {
			return "VARBINARY(MAX)"
		}
	case "numeric":
		if precision > 0 && precision <= maxDecimalDigits && scale >= 0 && scale <= precision {
			return fmt.Sprintf("DECIMAL(%d, %d)", precision, scale)
		}
	}
	return Map(sourceType)
}

// IsText reports whether a destination type stores character data. Loaders
// use it to decide whether raw bytes from the source become strings.
func IsText(destType string) bool {
	t := strings.ToUpper(destType)
	return strings.HasPrefix(t, "NVARCHAR") || strings.HasPrefix(t, "VARCHAR") ||
		strings.HasPrefix(t, "NCHAR") || strings.HasPrefix(t, "CHAR") || t == "XML"
}
