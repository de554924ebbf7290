// Package catalog reads namespaces, tables, columns and foreign keys from a
// PostgreSQL information_schema.
package catalog

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DefaultSuffix is appended to a source namespace name to form its destination name.
const DefaultSuffix = "_new"

// Namespace pairs a source namespace with the destination namespace it maps to.
type Namespace struct {
	SourceName      string
	DestinationName string
}

// NewNamespace derives the destination name by appending suffix.
func NewNamespace(source, suffix string) Namespace {
	return Namespace{SourceName: source, DestinationName: source + suffix}
}

// ColumnDescriptor is one column as reported by information_schema.columns.
type ColumnDescriptor struct {
	Name            string
	SourceType      string // data_type, e.g. "integer", "character varying", "ARRAY"
	UDTName         string // udt_name, e.g. "int4", "varchar", "_text"
	Nullable        bool
	IsPrimaryKey    bool
	PrimaryKeyOrder int // 1-based position inside the primary key, 0 when not a key column
	IsIdentity      bool
	IdentityStart   string // raw catalog text; empty for serial columns
	IdentityStep    string
	Default         string
	OrdinalPosition int
	MaxLength       int64
	Precision       int64
	Scale           int64
}

// Identity returns the seed and increment of an identity column. Serial
// columns report no values in the catalog and default to 1, 1.
func (c ColumnDescriptor) Identity() (start, increment int64, err error) {
	start, increment = 1, 1
	if s := strings.TrimSpace(c.IdentityStart); s != "" {
		if start, err = strconv.ParseInt(s, 10, 64); err != nil {
			return 0, 0, fmt.Errorf("column %s: identity start %q is not an integer", c.Name, c.IdentityStart)
		}
	}
	if s := strings.TrimSpace(c.IdentityStep); s != "" {
		if increment, err = strconv.ParseInt(s, 10, 64); err != nil {
			return 0, 0, fmt.Errorf("column %s: identity increment %q is not an integer", c.Name, c.IdentityStep)
		}
	}
	return start, increment, nil
}

// ForeignKeyDescriptor is one foreign key constraint. Columns and RefColumns
// are paired by position.
type ForeignKeyDescriptor struct {
	ConstraintName string
	Namespace      string
	Table          string
	Columns        []string
	RefNamespace   string
	RefTable       string
	RefColumns     []string
	OnUpdate       string // NO ACTION, RESTRICT, CASCADE, SET NULL or SET DEFAULT
	OnDelete       string // same values as OnUpdate
}

// TableDescriptor is one base table with its columns in catalog order.
type TableDescriptor struct {
	Namespace   string
	Name        string
	Columns     []ColumnDescriptor
	ForeignKeys []ForeignKeyDescriptor
}

// FullName returns namespace.table for logs and reports.
func (t TableDescriptor) FullName() string {
	return t.Namespace + "." + t.Name
}

// PrimaryKey returns the key columns in key order.
func (t TableDescriptor) PrimaryKey() []string {
	var keyCols []ColumnDescriptor
	for _, c := range t.Columns {
		if c.IsPrimaryKey {
			keyCols = append(keyCols, c)
		}
	}
	sort.SliceStable(keyCols, func(i, j int) bool {
		return keyCols[i].PrimaryKeyOrder < keyCols[j].PrimaryKeyOrder
	})
	names := make([]string, len(keyCols))
	for i, c := range keyCols {
		names[i] = c.Name
	}
	return names
}

// HasIdentity reports whether any column is an identity column.
func (t TableDescriptor) HasIdentity() bool {
	for _, c := range t.Columns {
		if c.IsIdentity {
			return true
		}
	}
	return false
}

// ColumnNames returns the column names in catalog order.
func (t TableDescriptor) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}
