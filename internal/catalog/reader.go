package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/johndauphine/pg-mssql-migrate/internal/driver"
	"github.com/johndauphine/pg-mssql-migrate/internal/driver/postgres"
	"github.com/johndauphine/pg-mssql-migrate/internal/logging"
)

// Querier is the subset of *sql.DB the reader needs.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Reader introspects a PostgreSQL database. Every call goes to the server;
// nothing is cached.
type Reader struct {
	db      Querier
	dialect driver.Dialect
}

// NewReader returns a Reader over db.
func NewReader(db Querier) *Reader {
	return &Reader{db: db, dialect: &postgres.Dialect{}}
}

var systemNamespaces = map[string]bool{
	"information_schema": true,
	"pg_catalog":         true,
	"pg_toast":           true,
}

// IsSystemNamespace reports whether name is a PostgreSQL internal namespace:
// information_schema, pg_catalog, pg_toast or any per-session temp namespace.
func IsSystemNamespace(name string) bool {
	if systemNamespaces[name] {
		return true
	}
	return strings.HasPrefix(name, "pg_temp_") || strings.HasPrefix(name, "pg_toast_temp_")
}

const listNamespacesQuery = `
	SELECT schema_name
	FROM information_schema.schemata
	ORDER BY schema_name`

// ListNamespaces returns every user namespace in name order.
func (r *Reader) ListNamespaces(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, listNamespacesQuery)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing namespaces: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("catalog: scanning namespace: %w", err)
		}
		if IsSystemNamespace(name) {
			continue
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: listing namespaces: %w", err)
	}
	return names, nil
}

const listTablesQuery = `
	SELECT table_name
	FROM information_schema.tables
	WHERE table_schema = $1 AND table_type = 'BASE TABLE'
	ORDER BY table_name`

// ListTables returns the base tables of a namespace in name order. Views
// and foreign tables are excluded.
func (r *Reader) ListTables(ctx context.Context, namespace string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, listTablesQuery, namespace)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing tables in %s: %w", namespace, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("catalog: scanning table: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: listing tables in %s: %w", namespace, err)
	}
	return names, nil
}

const describeColumnsQuery = `
	SELECT
		c.column_name,
		c.data_type,
		c.udt_name,
		c.is_nullable = 'YES',
		c.is_identity = 'YES' OR COALESCE(c.column_default, '') LIKE 'nextval(%',
		COALESCE(c.identity_start, ''),
		COALESCE(c.identity_increment, ''),
		COALESCE(c.column_default, ''),
		c.ordinal_position,
		COALESCE(c.character_maximum_length, 0),
		COALESCE(c.numeric_precision, 0),
		COALESCE(c.numeric_scale, 0),
		COALESCE(pk.ordinal_position, 0)
	FROM information_schema.columns c
	LEFT JOIN (
		SELECT kcu.column_name, kcu.ordinal_position
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON kcu.constraint_schema = tc.constraint_schema
			AND kcu.constraint_name = tc.constraint_name
			AND kcu.table_schema = tc.table_schema
			AND kcu.table_name = tc.table_name
		WHERE tc.constraint_type = 'PRIMARY KEY'
			AND tc.table_schema = $1
			AND tc.table_name = $2
	) pk ON pk.column_name = c.column_name
	WHERE c.table_schema = $1 AND c.table_name = $2
	ORDER BY c.ordinal_position`

// DescribeColumns returns the columns of a table in ordinal order, with
// primary key membership resolved from the table's PRIMARY KEY constraint.
func (r *Reader) DescribeColumns(ctx context.Context, namespace, table string) ([]ColumnDescriptor, error) {
	rows, err := r.db.QueryContext(ctx, describeColumnsQuery, namespace, table)
	if err != nil {
		return nil, fmt.Errorf("catalog: describing columns of %s.%s: %w", namespace, table, err)
	}
	defer rows.Close()

	var cols []ColumnDescriptor
	for rows.Next() {
		var c ColumnDescriptor
		if err := rows.Scan(&c.Name, &c.SourceType, &c.UDTName, &c.Nullable, &c.IsIdentity,
			&c.IdentityStart, &c.IdentityStep, &c.Default, &c.OrdinalPosition,
			&c.MaxLength, &c.Precision, &c.Scale, &c.PrimaryKeyOrder); err != nil {
			return nil, fmt.Errorf("catalog: scanning column of %s.%s: %w", namespace, table, err)
		}
		c.IsPrimaryKey = c.PrimaryKeyOrder > 0
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: describing columns of %s.%s: %w", namespace, table, err)
	}
	return cols, nil
}

// describeForeignKeysQuery reads pg_constraint by the owning relation.
// Constraint names are only unique per table, so information_schema joins
// on (schema, name) would mix keys of different tables that share a name.
// conkey and confkey are unnested together to pair columns in key order.
const describeForeignKeysQuery = `
	SELECT
		con.conname,
		att.attname,
		refns.nspname,
		reftbl.relname,
		refatt.attname,
		CASE con.confupdtype
			WHEN 'c' THEN 'CASCADE' WHEN 'n' THEN 'SET NULL' WHEN 'd' THEN 'SET DEFAULT'
			WHEN 'r' THEN 'RESTRICT' ELSE 'NO ACTION' END,
		CASE con.confdeltype
			WHEN 'c' THEN 'CASCADE' WHEN 'n' THEN 'SET NULL' WHEN 'd' THEN 'SET DEFAULT'
			WHEN 'r' THEN 'RESTRICT' ELSE 'NO ACTION' END
	FROM pg_catalog.pg_constraint con
	JOIN pg_catalog.pg_class tbl ON tbl.oid = con.conrelid
	JOIN pg_catalog.pg_namespace ns ON ns.oid = tbl.relnamespace
	JOIN pg_catalog.pg_class reftbl ON reftbl.oid = con.confrelid
	JOIN pg_catalog.pg_namespace refns ON refns.oid = reftbl.relnamespace
	CROSS JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS k(attnum, refattnum, pos)
	JOIN pg_catalog.pg_attribute att ON att.attrelid = con.conrelid AND att.attnum = k.attnum
	JOIN pg_catalog.pg_attribute refatt ON refatt.attrelid = con.confrelid AND refatt.attnum = k.refattnum
	WHERE con.contype = 'f'
		AND ns.nspname = $1
		AND tbl.relname = $2
	ORDER BY con.conname, k.pos`

// DescribeForeignKeys returns the foreign keys declared on a table. A
// multi-column key comes back as one descriptor with paired column lists.
// The referenced table may live in another namespace.
func (r *Reader) DescribeForeignKeys(ctx context.Context, namespace, table string) ([]ForeignKeyDescriptor, error) {
	rows, err := r.db.QueryContext(ctx, describeForeignKeysQuery, namespace, table)
	if err != nil {
		return nil, fmt.Errorf("catalog: describing foreign keys of %s.%s: %w", namespace, table, err)
	}
	defer rows.Close()

	var fks []ForeignKeyDescriptor
	index := make(map[string]int)
	for rows.Next() {
		var name, col, refNS, refTable, refCol, onUpdate, onDelete string
		if err := rows.Scan(&name, &col, &refNS, &refTable, &refCol, &onUpdate, &onDelete); err != nil {
			return nil, fmt.Errorf("catalog: scanning foreign key of %s.%s: %w", namespace, table, err)
		}
		i, seen := index[name]
		if !seen {
			i = len(fks)
			index[name] = i
			fks = append(fks, ForeignKeyDescriptor{
				ConstraintName: name,
				Namespace:      namespace,
				Table:          table,
				RefNamespace:   refNS,
				RefTable:       refTable,
				OnUpdate:       onUpdate,
				OnDelete:       onDelete,
			})
		}
		fks[i].Columns = append(fks[i].Columns, col)
		fks[i].RefColumns = append(fks[i].RefColumns, refCol)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: describing foreign keys of %s.%s: %w", namespace, table, err)
	}
	return fks, nil
}

// Filter decides whether a table takes part in the run.
type Filter func(namespace, table string) bool

// ReadTables describes every table of the given namespaces that passes
// filter (nil keeps everything).
func (r *Reader) ReadTables(ctx context.Context, namespaces []string, filter Filter) ([]TableDescriptor, error) {
	var tables []TableDescriptor
	for _, ns := range namespaces {
		names, err := r.ListTables(ctx, ns)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			if filter != nil && !filter(ns, name) {
				logging.Debug("Skipping %s.%s (filtered)", ns, name)
				continue
			}
			cols, err := r.DescribeColumns(ctx, ns, name)
			if err != nil {
				return nil, err
			}
			fks, err := r.DescribeForeignKeys(ctx, ns, name)
			if err != nil {
				return nil, err
			}
			tables = append(tables, TableDescriptor{
				Namespace:   ns,
				Name:        name,
				Columns:     cols,
				ForeignKeys: fks,
			})
		}
		logging.Debug("Namespace %s: %d tables", ns, len(names))
	}
	return tables, nil
}

// CountRows returns the exact row count of a table.
func (r *Reader) CountRows(ctx context.Context, namespace, table string) (int64, error) {
	query := "SELECT COUNT(*) FROM " + r.dialect.QualifyTable(namespace, table)
	var n int64
	if err := r.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("catalog: counting rows of %s.%s: %w", namespace, table, err)
	}
	return n, nil
}
