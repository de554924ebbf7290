// Package ddl turns catalog descriptors into ordered SQL Server DDL.
package ddl

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/johndauphine/pg-mssql-migrate/internal/catalog"
	"github.com/johndauphine/pg-mssql-migrate/internal/driver"
	"github.com/johndauphine/pg-mssql-migrate/internal/driver/mssql"
	"github.com/johndauphine/pg-mssql-migrate/internal/logging"
	"github.com/johndauphine/pg-mssql-migrate/internal/typemap"
)

// Planning errors. Any of them aborts the run before DDL is applied.
var (
	ErrEmptyTable         = errors.New("table has no columns")
	ErrNamespaceCollision = errors.New("namespace collision")
	ErrNameCollision      = errors.New("name collision")
	ErrIdentifierTooLong  = errors.New("identifier too long")
	ErrInvalidIdentity    = errors.New("invalid identity definition")
)

// Options controls planning.
type Options struct {
	// Suffix is appended to source namespace names. Empty means catalog.DefaultSuffix.
	Suffix string

	// BareTypes emits the plain type table mapping and ignores declared
	// lengths and precision.
	BareTypes bool
}

// Planner builds a Plan. It is pure: no I/O.
type Planner struct {
	dialect driver.Dialect
	opts    Options
}

// NewPlanner returns a planner that emits SQL Server DDL.
func NewPlanner(opts Options) *Planner {
	if opts.Suffix == "" {
		opts.Suffix = catalog.DefaultSuffix
	}
	return &Planner{dialect: &mssql.Dialect{}, opts: opts}
}

// DestinationName returns the destination namespace for a source namespace.
func (p *Planner) DestinationName(source string) string {
	return source + p.opts.Suffix
}

// Plan produces the three DDL phases for the given namespaces and tables.
// Foreign keys are taken from the table descriptors.
func (p *Planner) Plan(namespaces []string, tables []catalog.TableDescriptor) (*Plan, error) {
	plan := &Plan{}

	destByLower := make(map[string]string, len(namespaces))
	for _, src := range namespaces {
		ns := catalog.NewNamespace(src, p.opts.Suffix)
		if err := p.checkLength("namespace", ns.DestinationName); err != nil {
			return nil, err
		}
		key := strings.ToLower(ns.DestinationName)
		if other, dup := destByLower[key]; dup {
			return nil, fmt.Errorf("ddl planning: %w: source namespaces %q and %q both map to %q",
				ErrNamespaceCollision, other, src, ns.DestinationName)
		}
		destByLower[key] = src
		plan.Namespaces = append(plan.Namespaces, ns)
		plan.CreateNamespaces = append(plan.CreateNamespaces, Statement{
			Phase:     PhaseNamespaces,
			Namespace: ns.DestinationName,
			Object:    ns.DestinationName,
			SQL:       "CREATE SCHEMA " + p.dialect.QuoteIdentifier(ns.DestinationName),
		})
	}

	// Tables and constraints share one object namespace per SQL Server schema.
	objects := make(map[string]string)
	claim := func(schema, name, owner string) error {
		key := strings.ToLower(schema + "." + name)
		if other, dup := objects[key]; dup {
			return fmt.Errorf("ddl planning: %w: %s and %s both need object %s.%s",
				ErrNameCollision, other, owner, schema, name)
		}
		objects[key] = owner
		return nil
	}

	seenTables := make(map[string]string, len(tables))
	for _, t := range tables {
		if _, ok := destByLower[strings.ToLower(p.DestinationName(t.Namespace))]; !ok {
			return nil, fmt.Errorf("ddl planning: table %s belongs to namespace %q which is not being migrated",
				t.FullName(), t.Namespace)
		}
		key := strings.ToLower(t.Namespace + "." + t.Name)
		if other, dup := seenTables[key]; dup {
			return nil, fmt.Errorf("ddl planning: %w: tables %s and %s differ only by case",
				ErrNameCollision, other, t.FullName())
		}
		seenTables[key] = t.FullName()
		if err := claim(p.DestinationName(t.Namespace), t.Name, "table "+t.FullName()); err != nil {
			return nil, err
		}
	}

	for _, t := range tables {
		if len(t.PrimaryKey()) > 0 {
			if err := claim(p.DestinationName(t.Namespace), p.primaryKeyName(t), "primary key of "+t.FullName()); err != nil {
				return nil, err
			}
		}
		stmt, err := p.createTable(t)
		if err != nil {
			return nil, err
		}
		plan.CreateTables = append(plan.CreateTables, stmt)
	}

	for _, t := range tables {
		for _, fk := range t.ForeignKeys {
			stmt, err := p.addForeignKey(t, fk)
			if err != nil {
				return nil, err
			}
			if err := claim(stmt.Namespace, stmt.Object, "foreign key "+fk.ConstraintName+" of "+t.FullName()); err != nil {
				return nil, err
			}
			plan.AddForeignKeys = append(plan.AddForeignKeys, stmt)
		}
	}

	logging.Debug("DDL plan: %d namespaces, %d tables, %d foreign keys",
		len(plan.CreateNamespaces), len(plan.CreateTables), len(plan.AddForeignKeys))
	return plan, nil
}

func (p *Planner) createTable(t catalog.TableDescriptor) (Statement, error) {
	if len(t.Columns) == 0 {
		return Statement{}, fmt.Errorf("ddl planning: %s: %w", t.FullName(), ErrEmptyTable)
	}
	if err := p.checkLength("table", t.Name); err != nil {
		return Statement{}, err
	}

	dest := p.DestinationName(t.Namespace)
	var sb strings.Builder
	fmt.Fprintf(&sb, "CREATE TABLE %s (\n", p.dialect.QualifyTable(dest, t.Name))

	seenCols := make(map[string]bool, len(t.Columns))
	identityUsed := false
	for i, col := range t.Columns {
		if err := p.checkLength("column", col.Name); err != nil {
			return Statement{}, err
		}
		if seenCols[strings.ToLower(col.Name)] {
			return Statement{}, fmt.Errorf("ddl planning: %w: %s has columns differing only by case (%s)",
				ErrNameCollision, t.FullName(), col.Name)
		}
		seenCols[strings.ToLower(col.Name)] = true

		if i > 0 {
			sb.WriteString(",\n")
		}
		fmt.Fprintf(&sb, "    %s %s", p.dialect.QuoteIdentifier(col.Name), p.columnType(t, col))
		if col.Nullable {
			sb.WriteString(" NULL")
		} else {
			sb.WriteString(" NOT NULL")
		}

		if col.IsIdentity {
			start, step, err := col.Identity()
			if err != nil {
				return Statement{}, fmt.Errorf("ddl planning: %s: %w: %v", t.FullName(), ErrInvalidIdentity, err)
			}
			if step == 0 {
				return Statement{}, fmt.Errorf("ddl planning: %s.%s: %w: increment is zero",
					t.FullName(), col.Name, ErrInvalidIdentity)
			}
			// SQL Server allows one identity column per table; later ones keep
			// their values as plain columns.
			if identityUsed {
				logging.Warn("%s.%s: second identity column created without IDENTITY", t.FullName(), col.Name)
			} else {
				fmt.Fprintf(&sb, " IDENTITY(%d,%d)", start, step)
				identityUsed = true
			}
		}
	}

	if pk := t.PrimaryKey(); len(pk) > 0 {
		fmt.Fprintf(&sb, ",\n    CONSTRAINT %s PRIMARY KEY (%s)",
			p.dialect.QuoteIdentifier(p.primaryKeyName(t)),
			driver.ColumnList(p.dialect, pk))
	}
	sb.WriteString("\n)")

	return Statement{
		Phase:     PhaseTables,
		Namespace: dest,
		Object:    t.Name,
		SQL:       sb.String(),
	}, nil
}

// ColumnTypes returns the destination type of every column of t in catalog order.
func (p *Planner) ColumnTypes(t catalog.TableDescriptor) []string {
	types := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		types[i] = p.mapType(col)
	}
	return types
}

func (p *Planner) columnType(t catalog.TableDescriptor, col catalog.ColumnDescriptor) string {
	if _, known := typemap.Lookup(col.SourceType); !known {
		logging.Warn("%s.%s: unmapped type %q, using %s", t.FullName(), col.Name, col.SourceType, typemap.Fallback)
	}
	return p.mapType(col)
}

func (p *Planner) mapType(col catalog.ColumnDescriptor) string {
	if p.opts.BareTypes {
		return typemap.Map(col.SourceType)
	}
	return typemap.MapColumn(col.SourceType, col.MaxLength, col.Precision, col.Scale)
}

func (p *Planner) addForeignKey(t catalog.TableDescriptor, fk catalog.ForeignKeyDescriptor) (Statement, error) {
	if len(fk.Columns) == 0 || len(fk.Columns) != len(fk.RefColumns) {
		return Statement{}, fmt.Errorf("ddl planning: %s: foreign key %s has %d columns but %d referenced columns",
			t.FullName(), fk.ConstraintName, len(fk.Columns), len(fk.RefColumns))
	}

	refNS := fk.RefNamespace
	if refNS == "" {
		refNS = t.Namespace
	}
	dest := p.DestinationName(t.Namespace)
	name := p.foreignKeyName(t, fk)

	sql := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE %s ON UPDATE %s",
		p.dialect.QualifyTable(dest, t.Name),
		p.dialect.QuoteIdentifier(name),
		driver.ColumnList(p.dialect, fk.Columns),
		p.dialect.QualifyTable(p.DestinationName(refNS), fk.RefTable),
		driver.ColumnList(p.dialect, fk.RefColumns),
		referentialAction(fk.OnDelete),
		referentialAction(fk.OnUpdate))

	return Statement{
		Phase:     PhaseForeignKeys,
		Namespace: dest,
		Object:    name,
		SQL:       sql,
	}, nil
}

func (p *Planner) checkLength(kind, name string) error {
	if limit := p.dialect.MaxIdentifierLength(); len([]rune(name)) > limit {
		return fmt.Errorf("ddl planning: %w: %s name %q exceeds %d characters", ErrIdentifierTooLong, kind, name, limit)
	}
	return nil
}

func (p *Planner) primaryKeyName(t catalog.TableDescriptor) string {
	return p.constraintName("PK_" + t.Name)
}

func (p *Planner) foreignKeyName(t catalog.TableDescriptor, fk catalog.ForeignKeyDescriptor) string {
	return p.constraintName("FK_" + t.Name + "_" + fk.ConstraintName)
}

// constraintName fits generated names to the identifier limit. A name cut
// short ends in "_" and eight hex digits of a hash of the full name, so
// names sharing a long prefix stay distinct.
func (p *Planner) constraintName(name string) string {
	r := []rune(name)
	limit := p.dialect.MaxIdentifierLength()
	if len(r) <= limit {
		return name
	}
	h := fnv.New32a()
	h.Write([]byte(name))
	suffix := fmt.Sprintf("_%08x", h.Sum32())
	return string(r[:limit-len(suffix)]) + suffix
}

// referentialAction maps PostgreSQL update/delete rules. RESTRICT has no
// SQL Server equivalent and becomes NO ACTION.
func referentialAction(rule string) string {
	switch strings.ToUpper(strings.TrimSpace(rule)) {
	case "CASCADE":
		return "CASCADE"
	case "SET NULL", "SET_NULL":
		return "SET NULL"
	case "SET DEFAULT", "SET_DEFAULT":
		return "SET DEFAULT"
	default:
		return "NO ACTION"
	}
}
