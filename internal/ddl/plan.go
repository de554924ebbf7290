package ddl

import (
	"fmt"
	"io"

	"github.com/johndauphine/pg-mssql-migrate/internal/catalog"
)

// Phase identifies one of the three ordered DDL phases.
type Phase int

const (
	PhaseNamespaces Phase = iota
	PhaseTables
	PhaseForeignKeys
)

func (p Phase) String() string {
	switch p {
	case PhaseNamespaces:
		return "namespaces"
	case PhaseTables:
		return "tables"
	case PhaseForeignKeys:
		return "foreign_keys"
	default:
		return "unknown"
	}
}

// Statement is a single destination DDL statement.
type Statement struct {
	Phase     Phase
	Namespace string // destination namespace the object lives in
	Object    string // namespace, table or constraint name
	SQL       string
}

// Label returns namespace.object, or just the namespace for CREATE SCHEMA.
func (s Statement) Label() string {
	if s.Phase == PhaseNamespaces {
		return s.Namespace
	}
	return s.Namespace + "." + s.Object
}

// Plan is the full DDL for a run. Phases must be applied in order and each
// phase completely before the next begins.
type Plan struct {
	Namespaces       []catalog.Namespace
	CreateNamespaces []Statement
	CreateTables     []Statement
	AddForeignKeys   []Statement
}

// Phase returns the statements of one phase.
func (p *Plan) Phase(phase Phase) []Statement {
	switch phase {
	case PhaseNamespaces:
		return p.CreateNamespaces
	case PhaseTables:
		return p.CreateTables
	case PhaseForeignKeys:
		return p.AddForeignKeys
	}
	return nil
}

// Len returns the number of statements across all phases.
func (p *Plan) Len() int {
	return len(p.CreateNamespaces) + len(p.CreateTables) + len(p.AddForeignKeys)
}

// Destination returns the destination namespace for a source namespace.
func (p *Plan) Destination(source string) (string, bool) {
	for _, ns := range p.Namespaces {
		if ns.SourceName == source {
			return ns.DestinationName, true
		}
	}
	return "", false
}

// WriteScript writes the plan as a T-SQL script with GO batch separators.
func (p *Plan) WriteScript(w io.Writer) error {
	for _, phase := range []Phase{PhaseNamespaces, PhaseTables, PhaseForeignKeys} {
		stmts := p.Phase(phase)
		if len(stmts) == 0 {
			continue
		}
		if _, err := fmt.Fprintf(w, "-- %s (%d)\n", phase, len(stmts)); err != nil {
			return err
		}
		for _, s := range stmts {
			if _, err := fmt.Fprintf(w, "%s;\nGO\n\n", s.SQL); err != nil {
				return err
			}
		}
	}
	return nil
}
