// Package target writes to the SQL Server destination: DDL statements and
// table data.
package target

import (
	"context"
	"database/sql"
	"time"

	"github.com/johndauphine/pg-mssql-migrate/internal/ddl"
	"github.com/johndauphine/pg-mssql-migrate/internal/logging"
	"github.com/johndauphine/pg-mssql-migrate/internal/progress"
)

// Execer runs a statement without returning rows. *sql.DB satisfies it.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// StatementFailure is a DDL statement the destination rejected.
type StatementFailure struct {
	Statement ddl.Statement
	Err       error
}

// ApplyResult summarises one phase.
type ApplyResult struct {
	Phase    ddl.Phase
	Applied  int
	Failures []StatementFailure
}

// OK reports whether every statement was applied.
func (r ApplyResult) OK() bool { return len(r.Failures) == 0 }

// FirstFailure returns the first failed statement, or nil.
func (r ApplyResult) FirstFailure() *StatementFailure {
	if len(r.Failures) == 0 {
		return nil
	}
	return &r.Failures[0]
}

// Applier executes DDL one statement at a time. Each statement commits on
// its own; a failure is recorded and the next statement still runs.
type Applier struct {
	db      Execer
	timeout time.Duration
	sink    progress.Sink
}

// NewApplier creates an applier. A zero timeout leaves statements bounded
// only by the caller's context.
func NewApplier(db Execer, timeout time.Duration, sink progress.Sink) *Applier {
	if sink == nil {
		sink = progress.NullSink{}
	}
	return &Applier{db: db, timeout: timeout, sink: sink}
}

// Apply runs stmts in order.
func (a *Applier) Apply(ctx context.Context, phase ddl.Phase, stmts []ddl.Statement) ApplyResult {
	result := ApplyResult{Phase: phase}
	for _, stmt := range stmts {
		if err := a.exec(ctx, stmt); err != nil {
			logging.Warn("%s: %s failed: %v", phase, stmt.Label(), err)
			result.Failures = append(result.Failures, StatementFailure{Statement: stmt, Err: err})
			a.sink.Emit(progress.Event{
				Time:      time.Now(),
				Kind:      progress.KindObjectFailed,
				State:     phase.String(),
				Namespace: stmt.Namespace,
				Object:    stmt.Object,
				Error:     err.Error(),
			})
			continue
		}
		result.Applied++
		logging.Debug("%s: applied %s", phase, stmt.Label())
		a.sink.Emit(progress.Event{
			Time:      time.Now(),
			Kind:      progress.KindObjectApplied,
			State:     phase.String(),
			Namespace: stmt.Namespace,
			Object:    stmt.Object,
		})
	}
	logging.Info("Phase %s: %d applied, %d failed", phase, result.Applied, len(result.Failures))
	return result
}

func (a *Applier) exec(ctx context.Context, stmt ddl.Statement) error {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	_, err := a.db.ExecContext(ctx, stmt.SQL)
	return Describe(err)
}
