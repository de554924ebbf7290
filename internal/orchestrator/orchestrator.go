// Package orchestrator drives one migration run through its states: it
// validates both connections, reads the PostgreSQL catalog, plans and
// applies the SQL Server DDL, moves every table's rows and reports the
// outcome of each table.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/johndauphine/pg-mssql-migrate/internal/catalog"
	"github.com/johndauphine/pg-mssql-migrate/internal/checkpoint"
	"github.com/johndauphine/pg-mssql-migrate/internal/config"
	"github.com/johndauphine/pg-mssql-migrate/internal/ddl"
	"github.com/johndauphine/pg-mssql-migrate/internal/driver"
	"github.com/johndauphine/pg-mssql-migrate/internal/logging"
	"github.com/johndauphine/pg-mssql-migrate/internal/progress"
	"github.com/johndauphine/pg-mssql-migrate/internal/report"
	"github.com/johndauphine/pg-mssql-migrate/internal/target"
	"github.com/johndauphine/pg-mssql-migrate/internal/transfer"
)

// ErrAlreadyRun is returned by Run on an orchestrator that has left Idle.
var ErrAlreadyRun = errors.New("orchestrator has already run")

// ConnectionProvider supplies validated connections. It is consulted once
// per side; the orchestrator closes what it was given.
type ConnectionProvider interface {
	OpenSource(ctx context.Context) (*driver.Conn, error)
	OpenDestination(ctx context.Context) (*driver.Conn, error)
}

// Catalog is the part of the source catalog a run reads.
type Catalog interface {
	ListNamespaces(ctx context.Context) ([]string, error)
	ReadTables(ctx context.Context, namespaces []string, filter catalog.Filter) ([]catalog.TableDescriptor, error)
	CountRows(ctx context.Context, namespace, table string) (int64, error)
}

// TableMover moves one table's rows. It reports failure in the outcome.
type TableMover interface {
	MoveTable(ctx context.Context, t catalog.TableDescriptor) report.TableOutcome
}

// Options configures an Orchestrator. Every field is optional.
type Options struct {
	RunID string              // generated when empty
	Store checkpoint.RunStore // run history; nil keeps none
	Sink  progress.Sink

	// NewCatalog and NewMover replace the PostgreSQL catalog reader and the
	// SQL Server data mover.
	NewCatalog func(source *driver.Conn) Catalog
	NewMover   func(source, dest *driver.Conn, planner *ddl.Planner) TableMover
}

// Orchestrator coordinates a migration run.
type Orchestrator struct {
	config   *config.Config
	provider ConnectionProvider
	store    checkpoint.RunStore
	sink     progress.Sink
	runID    string

	newCatalog func(*driver.Conn) Catalog
	newMover   func(source, dest *driver.Conn, planner *ddl.Planner) TableMover

	mu    sync.Mutex
	state State

	source  *driver.Conn
	dest    *driver.Conn
	catalog Catalog

	started     time.Time
	tables      []catalog.TableDescriptor
	plan        *ddl.Plan
	ddlFailures int
	report      *report.Report
}

// New creates an orchestrator in the Idle state.
func New(cfg *config.Config, provider ConnectionProvider, opts Options) (*Orchestrator, error) {
	if cfg == nil {
		return nil, errors.New("orchestrator: nil config")
	}
	if provider == nil {
		return nil, errors.New("orchestrator: nil connection provider")
	}

	o := &Orchestrator{
		config:     cfg,
		provider:   provider,
		store:      opts.Store,
		sink:       opts.Sink,
		runID:      opts.RunID,
		newCatalog: opts.NewCatalog,
		newMover:   opts.NewMover,
		report:     report.New(),
	}
	if o.runID == "" {
		o.runID = uuid.New().String()[:8]
	}
	if o.store == nil {
		o.store = checkpoint.NopStore{}
	}
	if o.sink == nil {
		o.sink = progress.NullSink{}
	}
	if o.newCatalog == nil {
		o.newCatalog = func(src *driver.Conn) Catalog { return catalog.NewReader(src.DB) }
	}
	if o.newMover == nil {
		o.newMover = o.defaultMover
	}
	return o, nil
}

// RunID identifies this run in the history and in progress events.
func (o *Orchestrator) RunID() string { return o.runID }

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Report returns the outcomes recorded so far.
func (o *Orchestrator) Report() *report.Report { return o.report }

// Close releases both connections.
func (o *Orchestrator) Close() error {
	var errs []error
	if o.source != nil {
		errs = append(errs, o.source.Close())
		o.source = nil
	}
	if o.dest != nil {
		errs = append(errs, o.dest.Close())
		o.dest = nil
	}
	return errors.Join(errs...)
}

var applySteps = []struct {
	state State
	phase ddl.Phase
}{
	{ApplyingNamespaces, ddl.PhaseNamespaces},
	{ApplyingTables, ddl.PhaseTables},
	{ApplyingForeignKeys, ddl.PhaseForeignKeys},
}

// Run executes the migration. Table failures do not fail the run; they are
// in the returned report. The error is set only when the run aborted, in
// which case the report holds whatever was attempted.
func (o *Orchestrator) Run(ctx context.Context) (*report.Report, error) {
	o.mu.Lock()
	if o.state != Idle {
		o.mu.Unlock()
		return nil, ErrAlreadyRun
	}
	// Leave Idle under the same lock so a concurrent Run sees ErrAlreadyRun.
	o.state = ValidatingConnections
	o.mu.Unlock()

	o.started = time.Now()
	logging.SetRun(o.runID)
	defer logging.SetRun("")
	logging.Info("Starting migration run %s", o.runID)
	o.emit(progress.Event{Kind: progress.KindRunStarted})

	run := checkpoint.Run{
		ID:        o.runID,
		StartedAt: o.started,
		Status:    checkpoint.StatusRunning,
		Phase:     Idle.String(),
		SourceDB:  o.config.Source.Database,
		TargetDB:  o.config.Target.Database,
	}
	if err := o.store.CreateRun(run, o.config.Sanitized()); err != nil {
		logging.Warn("Failed to record run %s: %v", o.runID, err)
	}

	o.announceState(ValidatingConnections, 0)
	health, err := o.HealthCheck(ctx)
	if err != nil {
		return o.fail(err)
	}
	if err := health.Err(); err != nil {
		return o.fail(err)
	}

	o.setState(ReadingCatalog, 0)
	namespaces, tables, err := o.readCatalog(ctx)
	if err != nil {
		return o.fail(err)
	}
	o.tables = tables

	o.setState(PlanningDdl, 0)
	planner := o.planner()
	plan, err := planner.Plan(namespaces, tables)
	if err != nil {
		return o.fail(fmt.Errorf("planning DDL: %w", err))
	}
	o.plan = plan
	logging.Info("Planned %d statements for %d namespaces and %d tables", plan.Len(), len(namespaces), len(tables))

	applier := target.NewApplier(o.dest.DB, o.config.Migration.DDLTimeout, o.sink)
	for _, step := range applySteps {
		o.setState(step.state, 0)
		res := applier.Apply(ctx, step.phase, plan.Phase(step.phase))
		o.ddlFailures += len(res.Failures)
		if f := res.FirstFailure(); f != nil {
			logging.Warn("%d of %d %s statements failed, first %s: %v",
				len(res.Failures), res.Applied+len(res.Failures), step.phase, f.Statement.Label(), f.Err)
		}
		if err := ctx.Err(); err != nil {
			return o.fail(fmt.Errorf("applying %s: %w", step.phase, err))
		}
	}

	o.setState(MovingData, len(tables))
	o.moveAll(ctx, o.newMover(o.source, o.dest, planner), tables)
	if err := ctx.Err(); err != nil {
		return o.fail(fmt.Errorf("moving data: %w", err))
	}

	o.setState(Reporting, 0)
	summary := o.report.Summary()
	if err := o.store.CompleteRun(o.runID, checkpoint.StatusFor(summary), ""); err != nil {
		logging.Warn("Failed to complete run %s: %v", o.runID, err)
	}
	logging.Info("Migration %s finished: %d/%d tables, %d rows in %s",
		o.runID, summary.Succeeded, summary.Tables, summary.Rows, summary.Elapsed.Round(time.Millisecond))

	o.setState(Done, 0)
	o.finished(summary, "")
	return o.report, nil
}

// Plan reads the source catalog and plans the DDL without touching the
// destination or changing state.
func (o *Orchestrator) Plan(ctx context.Context) (*ddl.Plan, error) {
	if err := o.connectSource(ctx); err != nil {
		return nil, err
	}
	namespaces, tables, err := o.readCatalog(ctx)
	if err != nil {
		return nil, err
	}
	plan, err := o.planner().Plan(namespaces, tables)
	if err != nil {
		return nil, fmt.Errorf("planning DDL: %w", err)
	}
	o.tables = tables
	o.plan = plan
	return plan, nil
}

func (o *Orchestrator) planner() *ddl.Planner {
	return ddl.NewPlanner(ddl.Options{
		Suffix:    o.config.Migration.NamespaceSuffix,
		BareTypes: o.config.Migration.BareTypes,
	})
}

func (o *Orchestrator) defaultMover(source, dest *driver.Conn, planner *ddl.Planner) TableMover {
	return transfer.NewMover(source.DB, dest.DB, planner, transfer.Options{
		ChunkSize:          o.config.Migration.ChunkSize,
		RowsPerBatch:       o.config.Migration.RowsPerBatch,
		BulkTimeout:        o.config.Migration.BulkTimeout,
		RegenerateIdentity: o.config.Migration.RegenerateIdentity,
	}, o.sink)
}

func (o *Orchestrator) connectSource(ctx context.Context) error {
	if o.source != nil {
		return nil
	}
	conn, err := o.provider.OpenSource(ctx)
	if err != nil {
		return err
	}
	o.source = conn
	o.catalog = o.newCatalog(conn)
	return nil
}

func (o *Orchestrator) connect(ctx context.Context) error {
	if err := o.connectSource(ctx); err != nil {
		return err
	}
	if o.dest != nil {
		return nil
	}
	conn, err := o.provider.OpenDestination(ctx)
	if err != nil {
		return err
	}
	o.dest = conn
	return nil
}

func (o *Orchestrator) readCatalog(ctx context.Context) ([]string, []catalog.TableDescriptor, error) {
	namespaces, err := o.catalog.ListNamespaces(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("reading catalog: %w", err)
	}

	filter := catalog.GlobFilter(o.config.Migration.IncludeTables, o.config.Migration.ExcludeTables)
	tables, err := o.catalog.ReadTables(ctx, namespaces, filter)
	if err != nil {
		return nil, nil, fmt.Errorf("reading catalog: %w", err)
	}
	if filter != nil {
		namespaces = namespacesOf(namespaces, tables)
	}

	if len(tables) == 0 {
		logging.Warn("No tables found in %d namespaces", len(namespaces))
	} else {
		logging.Info("Found %d tables in %d namespaces", len(tables), len(namespaces))
	}
	return namespaces, tables, nil
}

// namespacesOf keeps the namespaces that still hold a selected table, in
// catalog order.
func namespacesOf(namespaces []string, tables []catalog.TableDescriptor) []string {
	used := make(map[string]bool, len(namespaces))
	for _, t := range tables {
		used[t.Namespace] = true
	}
	var out []string
	for _, ns := range namespaces {
		if used[ns] {
			out = append(out, ns)
		}
	}
	return out
}

func (o *Orchestrator) setState(s State, total int) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.announceState(s, total)
}

// announceState logs, emits and records a state already set.
func (o *Orchestrator) announceState(s State, total int) {
	logging.Debug("Run %s: %s", o.runID, s)
	o.emit(progress.Event{Kind: progress.KindStateChanged, State: s.String(), Total: total})
	if err := o.store.UpdatePhase(o.runID, s.String()); err != nil {
		logging.Warn("Failed to record phase %s: %v", s, err)
	}
}

func (o *Orchestrator) fail(err error) (*report.Report, error) {
	from := o.State()
	o.setState(Failed, 0)
	logging.Error("Migration %s failed during %s: %v", o.runID, from, err)

	if serr := o.store.CompleteRun(o.runID, checkpoint.StatusFailed, err.Error()); serr != nil {
		logging.Warn("Failed to complete run %s: %v", o.runID, serr)
	}
	o.finished(o.report.Summary(), err.Error())
	return o.report, err
}

func (o *Orchestrator) finished(s report.Summary, errMsg string) {
	o.emit(progress.Event{
		Kind:     progress.KindRunFinished,
		Total:    s.Tables,
		Failed:   s.Failed,
		Rows:     s.Rows,
		Duration: time.Since(o.started),
		Error:    errMsg,
	})
}

func (o *Orchestrator) emit(e progress.Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	e.RunID = o.runID
	o.sink.Emit(e)
}
