// Package transfer moves table data from the PostgreSQL source into the
// SQL Server destination, one table per call, each in its own transaction.
package transfer

import (
	"context"
	"database/sql"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/johndauphine/pg-mssql-migrate/internal/catalog"
	"github.com/johndauphine/pg-mssql-migrate/internal/ddl"
	"github.com/johndauphine/pg-mssql-migrate/internal/driver"
	"github.com/johndauphine/pg-mssql-migrate/internal/driver/postgres"
	"github.com/johndauphine/pg-mssql-migrate/internal/logging"
	"github.com/johndauphine/pg-mssql-migrate/internal/progress"
	"github.com/johndauphine/pg-mssql-migrate/internal/report"
	"github.com/johndauphine/pg-mssql-migrate/internal/target"
)

// DefaultBulkTimeout bounds a single table's load.
const DefaultBulkTimeout = 5 * time.Minute

// Querier reads from the source. *sql.DB satisfies it.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// LoaderFactory builds the destination loader for one table.
type LoaderFactory func(opts target.LoaderOptions, preserveIdentity bool) target.Loader

// Options controls data movement.
type Options struct {
	ChunkSize    int           // rows read and written per batch
	RowsPerBatch int           // bulk copy batch hint
	BulkTimeout  time.Duration // bound on one table's whole load

	// RegenerateIdentity bulk copies identity tables too, letting the
	// destination assign new identity values.
	RegenerateIdentity bool
}

// Stats tracks where a table's load spent its time.
type Stats struct {
	QueryTime time.Duration
	ScanTime  time.Duration
	WriteTime time.Duration
	Rows      int64
}

func (s *Stats) String() string {
	total := s.QueryTime + s.ScanTime + s.WriteTime
	if total == 0 {
		return "no data"
	}
	return fmt.Sprintf("query=%.1fs (%.0f%%), scan=%.1fs (%.0f%%), write=%.1fs (%.0f%%), rows=%d",
		s.QueryTime.Seconds(), float64(s.QueryTime)/float64(total)*100,
		s.ScanTime.Seconds(), float64(s.ScanTime)/float64(total)*100,
		s.WriteTime.Seconds(), float64(s.WriteTime)/float64(total)*100,
		s.Rows)
}

// Mover copies table data. It is safe for concurrent use by multiple
// workers; each MoveTable call uses its own source query and destination
// transaction.
type Mover struct {
	source    Querier
	planner   *ddl.Planner
	dialect   driver.Dialect
	opts      Options
	sink      progress.Sink
	newLoader LoaderFactory
}

// NewMover creates a mover that loads into dest with the standard loaders.
func NewMover(source Querier, dest *sql.DB, planner *ddl.Planner, opts Options, sink progress.Sink) *Mover {
	return NewMoverWithLoaders(source, planner, opts, sink, func(lo target.LoaderOptions, preserveIdentity bool) target.Loader {
		return target.NewLoader(dest, lo, preserveIdentity)
	})
}

// NewMoverWithLoaders creates a mover with a custom loader factory.
func NewMoverWithLoaders(source Querier, planner *ddl.Planner, opts Options, sink progress.Sink, newLoader LoaderFactory) *Mover {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 10000
	}
	if opts.BulkTimeout <= 0 {
		opts.BulkTimeout = DefaultBulkTimeout
	}
	if sink == nil {
		sink = progress.NullSink{}
	}
	return &Mover{
		source:    source,
		planner:   planner,
		dialect:   &postgres.Dialect{},
		opts:      opts,
		sink:      sink,
		newLoader: newLoader,
	}
}

// MoveTable copies every row of t into its destination table. Failures of
// any kind are returned in the outcome, never as an error or panic; a failed
// table leaves no rows behind.
func (m *Mover) MoveTable(ctx context.Context, t catalog.TableDescriptor) (outcome report.TableOutcome) {
	start := time.Now()
	outcome = report.TableOutcome{Namespace: t.Namespace, Table: t.Name}
	m.sink.Emit(progress.Event{Time: start, Kind: progress.KindTableStarted, Namespace: t.Namespace, Object: t.Name})

	defer func() {
		if r := recover(); r != nil {
			logging.Error("Panic moving %s: %v\n%s", t.FullName(), r, debug.Stack())
			outcome.Succeeded = false
			outcome.Rows = 0
			outcome.Error = fmt.Sprintf("panic: %v", r)
		}
		outcome.Duration = time.Since(start)
		m.finish(outcome)
	}()

	stats, err := m.move(ctx, t)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}
	outcome.Succeeded = true
	outcome.Rows = stats.Rows
	logging.Debug("%s: %s", t.FullName(), stats)
	return outcome
}

func (m *Mover) finish(o report.TableOutcome) {
	e := progress.Event{
		Time:      time.Now(),
		Namespace: o.Namespace,
		Object:    o.Table,
		Rows:      o.Rows,
		Duration:  o.Duration,
	}
	if o.Succeeded {
		e.Kind = progress.KindTableSucceeded
		logging.Info("Moved %s.%s: %d rows in %s", o.Namespace, o.Table, o.Rows, o.Duration.Round(time.Millisecond))
	} else {
		e.Kind = progress.KindTableFailed
		e.Error = o.Error
		logging.Error("Failed to move %s.%s: %s", o.Namespace, o.Table, o.Error)
	}
	m.sink.Emit(e)
}

// chunkResult is one batch handed from the reader to the writer.
type chunkResult struct {
	rows     [][]any
	scanTime time.Duration
	err      error
}

func (m *Mover) move(ctx context.Context, t catalog.TableDescriptor) (*Stats, error) {
	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("%s has no columns", t.FullName())
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.BulkTimeout)
	defer cancel()

	cols := t.ColumnNames()
	coercer := target.NewCoercer(m.planner.ColumnTypes(t))
	preserveIdentity := t.HasIdentity() && !m.opts.RegenerateIdentity
	rowsPerBatch := m.opts.RowsPerBatch
	if rowsPerBatch <= 0 {
		rowsPerBatch = m.opts.ChunkSize
	}

	loader := m.newLoader(target.LoaderOptions{
		Namespace:    m.planner.DestinationName(t.Namespace),
		Table:        t.Name,
		Columns:      cols,
		RowsPerBatch: rowsPerBatch,
	}, preserveIdentity)

	if err := loader.Begin(ctx); err != nil {
		return nil, timeoutAware(ctx, err, m.opts.BulkTimeout)
	}
	committed := false
	defer func() {
		if !committed {
			if err := loader.Rollback(); err != nil {
				logging.Debug("Rollback of %s: %v", t.FullName(), err)
			}
		}
	}()

	stats := &Stats{}
	queryStart := time.Now()
	query := fmt.Sprintf("SELECT %s FROM %s",
		driver.ColumnList(m.dialect, cols), m.dialect.QualifyTable(t.Namespace, t.Name))
	rows, err := m.source.QueryContext(ctx, query)
	if err != nil {
		return nil, timeoutAware(ctx, fmt.Errorf("reading %s: %w", t.FullName(), err), m.opts.BulkTimeout)
	}
	stats.QueryTime = time.Since(queryStart)

	readCtx, stopReading := context.WithCancel(ctx)
	chunks := make(chan chunkResult, 1)
	go m.read(readCtx, rows, len(cols), coercer, chunks)
	defer func() {
		stopReading()
		for range chunks {
		}
	}()

	for chunk := range chunks {
		if chunk.err != nil {
			return nil, timeoutAware(ctx, fmt.Errorf("reading %s: %w", t.FullName(), chunk.err), m.opts.BulkTimeout)
		}
		stats.ScanTime += chunk.scanTime

		writeStart := time.Now()
		if err := loader.Write(ctx, chunk.rows); err != nil {
			return nil, timeoutAware(ctx, err, m.opts.BulkTimeout)
		}
		stats.WriteTime += time.Since(writeStart)
		stats.Rows += int64(len(chunk.rows))

		m.sink.Emit(progress.Event{
			Time:      time.Now(),
			Kind:      progress.KindRowsCopied,
			Namespace: t.Namespace,
			Object:    t.Name,
			Rows:      int64(len(chunk.rows)),
		})
	}

	commitStart := time.Now()
	if err := loader.Commit(ctx); err != nil {
		return nil, timeoutAware(ctx, err, m.opts.BulkTimeout)
	}
	committed = true
	stats.WriteTime += time.Since(commitStart)
	return stats, nil
}

// read scans rows into coerced chunks until the result set ends, an error
// occurs, or ctx is cancelled. It always closes rows and out.
func (m *Mover) read(ctx context.Context, rows *sql.Rows, numCols int, coercer *target.Coercer, out chan<- chunkResult) {
	defer close(out)
	defer rows.Close()

	send := func(c chunkResult) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}
	defer func() {
		if r := recover(); r != nil {
			send(chunkResult{err: fmt.Errorf("panic while reading: %v", r)})
		}
	}()

	ptrs := make([]any, numCols)
	batch := make([][]any, 0, m.opts.ChunkSize)
	scanStart := time.Now()
	var n int64
	for rows.Next() {
		n++
		row := make([]any, numCols)
		for i := range row {
			ptrs[i] = &row[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			send(chunkResult{err: err})
			return
		}
		if _, err := coercer.Row(row); err != nil {
			send(chunkResult{err: fmt.Errorf("converting row %d: %w", n, err)})
			return
		}
		batch = append(batch, row)

		if len(batch) >= m.opts.ChunkSize {
			if !send(chunkResult{rows: batch, scanTime: time.Since(scanStart)}) {
				return
			}
			batch = make([][]any, 0, m.opts.ChunkSize)
			scanStart = time.Now()
		}
	}
	if err := rows.Err(); err != nil {
		send(chunkResult{err: err})
		return
	}
	if len(batch) > 0 {
		send(chunkResult{rows: batch, scanTime: time.Since(scanStart)})
	}
}

// timeoutAware rewrites errors caused by the table's deadline so the
// outcome says what happened.
func timeoutAware(ctx context.Context, err error, limit time.Duration) error {
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%s: load exceeded %s: %w", target.ClassTimeout, limit, err)
	}
	return err
}
