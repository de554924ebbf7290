package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/johndauphine/pg-mssql-migrate/internal/catalog"
	"github.com/johndauphine/pg-mssql-migrate/internal/logging"
	"github.com/johndauphine/pg-mssql-migrate/internal/report"
)

// moveAll attempts every table exactly once with at most
// migration.workers tables in flight. Each outcome is appended to the
// report and recorded in the run store as it arrives.
func (o *Orchestrator) moveAll(ctx context.Context, mover TableMover, tables []catalog.TableDescriptor) {
	workers := o.config.Migration.Workers
	if workers < 1 {
		workers = 1
	}
	logging.Info("Moving %d tables with %d workers", len(tables), workers)

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for _, t := range tables {
		sem <- struct{}{}
		wg.Add(1)
		go func(t catalog.TableDescriptor) {
			defer wg.Done()
			defer func() { <-sem }()
			o.record(mover.MoveTable(ctx, t))
		}(t)
	}
	wg.Wait()

	o.logPoolStats()
	o.logTransferProfile()
}

func (o *Orchestrator) record(outcome report.TableOutcome) {
	o.report.Append(outcome)
	if err := o.store.RecordOutcome(o.runID, outcome); err != nil {
		logging.Warn("Failed to record outcome of %s: %v", outcome.FullName(), err)
	}
}

func (o *Orchestrator) logPoolStats() {
	if !logging.IsDebug() {
		return
	}

	logging.Debug("\nConnection Pool Usage:")
	logging.Debug("  Source %s", o.source.Stats())
	logging.Debug("  Target %s", o.dest.Stats())
}

// logTransferProfile logs per-table row counts and throughput.
func (o *Orchestrator) logTransferProfile() {
	if !logging.IsDebug() {
		return
	}

	logging.Debug("\nTransfer Profile (per table):")
	logging.Debug("------------------------------")

	var rows int64
	var busy time.Duration
	for _, out := range o.report.Outcomes() {
		status := "ok"
		if !out.Succeeded {
			status = "FAILED"
		}
		logging.Debug("%-40s %-6s rows=%d time=%.1fs (%.0f rows/s)",
			out.FullName(), status, out.Rows, out.Duration.Seconds(), perSecond(out.Rows, out.Duration))
		rows += out.Rows
		busy += out.Duration
	}

	if busy > 0 {
		logging.Debug("------------------------------")
		logging.Debug("%-40s        rows=%d time=%.1fs (%.0f rows/s per worker)",
			"TOTAL", rows, busy.Seconds(), perSecond(rows, busy))
	}
}

func perSecond(rows int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(rows) / d.Seconds()
}
