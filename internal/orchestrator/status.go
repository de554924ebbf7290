package orchestrator

import (
	"fmt"
	"io"
	"time"

	"github.com/johndauphine/pg-mssql-migrate/internal/checkpoint"
	"github.com/johndauphine/pg-mssql-migrate/internal/report"
)

// MigrationResult is the machine-readable summary of a run, printed with
// --output-json.
type MigrationResult struct {
	RunID           string        `json:"run_id"`
	Status          string        `json:"status"`
	StartedAt       time.Time     `json:"started_at"`
	CompletedAt     time.Time     `json:"completed_at,omitempty"`
	DurationSeconds float64       `json:"duration_seconds"`
	TablesTotal     int           `json:"tables_total"`
	TablesSuccess   int           `json:"tables_success"`
	TablesFailed    int           `json:"tables_failed"`
	DDLFailures     int           `json:"ddl_failures,omitempty"`
	RowsTransferred int64         `json:"rows_transferred"`
	RowsPerSecond   int64         `json:"rows_per_second"`
	FailedTables    []string      `json:"failed_tables,omitempty"`
	TableStats      []TableResult `json:"table_stats,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// TableResult is one table's line in a MigrationResult.
type TableResult struct {
	Name   string `json:"name"`
	Rows   int64  `json:"rows"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Result summarises the run so far. runErr is the error Run returned.
func (o *Orchestrator) Result(runErr error) *MigrationResult {
	summary := o.report.Summary()
	status := checkpoint.StatusFor(summary)
	errMsg := ""
	if runErr != nil {
		status = checkpoint.StatusFailed
		errMsg = runErr.Error()
	}
	r := buildResult(o.runID, status, o.started, time.Now(), o.report.Outcomes())
	r.DDLFailures = o.ddlFailures
	r.Error = errMsg
	return r
}

// RunResult rebuilds the result of a recorded run.
func RunResult(store checkpoint.RunStore, runID string) (*MigrationResult, error) {
	run, err := store.GetRun(runID)
	if err != nil {
		return nil, err
	}
	outcomes, err := store.GetOutcomes(runID)
	if err != nil {
		return nil, fmt.Errorf("getting outcomes of run %s: %w", runID, err)
	}

	completed := time.Now()
	if run.CompletedAt != nil {
		completed = *run.CompletedAt
	}
	r := buildResult(run.ID, run.Status, run.StartedAt, completed, outcomes)
	r.Error = run.Error
	return r, nil
}

func buildResult(runID, status string, started, completed time.Time, outcomes []report.TableOutcome) *MigrationResult {
	r := &MigrationResult{
		RunID:       runID,
		Status:      status,
		StartedAt:   started,
		CompletedAt: completed,
		TablesTotal: len(outcomes),
	}
	if !started.IsZero() {
		r.DurationSeconds = completed.Sub(started).Seconds()
	}

	for _, o := range outcomes {
		tr := TableResult{Name: o.FullName(), Rows: o.Rows, Status: "success"}
		if o.Succeeded {
			r.TablesSuccess++
			r.RowsTransferred += o.Rows
		} else {
			tr.Status = "failed"
			tr.Error = o.Error
			r.TablesFailed++
			r.FailedTables = append(r.FailedTables, o.FullName())
		}
		r.TableStats = append(r.TableStats, tr)
	}
	if r.DurationSeconds > 0 {
		r.RowsPerSecond = int64(float64(r.RowsTransferred) / r.DurationSeconds)
	}
	return r
}

// ShowHistory writes the most recent runs, newest first.
func ShowHistory(w io.Writer, store checkpoint.RunStore, limit int) error {
	runs, err := store.ListRuns(limit)
	if err != nil {
		return fmt.Errorf("listing run history: %w", err)
	}

	if len(runs) == 0 {
		fmt.Fprintln(w, "No migration history")
		return nil
	}

	fmt.Fprintf(w, "%-10s %-20s %-20s %-8s %7s %7s %12s\n", "ID", "Started", "Completed", "Status", "Tables", "Failed", "Rows")
	fmt.Fprintln(w, "--------------------------------------------------------------------------------------------")

	for _, r := range runs {
		completed := "-"
		if r.CompletedAt != nil {
			completed = r.CompletedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%-10s %-20s %-20s %-8s %7d %7d %12d\n",
			r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), completed, r.Status, r.Tables, r.Failed, r.Rows)
		if r.Error != "" {
			fmt.Fprintf(w, "           Error: %s\n", r.Error)
		}
	}

	fmt.Fprintln(w, "\nUse 'history --run <ID>' to view a run's tables")
	return nil
}

// ShowRunDetails writes one run and its table outcomes.
func ShowRunDetails(w io.Writer, store checkpoint.RunStore, runID string) error {
	run, err := store.GetRun(runID)
	if err != nil {
		return fmt.Errorf("getting run: %w", err)
	}

	fmt.Fprintf(w, "Run ID:        %s\n", run.ID)
	fmt.Fprintf(w, "Status:        %s\n", run.Status)
	fmt.Fprintf(w, "Phase:         %s\n", run.Phase)
	if run.Error != "" {
		fmt.Fprintf(w, "Error:         %s\n", run.Error)
	}
	fmt.Fprintf(w, "Started:       %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
	if run.CompletedAt != nil {
		fmt.Fprintf(w, "Completed:     %s\n", run.CompletedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(w, "Duration:      %s\n", run.CompletedAt.Sub(run.StartedAt).Round(time.Second))
	}
	if run.SourceDB != "" || run.TargetDB != "" {
		fmt.Fprintf(w, "Databases:     %s -> %s\n", run.SourceDB, run.TargetDB)
	}
	if run.ConfigHash != "" {
		fmt.Fprintf(w, "Config hash:   %s\n", run.ConfigHash)
	}

	outcomes, err := store.GetOutcomes(run.ID)
	if err != nil {
		return fmt.Errorf("getting outcomes: %w", err)
	}
	if len(outcomes) == 0 {
		return nil
	}

	fmt.Fprintf(w, "\nTables: %d total, %d failed, %d rows\n", run.Tables, run.Failed, run.Rows)
	for _, o := range outcomes {
		statusIcon := "✓"
		if !o.Succeeded {
			statusIcon = "✗"
		}
		fmt.Fprintf(w, "%-40s %s %12d %10s %s\n",
			o.FullName(), statusIcon, o.Rows, o.Duration.Round(time.Millisecond), o.Error)
	}
	return nil
}
