package checkpoint

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/johndauphine/pg-mssql-migrate/internal/report"
)

const sqliteTime = "2006-01-02 15:04:05"

// State keeps run history in SQLite.
type State struct {
	db *sql.DB
}

// New opens (creating if needed) the SQLite history database at path.
func New(path string) (*State, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("run store: opening %s: %w", path, err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY between workers.
	db.SetMaxOpenConns(1)

	s := &State{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run store: migrating schema: %w", err)
	}
	return s, nil
}

func (s *State) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		status TEXT NOT NULL DEFAULT 'running',
		phase TEXT NOT NULL DEFAULT '',
		source_db TEXT NOT NULL,
		target_db TEXT NOT NULL,
		config_hash TEXT,
		error_message TEXT
	);

	CREATE TABLE IF NOT EXISTS table_outcomes (
		run_id TEXT NOT NULL REFERENCES runs(id),
		namespace TEXT NOT NULL,
		table_name TEXT NOT NULL,
		succeeded INTEGER NOT NULL,
		error_message TEXT,
		rows_moved INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		recorded_at TEXT NOT NULL,
		PRIMARY KEY (run_id, namespace, table_name)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// CreateRun records the start of a run.
func (s *State) CreateRun(run Run, cfg any) error {
	started := run.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (id, started_at, status, phase, source_db, target_db, config_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, started.UTC().Format(sqliteTime), StatusRunning, run.Phase, run.SourceDB, run.TargetDB, ConfigHash(cfg))
	if err != nil {
		return fmt.Errorf("run store: creating run %s: %w", run.ID, err)
	}
	return nil
}

// UpdatePhase records the orchestrator state a run has reached.
func (s *State) UpdatePhase(runID, phase string) error {
	_, err := s.db.Exec(`UPDATE runs SET phase = ? WHERE id = ?`, phase, runID)
	return err
}

// RecordOutcome stores a table's outcome, replacing an earlier one.
func (s *State) RecordOutcome(runID string, o report.TableOutcome) error {
	_, err := s.db.Exec(`
		INSERT INTO table_outcomes (run_id, namespace, table_name, succeeded, error_message, rows_moved, duration_ms, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(run_id, namespace, table_name) DO UPDATE SET
			succeeded = excluded.succeeded,
			error_message = excluded.error_message,
			rows_moved = excluded.rows_moved,
			duration_ms = excluded.duration_ms,
			recorded_at = excluded.recorded_at
	`, runID, o.Namespace, o.Table, o.Succeeded, o.Error, o.Rows, o.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("run store: recording %s: %w", o.FullName(), err)
	}
	return nil
}

// CompleteRun marks a run finished.
func (s *State) CompleteRun(runID, status, errorMsg string) error {
	_, err := s.db.Exec(`
		UPDATE runs SET status = ?, completed_at = datetime('now'), error_message = ?
		WHERE id = ?
	`, status, errorMsg, runID)
	return err
}

const runColumns = `
	r.id, r.started_at, r.completed_at, r.status, r.phase, r.source_db, r.target_db,
	COALESCE(r.config_hash, ''), COALESCE(r.error_message, ''),
	(SELECT COUNT(*) FROM table_outcomes o WHERE o.run_id = r.id),
	(SELECT COUNT(*) FROM table_outcomes o WHERE o.run_id = r.id AND o.succeeded = 0),
	(SELECT COALESCE(SUM(rows_moved), 0) FROM table_outcomes o WHERE o.run_id = r.id AND o.succeeded = 1)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(sc rowScanner) (*Run, error) {
	var r Run
	var startedAt string
	var completedAt sql.NullString
	if err := sc.Scan(&r.ID, &startedAt, &completedAt, &r.Status, &r.Phase, &r.SourceDB, &r.TargetDB,
		&r.ConfigHash, &r.Error, &r.Tables, &r.Failed, &r.Rows); err != nil {
		return nil, err
	}
	r.StartedAt, _ = time.Parse(sqliteTime, startedAt)
	if completedAt.Valid {
		t, _ := time.Parse(sqliteTime, completedAt.String)
		r.CompletedAt = &t
	}
	return &r, nil
}

// GetRun returns one run.
func (s *State) GetRun(runID string) (*Run, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs r WHERE r.id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound{ID: runID}
	}
	return r, err
}

// ListRuns returns the most recent runs first. A non-positive limit means 20.
func (s *State) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs r ORDER BY r.started_at DESC, r.rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetOutcomes returns a run's table outcomes ordered by namespace and table.
func (s *State) GetOutcomes(runID string) ([]report.TableOutcome, error) {
	if _, err := s.GetRun(runID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`
		SELECT namespace, table_name, succeeded, COALESCE(error_message, ''), rows_moved, duration_ms
		FROM table_outcomes WHERE run_id = ?
		ORDER BY namespace, table_name
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []report.TableOutcome
	for rows.Next() {
		var o report.TableOutcome
		var ms int64
		if err := rows.Scan(&o.Namespace, &o.Table, &o.Succeeded, &o.Error, &o.Rows, &ms); err != nil {
			return nil, err
		}
		o.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, o)
	}
	return out, rows.Err()
}

// CleanupOldRuns deletes finished runs completed before the retention window
// along with their outcomes. Running runs are kept.
func (s *State) CleanupOldRuns(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().Format(sqliteTime)

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM table_outcomes WHERE run_id IN (
			SELECT id FROM runs WHERE status != 'running' AND completed_at < ?
		)
	`, cutoff); err != nil {
		return 0, err
	}
	res, err := tx.Exec(`DELETE FROM runs WHERE status != 'running' AND completed_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, tx.Commit()
}
