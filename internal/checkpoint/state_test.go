package checkpoint

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/johndauphine/pg-mssql-migrate/internal/config"
	"github.com/johndauphine/pg-mssql-migrate/internal/report"
)

func newTestState(t *testing.T) *State {
	t.Helper()
	state, err := New(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { state.Close() })
	return state
}

func TestStateRunLifecycle(t *testing.T) {
	state := newTestState(t)

	run := Run{ID: "run-1", SourceDB: "app", TargetDB: "app_mssql", Phase: "Idle"}
	if err := state.CreateRun(run, map[string]string{"suffix": "_new"}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := state.UpdatePhase("run-1", "MovingData"); err != nil {
		t.Fatalf("UpdatePhase: %v", err)
	}
	outcomes := []report.TableOutcome{
		{Namespace: "sales", Table: "orders", Succeeded: false, Error: "constraint violation"},
		{Namespace: "sales", Table: "customers", Succeeded: true, Rows: 10, Duration: 1500 * time.Millisecond},
		{Namespace: "hr", Table: "people", Succeeded: true, Rows: 5},
	}
	for _, o := range outcomes {
		if err := state.RecordOutcome("run-1", o); err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}
	if err := state.CompleteRun("run-1", StatusPartial, ""); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}

	got, err := state.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != StatusPartial || got.Phase != "MovingData" || got.CompletedAt == nil {
		t.Errorf("unexpected run %+v", got)
	}
	if got.Tables != 3 || got.Failed != 1 || got.Rows != 15 {
		t.Errorf("totals = %d tables, %d failed, %d rows", got.Tables, got.Failed, got.Rows)
	}
	if got.ConfigHash == "" || got.SourceDB != "app" {
		t.Errorf("run metadata missing: %+v", got)
	}

	stored, err := state.GetOutcomes("run-1")
	if err != nil {
		t.Fatalf("GetOutcomes: %v", err)
	}
	if len(stored) != 3 || stored[0].FullName() != "hr.people" || stored[2].FullName() != "sales.orders" {
		t.Fatalf("unexpected outcomes %+v", stored)
	}
	if stored[1].Duration != 1500*time.Millisecond || stored[2].Error != "constraint violation" || stored[2].Succeeded {
		t.Errorf("outcome fields not preserved: %+v", stored)
	}
}

func TestStateRecordOutcomeReplaces(t *testing.T) {
	state := newTestState(t)
	if err := state.CreateRun(Run{ID: "r"}, nil); err != nil {
		t.Fatal(err)
	}
	state.RecordOutcome("r", report.TableOutcome{Namespace: "s", Table: "t", Error: "first"})
	state.RecordOutcome("r", report.TableOutcome{Namespace: "s", Table: "t", Succeeded: true, Rows: 2})

	out, err := state.GetOutcomes("r")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || !out[0].Succeeded || out[0].Rows != 2 {
		t.Errorf("outcome not replaced: %+v", out)
	}
}

func TestStateConcurrentOutcomes(t *testing.T) {
	state := newTestState(t)
	if err := state.CreateRun(Run{ID: "r"}, nil); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- state.RecordOutcome("r", report.TableOutcome{
				Namespace: "s", Table: string(rune('a' + i)), Succeeded: true, Rows: 1,
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}
	got, _ := state.GetRun("r")
	if got.Tables != 20 || got.Rows != 20 {
		t.Errorf("totals = %+v", got)
	}
}

func TestStateNotFound(t *testing.T) {
	state := newTestState(t)
	_, err := state.GetRun("missing")
	var nf ErrRunNotFound
	if !errors.As(err, &nf) || nf.ID != "missing" {
		t.Errorf("GetRun error = %v", err)
	}
	if _, err := state.GetOutcomes("missing"); err == nil {
		t.Error("GetOutcomes should fail for unknown run")
	}
}

func TestStateListRuns(t *testing.T) {
	state := newTestState(t)
	for _, id := range []string{"a", "b", "c"} {
		if err := state.CreateRun(Run{ID: id, StartedAt: time.Now()}, nil); err != nil {
			t.Fatal(err)
		}
	}
	runs, err := state.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Errorf("ListRuns(2) = %+v", runs)
	}
}

func TestCleanupOldRuns(t *testing.T) {
	state := newTestState(t)

	for _, id := range []string{"old-success", "old-failed", "recent", "running"} {
		if err := state.CreateRun(Run{ID: id}, nil); err != nil {
			t.Fatalf("CreateRun(%s): %v", id, err)
		}
		if err := state.RecordOutcome(id, report.TableOutcome{Namespace: "s", Table: "t", Succeeded: true}); err != nil {
			t.Fatal(err)
		}
	}
	state.CompleteRun("old-success", StatusSuccess, "")
	state.CompleteRun("old-failed", StatusFailed, "boom")
	state.CompleteRun("recent", StatusSuccess, "")

	oldTime := time.Now().AddDate(0, 0, -31).UTC().Format(sqliteTime)
	if _, err := state.db.Exec(`UPDATE runs SET completed_at = ? WHERE id IN (?, ?)`, oldTime, "old-success", "old-failed"); err != nil {
		t.Fatalf("update completed_at: %v", err)
	}

	n, err := state.CleanupOldRuns(30 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("CleanupOldRuns: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d runs, want 2", n)
	}
	runs, _ := state.ListRuns(10)
	if len(runs) != 2 {
		t.Errorf("remaining runs = %+v", runs)
	}
	var outcomes int
	if err := state.db.QueryRow(`SELECT COUNT(*) FROM table_outcomes`).Scan(&outcomes); err != nil {
		t.Fatal(err)
	}
	if outcomes != 2 {
		t.Errorf("remaining outcomes = %d, want 2", outcomes)
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(config.StateConfig{Backend: "sqlite", Path: filepath.Join(dir, "nested", "history.db")})
	if err != nil {
		t.Fatalf("Open sqlite: %v", err)
	}
	if _, ok := store.(*State); !ok {
		t.Errorf("expected *State, got %T", store)
	}
	store.Close()

	store, err = Open(config.StateConfig{Backend: "file", Path: filepath.Join(dir, "history.yaml")})
	if err != nil {
		t.Fatalf("Open file: %v", err)
	}
	if _, ok := store.(*FileState); !ok {
		t.Errorf("expected *FileState, got %T", store)
	}

	store, err = Open(config.StateConfig{Backend: "none"})
	if err != nil {
		t.Fatalf("Open none: %v", err)
	}
	if _, ok := store.(NopStore); !ok {
		t.Errorf("expected NopStore, got %T", store)
	}

	if _, err := Open(config.StateConfig{Backend: "redis", Path: "x"}); err == nil {
		t.Error("expected unknown backend error")
	}
	if _, err := Open(config.StateConfig{Backend: "sqlite"}); err == nil {
		t.Error("expected missing path error")
	}
}

func TestStatusFor(t *testing.T) {
	if StatusFor(report.Summary{Tables: 3}) != StatusSuccess {
		t.Error("no failures should be success")
	}
	if StatusFor(report.Summary{Tables: 3, Failed: 1}) != StatusPartial {
		t.Error("failures should be partial")
	}
}

func TestConfigHash(t *testing.T) {
	a := ConfigHash(map[string]int{"workers": 1})
	b := ConfigHash(map[string]int{"workers": 2})
	if a == "" || a == b || len(a) != 16 {
		t.Errorf("hashes %q %q", a, b)
	}
	if ConfigHash(nil) != "" {
		t.Error("nil config should hash to empty")
	}
}
