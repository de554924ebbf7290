package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/johndauphine/pg-mssql-migrate/internal/checkpoint"
	"github.com/johndauphine/pg-mssql-migrate/internal/exitcodes"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("moving data: %w", context.Canceled), exitcodes.Cancelled},
		{fmt.Errorf("reading catalog: %w", context.Canceled), exitcodes.Cancelled},
		{exitcodes.NewExitError(errors.New("2 of 5 tables failed"), exitcodes.TransferError), exitcodes.TransferError},
		{errors.New("source connection: login failed"), exitcodes.ConnectionError},
		{errors.New("row count validation failed: 1 of 2 tables mismatched"), exitcodes.ValidationError},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestHistoryWithoutConfigFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	err := newApp().Run([]string{"pg-mssql-migrate", "--state-file", filepath.Join(dir, "history.yaml"), "history"})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
}

func TestExplicitConfigMustExist(t *testing.T) {
	chdir(t, t.TempDir())

	err := newApp().Run([]string{"pg-mssql-migrate", "--config", "missing.yaml", "history"})
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
	if code := exitCode(err); code != exitcodes.IOError {
		t.Errorf("exit code = %d, want %d", code, exitcodes.IOError)
	}
}

func TestInvalidVerbosity(t *testing.T) {
	err := newApp().Run([]string{"pg-mssql-migrate", "--verbosity", "loud", "history"})
	if exitCode(err) != exitcodes.ConfigError {
		t.Errorf("err = %v", err)
	}
}

func TestPruneNeedsSQLiteHistory(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	err := newApp().Run([]string{"pg-mssql-migrate", "--state-file", filepath.Join(dir, "history.yaml"), "history", "--prune", "24h"})
	if exitCode(err) != exitcodes.ConfigError {
		t.Errorf("err = %v", err)
	}
}

func TestHistoryPrunesSQLiteRuns(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	dbPath := filepath.Join(dir, "history.db")

	store, err := checkpoint.New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"last-month", "yesterday", "running"} {
		if err := store.CreateRun(checkpoint.Run{ID: id}, nil); err != nil {
			t.Fatal(err)
		}
	}
	store.CompleteRun("last-month", checkpoint.StatusSuccess, "")
	store.CompleteRun("yesterday", checkpoint.StatusFailed, "boom")
	store.Close()

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	old := time.Now().AddDate(0, 0, -40).UTC().Format("2006-01-02 15:04:05")
	recent := time.Now().Add(-24 * time.Hour).UTC().Format("2006-01-02 15:04:05")
	if _, err := db.Exec(`UPDATE runs SET completed_at = ? WHERE id = ?`, old, "last-month"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`UPDATE runs SET completed_at = ? WHERE id = ?`, recent, "yesterday"); err != nil {
		t.Fatal(err)
	}
	db.Close()

	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := fmt.Sprintf("migration:\n  data_dir: %s\nstate:\n  backend: sqlite\n  path: %s\n", dir, dbPath)
	if err := os.WriteFile(cfgPath, []byte(cfg), 0600); err != nil {
		t.Fatal(err)
	}

	if err := newApp().Run([]string{"pg-mssql-migrate", "--config", cfgPath, "history", "--prune", "720h"}); err != nil {
		t.Fatalf("history --prune: %v", err)
	}

	store, err = checkpoint.New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	runs, err := store.ListRuns(10)
	if err != nil {
		t.Fatal(err)
	}
	kept := map[string]bool{}
	for _, r := range runs {
		kept[r.ID] = true
	}
	if len(runs) != 2 || !kept["yesterday"] || !kept["running"] {
		t.Errorf("remaining runs = %+v, want yesterday and running", runs)
	}
}

// chdir changes the working directory for the duration of the test,
// equivalent to testing.T.Chdir (Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}
