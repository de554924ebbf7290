// Package checkpoint keeps the history of migration runs and their
// per-table outcomes.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/johndauphine/pg-mssql-migrate/internal/config"
	"github.com/johndauphine/pg-mssql-migrate/internal/report"
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusPartial = "partial" // completed, some tables failed
	StatusFailed  = "failed"
)

// Run is one recorded migration run.
type Run struct {
	ID          string     `yaml:"id" json:"id"`
	StartedAt   time.Time  `yaml:"started_at" json:"started_at"`
	CompletedAt *time.Time `yaml:"completed_at,omitempty" json:"completed_at,omitempty"`
	Status      string     `yaml:"status" json:"status"`
	Phase       string     `yaml:"phase" json:"phase"`
	SourceDB    string     `yaml:"source_db" json:"source_db"`
	TargetDB    string     `yaml:"target_db" json:"target_db"`
	ConfigHash  string     `yaml:"config_hash,omitempty" json:"config_hash,omitempty"`
	Error       string     `yaml:"error,omitempty" json:"error,omitempty"`

	// Totals derived from the recorded outcomes.
	Tables int   `yaml:"-" json:"tables"`
	Failed int   `yaml:"-" json:"failed"`
	Rows   int64 `yaml:"-" json:"rows"`
}

// RunStore persists run history. Implementations are safe for concurrent
// use; outcomes are recorded by parallel table workers.
type RunStore interface {
	CreateRun(run Run, cfg any) error
	UpdatePhase(runID, phase string) error
	RecordOutcome(runID string, o report.TableOutcome) error
	CompleteRun(runID, status, errorMsg string) error

	GetRun(runID string) (*Run, error)
	ListRuns(limit int) ([]Run, error)
	GetOutcomes(runID string) ([]report.TableOutcome, error)

	Close() error
}

var (
	_ RunStore = (*State)(nil)
	_ RunStore = (*FileState)(nil)
	_ RunStore = NopStore{}
)

// ErrRunNotFound is returned by GetRun and GetOutcomes for unknown IDs.
type ErrRunNotFound struct{ ID string }

func (e ErrRunNotFound) Error() string { return "run not found: " + e.ID }

// Open returns the store selected by cfg.
func Open(cfg config.StateConfig) (RunStore, error) {
	switch cfg.Backend {
	case "none":
		return NopStore{}, nil
	case "file":
		if err := ensureDir(cfg.Path); err != nil {
			return nil, err
		}
		return NewFileState(cfg.Path)
	case "", "sqlite":
		if err := ensureDir(cfg.Path); err != nil {
			return nil, err
		}
		return New(cfg.Path)
	}
	return nil, fmt.Errorf("run store: unknown backend %q", cfg.Backend)
}

func ensureDir(path string) error {
	if path == "" {
		return fmt.Errorf("run store: no path configured")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("run store: creating data dir: %w", err)
	}
	return nil
}

// ConfigHash fingerprints a configuration so runs with different settings
// can be told apart.
func ConfigHash(cfg any) string {
	if cfg == nil {
		return ""
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// StatusFor maps a finished report to a run status.
func StatusFor(s report.Summary) string {
	if s.Failed > 0 {
		return StatusPartial
	}
	return StatusSuccess
}

// NopStore records nothing.
type NopStore struct{}

func (NopStore) CreateRun(Run, any) error                        { return nil }
func (NopStore) UpdatePhase(string, string) error                { return nil }
func (NopStore) RecordOutcome(string, report.TableOutcome) error { return nil }
func (NopStore) CompleteRun(string, string, string) error        { return nil }
func (NopStore) ListRuns(int) ([]Run, error)                     { return nil, nil }
func (NopStore) Close() error                                    { return nil }

func (NopStore) GetRun(id string) (*Run, error) { return nil, ErrRunNotFound{ID: id} }

func (NopStore) GetOutcomes(id string) ([]report.TableOutcome, error) {
	return nil, ErrRunNotFound{ID: id}
}
