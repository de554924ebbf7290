package checkpoint

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/johndauphine/pg-mssql-migrate/internal/report"
)

// maxFileRuns caps how many runs a state file keeps; older ones are dropped.
const maxFileRuns = 50

// FileState keeps run history in a single YAML file, for headless
// environments where a SQLite file is impractical.
type FileState struct {
	path  string
	mu    sync.RWMutex
	state *fileStateData
}

type fileStateData struct {
	Runs []fileRun `yaml:"runs"`
}

type fileRun struct {
	Run `yaml:",inline"`

	Outcomes []tableState `yaml:"tables,omitempty"`
}

type tableState struct {
	Namespace  string `yaml:"namespace"`
	Table      string `yaml:"table"`
	Status     string `yaml:"status"` // success, failed
	Rows       int64  `yaml:"rows,omitempty"`
	DurationMs int64  `yaml:"duration_ms,omitempty"`
	Error      string `yaml:"error,omitempty"`
}

// NewFileState opens the state file at path, loading it when it exists.
func NewFileState(path string) (*FileState, error) {
	fs := &FileState{path: path, state: &fileStateData{}}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("run store: reading state file: %w", err)
		}
		if err := yaml.Unmarshal(data, fs.state); err != nil {
			return nil, fmt.Errorf("run store: parsing state file: %w", err)
		}
	}
	return fs, nil
}

// save writes the state file. Callers hold mu.
func (fs *FileState) save() error {
	data, err := yaml.Marshal(fs.state)
	if err != nil {
		return fmt.Errorf("run store: marshaling state: %w", err)
	}
	if err := os.WriteFile(fs.path, data, 0600); err != nil {
		return fmt.Errorf("run store: writing state file: %w", err)
	}
	return nil
}

func (fs *FileState) find(runID string) *fileRun {
	for i := range fs.state.Runs {
		if fs.state.Runs[i].ID == runID {
			return &fs.state.Runs[i]
		}
	}
	return nil
}

// CreateRun appends a new run.
func (fs *FileState) CreateRun(run Run, cfg any) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.find(run.ID) != nil {
		return fmt.Errorf("run store: run %s already exists", run.ID)
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	run.Status = StatusRunning
	run.ConfigHash = ConfigHash(cfg)

	fs.state.Runs = append(fs.state.Runs, fileRun{Run: run})
	if n := len(fs.state.Runs); n > maxFileRuns {
		fs.state.Runs = fs.state.Runs[n-maxFileRuns:]
	}
	return fs.save()
}

// UpdatePhase records the phase a run has reached.
func (fs *FileState) UpdatePhase(runID, phase string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	r := fs.find(runID)
	if r == nil {
		return ErrRunNotFound{ID: runID}
	}
	r.Phase = phase
	return fs.save()
}

// RecordOutcome stores a table outcome, replacing an earlier one.
func (fs *FileState) RecordOutcome(runID string, o report.TableOutcome) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	r := fs.find(runID)
	if r == nil {
		return ErrRunNotFound{ID: runID}
	}
	ts := tableState{
		Namespace:  o.Namespace,
		Table:      o.Table,
		Status:     StatusSuccess,
		Rows:       o.Rows,
		DurationMs: o.Duration.Milliseconds(),
		Error:      o.Error,
	}
	if !o.Succeeded {
		ts.Status = StatusFailed
	}
	for i := range r.Outcomes {
		if r.Outcomes[i].Namespace == o.Namespace && r.Outcomes[i].Table == o.Table {
			r.Outcomes[i] = ts
			return fs.save()
		}
	}
	r.Outcomes = append(r.Outcomes, ts)
	return fs.save()
}

// CompleteRun marks the run finished.
func (fs *FileState) CompleteRun(runID, status, errorMsg string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	r := fs.find(runID)
	if r == nil {
		return ErrRunNotFound{ID: runID}
	}
	now := time.Now()
	r.Status = status
	r.CompletedAt = &now
	r.Error = errorMsg
	return fs.save()
}

func (r *fileRun) withTotals() Run {
	out := r.Run
	out.Tables = len(r.Outcomes)
	for _, o := range r.Outcomes {
		if o.Status == StatusSuccess {
			out.Rows += o.Rows
		} else {
			out.Failed++
		}
	}
	return out
}

// GetRun returns one run.
func (fs *FileState) GetRun(runID string) (*Run, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	r := fs.find(runID)
	if r == nil {
		return nil, ErrRunNotFound{ID: runID}
	}
	run := r.withTotals()
	return &run, nil
}

// ListRuns returns the most recent runs first. A non-positive limit means 20.
func (fs *FileState) ListRuns(limit int) ([]Run, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	var runs []Run
	for i := len(fs.state.Runs) - 1; i >= 0 && len(runs) < limit; i-- {
		runs = append(runs, fs.state.Runs[i].withTotals())
	}
	return runs, nil
}

// GetOutcomes returns a run's outcomes ordered by namespace and table.
func (fs *FileState) GetOutcomes(runID string) ([]report.TableOutcome, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	r := fs.find(runID)
	if r == nil {
		return nil, ErrRunNotFound{ID: runID}
	}
	out := make([]report.TableOutcome, 0, len(r.Outcomes))
	for _, ts := range r.Outcomes {
		out = append(out, report.TableOutcome{
			Namespace: ts.Namespace,
			Table:     ts.Table,
			Succeeded: ts.Status == StatusSuccess,
			Error:     ts.Error,
			Rows:      ts.Rows,
			Duration:  time.Duration(ts.DurationMs) * time.Millisecond,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Namespace != out[j].Namespace {
			return out[i].Namespace < out[j].Namespace
		}
		return out[i].Table < out[j].Table
	})
	return out, nil
}

// Close is a no-op; every change is written immediately.
func (fs *FileState) Close() error {
	return nil
}
