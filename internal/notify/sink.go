package notify

import (
	"errors"
	"sync"
	"time"

	"github.com/johndauphine/pg-mssql-migrate/internal/logging"
	"github.com/johndauphine/pg-mssql-migrate/internal/progress"
)

// Sink turns run events into notifications. Send failures are logged and
// never interrupt the run.
type Sink struct {
	provider Provider

	mu        sync.Mutex
	run       Run
	announced bool
}

var _ progress.Sink = (*Sink)(nil)

// NewSink wraps provider for a run between the named databases.
func NewSink(provider Provider, sourceDB, targetDB string) *Sink {
	return &Sink{
		provider: provider,
		run:      Run{SourceDB: sourceDB, TargetDB: targetDB, Started: time.Now()},
	}
}

// Emit implements progress.Sink.
func (s *Sink) Emit(e progress.Event) {
	s.mu.Lock()
	if e.RunID != "" {
		s.run.ID = e.RunID
	}

	switch e.Kind {
	case progress.KindRunStarted:
		if !e.Time.IsZero() {
			s.run.Started = e.Time
		}
		s.mu.Unlock()

	case progress.KindStateChanged:
		// Only the data-movement transition carries a table count.
		if e.Total == 0 || s.announced {
			s.mu.Unlock()
			return
		}
		s.announced = true
		s.run.Tables = e.Total
		run := s.run
		s.mu.Unlock()
		s.report(s.provider.RunStarted(run))

	case progress.KindTableFailed:
		name := e.Namespace + "." + e.Object
		s.run.Failures = append(s.run.Failures, name)
		run := s.snapshot()
		s.mu.Unlock()
		s.report(s.provider.TableFailed(run, name, errors.New(e.Error)))

	case progress.KindRunFinished:
		s.run.Tables, s.run.Failed, s.run.Rows = e.Total, e.Failed, e.Rows
		s.run.Duration = e.Duration
		if s.run.Duration == 0 {
			s.run.Duration = time.Since(s.run.Started)
		}
		if e.Error != "" {
			s.run.Err = errors.New(e.Error)
		}
		run := s.snapshot()
		s.mu.Unlock()
		s.report(s.provider.RunFinished(run))

	default:
		s.mu.Unlock()
	}
}

// snapshot copies the run so providers never see later appends. Callers hold mu.
func (s *Sink) snapshot() Run {
	run := s.run
	run.Failures = append([]string(nil), s.run.Failures...)
	return run
}

func (s *Sink) report(err error) {
	if err != nil {
		logging.Warn("Slack notification failed: %v", err)
	}
}
