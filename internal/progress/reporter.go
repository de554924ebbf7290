package progress

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/johndauphine/pg-mssql-migrate/internal/logging"
)

// Snapshot is the running summary JSONReporter attaches to each line so
// automation can display progress without replaying every event.
type Snapshot struct {
	TablesComplete int   `json:"tables_complete"`
	TablesFailed   int   `json:"tables_failed"`
	TablesTotal    int   `json:"tables_total"`
	TablesRunning  int   `json:"tables_running"`
	RowsMoved      int64 `json:"rows_moved"`
	ObjectsFailed  int   `json:"objects_failed,omitempty"`
}

type jsonLine struct {
	Event
	Progress Snapshot `json:"progress"`
}

// JSONReporter writes one JSON object per event. Row progress events are
// throttled to the configured interval; everything else is written at once.
type JSONReporter struct {
	writer   io.Writer
	mu       sync.Mutex
	interval time.Duration
	lastRows time.Time
	snap     Snapshot
	closed   bool
}

// NewJSONReporter creates a reporter writing to writer, stderr when nil.
func NewJSONReporter(writer io.Writer, interval time.Duration) *JSONReporter {
	if writer == nil {
		writer = os.Stderr
	}
	return &JSONReporter{writer: writer, interval: interval}
}

// Emit updates the snapshot and writes the event.
func (r *JSONReporter) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	switch e.Kind {
	case KindStateChanged:
		if e.Total > 0 {
			r.snap.TablesTotal = e.Total
		}
	case KindObjectFailed:
		r.snap.ObjectsFailed++
	case KindTableStarted:
		r.snap.TablesRunning++
	case KindRowsCopied:
		r.snap.RowsMoved += e.Rows
		if r.interval > 0 && e.Time.Sub(r.lastRows) < r.interval {
			return
		}
		r.lastRows = e.Time
	case KindTableSucceeded:
		r.snap.TablesRunning--
		r.snap.TablesComplete++
	case KindTableFailed:
		r.snap.TablesRunning--
		r.snap.TablesFailed++
	}

	data, err := json.Marshal(jsonLine{Event: e, Progress: r.snap})
	if err != nil {
		logging.Warn("Failed to marshal progress event: %v", err)
		return
	}
	fmt.Fprintln(r.writer, string(data))
}

// Snapshot returns the current running summary.
func (r *JSONReporter) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

// Close stops further output.
func (r *JSONReporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}
