package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/johndauphine/pg-mssql-migrate/internal/logging"
	"github.com/schollz/progressbar/v3"
)

// Tracker draws a terminal progress bar over the data movement phase. The
// bar counts finished tables; the description shows what is in flight.
type Tracker struct {
	out       io.Writer
	bar       *progressbar.ProgressBar
	rows      atomic.Int64
	done      atomic.Int64
	failed    atomic.Int64
	startTime time.Time

	mu           sync.Mutex
	activeTables map[string]struct{}
}

// NewTracker creates a tracker drawing to out, stderr when nil.
func NewTracker(out io.Writer) *Tracker {
	if out == nil {
		out = os.Stderr
	}
	return &Tracker{
		out:          out,
		startTime:    time.Now(),
		activeTables: make(map[string]struct{}),
	}
}

// Emit implements Sink.
func (t *Tracker) Emit(e Event) {
	switch e.Kind {
	case KindStateChanged:
		if e.Total > 0 {
			t.SetTotal(e.Total)
		}
	case KindTableStarted:
		t.startTable(e.Namespace + "." + e.Object)
	case KindRowsCopied:
		t.rows.Add(e.Rows)
	case KindTableSucceeded:
		t.done.Add(1)
		t.endTable(e.Namespace + "." + e.Object)
	case KindTableFailed:
		t.failed.Add(1)
		t.endTable(e.Namespace + "." + e.Object)
	case KindRunFinished:
		t.Finish()
	}
}

// SetTotal sets the number of tables the bar runs to.
func (t *Tracker) SetTotal(tables int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startTime = time.Now()
	t.bar = progressbar.NewOptions64(
		int64(tables),
		progressbar.OptionSetWriter(t.out),
		progressbar.OptionSetDescription("Moving data"),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func (t *Tracker) startTable(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.activeTables[name] = struct{}{}
	t.describe()
	if t.bar != nil {
		t.bar.RenderBlank()
	}
}

func (t *Tracker) endTable(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.activeTables, name)
	t.describe()
	if t.bar != nil {
		t.bar.Add(1)
	}
}

// describe must be called with mu held.
func (t *Tracker) describe() {
	if t.bar == nil {
		return
	}
	switch len(t.activeTables) {
	case 0:
		t.bar.Describe("Moving data")
	case 1:
		for name := range t.activeTables {
			t.bar.Describe(fmt.Sprintf("Moving %s", name))
		}
	default:
		t.bar.Describe(fmt.Sprintf("Moving (%d tables)", len(t.activeTables)))
	}
}

// Rows returns the rows counted so far.
func (t *Tracker) Rows() int64 {
	return t.rows.Load()
}

// Finish completes the bar and logs throughput.
func (t *Tracker) Finish() {
	t.mu.Lock()
	if t.bar != nil {
		t.bar.Finish()
		fmt.Fprintln(t.out)
	}
	elapsed := time.Since(t.startTime)
	t.mu.Unlock()

	rows := t.rows.Load()
	rowsPerSec := float64(rows) / elapsed.Seconds()
	logging.Info("Data movement complete: %d tables ok, %d failed, %d rows in %s (%.0f rows/sec)",
		t.done.Load(), t.failed.Load(), rows, elapsed.Round(time.Second), rowsPerSec)
}
