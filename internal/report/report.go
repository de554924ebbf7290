// Package report collects per-table data movement outcomes for a run.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// TableOutcome is the result of moving one table's data. Error is empty
// when Succeeded is true.
type TableOutcome struct {
	Namespace string        `json:"namespace"`
	Table     string        `json:"table"`
	Succeeded bool          `json:"succeeded"`
	Error     string        `json:"error,omitempty"`
	Rows      int64         `json:"rows"`
	Duration  time.Duration `json:"duration_ns"`
}

// FullName returns namespace.table.
func (o TableOutcome) FullName() string {
	return o.Namespace + "." + o.Table
}

// Summary aggregates a report.
type Summary struct {
	Tables    int           `json:"tables"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Rows      int64         `json:"rows"`
	Elapsed   time.Duration `json:"elapsed_ns"`
}

// Report is an append-only, concurrency-safe list of outcomes.
type Report struct {
	mu       sync.Mutex
	started  time.Time
	outcomes []TableOutcome
}

// New creates an empty report started now.
func New() *Report {
	return &Report{started: time.Now()}
}

// Append records an outcome.
func (r *Report) Append(o TableOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

// Outcomes returns a copy of every outcome in append order.
func (r *Report) Outcomes() []TableOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TableOutcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

// Failed returns the failed outcomes sorted by namespace and table.
func (r *Report) Failed() []TableOutcome {
	return r.filter(false)
}

// Succeeded returns the successful outcomes sorted by namespace and table.
func (r *Report) Succeeded() []TableOutcome {
	return r.filter(true)
}

func (r *Report) filter(succeeded bool) []TableOutcome {
	var out []TableOutcome
	for _, o := range r.Outcomes() {
		if o.Succeeded == succeeded {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Namespace != out[j].Namespace {
			return out[i].Namespace < out[j].Namespace
		}
		return out[i].Table < out[j].Table
	})
	return out
}

// Summary totals the outcomes recorded so far.
func (r *Report) Summary() Summary {
	outcomes := r.Outcomes()
	s := Summary{Tables: len(outcomes), Elapsed: time.Since(r.started)}
	for _, o := range outcomes {
		if o.Succeeded {
			s.Succeeded++
			s.Rows += o.Rows
		} else {
			s.Failed++
		}
	}
	return s
}

// Throughput returns rows per second over the elapsed time.
func (s Summary) Throughput() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Rows) / s.Elapsed.Seconds()
}

var (
	colorPurple = lipgloss.Color("#7D56F4")
	colorRed    = lipgloss.Color("#FF4141")
	colorGreen  = lipgloss.Color("#04B575")

	styleHeader  = lipgloss.NewStyle().Foreground(colorPurple).Bold(true).Padding(0, 1)
	styleCell    = lipgloss.NewStyle().Padding(0, 1)
	styleFailed  = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	styleSuccess = lipgloss.NewStyle().Foreground(colorGreen).Bold(true)
)

// Render writes the run summary followed by a table of failed tables and
// the first line of each error.
func (r *Report) Render(w io.Writer) error {
	s := r.Summary()
	failed := r.Failed()

	if len(failed) == 0 {
		_, err := fmt.Fprintln(w, styleSuccess.Render(
			fmt.Sprintf("All %d tables migrated (%d rows).", s.Tables, s.Rows)))
		return err
	}

	if _, err := fmt.Fprintln(w, styleFailed.Render(
		fmt.Sprintf("%d of %d tables failed to migrate:", s.Failed, s.Tables))); err != nil {
		return err
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorPurple)).
		Headers("SourceSchema", "SourceTable", "Error").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return styleHeader
			}
			return styleCell
		})
	for _, o := range failed {
		t.Row(o.Namespace, o.Table, shortError(o.Error))
	}
	_, err := fmt.Fprintln(w, t.String())
	return err
}

// maxErrorWidth caps the error cell; the full text stays in the JSON
// output and the run history.
const maxErrorWidth = 80

// shortError keeps the first line of msg, cut to maxErrorWidth runes.
func shortError(msg string) string {
	msg, _, _ = strings.Cut(strings.TrimSpace(msg), "\n")
	msg = strings.TrimSpace(msg)
	if r := []rune(msg); len(r) > maxErrorWidth {
		return string(r[:maxErrorWidth-3]) + "..."
	}
	return msg
}

type reportJSON struct {
	Summary  Summary        `json:"summary"`
	Outcomes []TableOutcome `json:"outcomes"`
}

// MarshalJSON encodes the summary and all outcomes.
func (r *Report) MarshalJSON() ([]byte, error) {
	outcomes := r.Outcomes()
	if outcomes == nil {
		outcomes = []TableOutcome{}
	}
	return json.Marshal(reportJSON{Summary: r.Summary(), Outcomes: outcomes})
}
