package notify

import "time"

// Run describes a migration run at the moment a notification is sent.
// Fields not yet known are zero.
type Run struct {
	ID       string
	SourceDB string
	TargetDB string
	Started  time.Time
	Duration time.Duration
	Tables   int
	Failed   int
	Rows     int64
	// Failures lists namespace.table for every table whose data load failed.
	Failures []string
	// Err is set when the run aborted before reporting.
	Err error
}

// Succeeded is the number of tables that moved.
func (r Run) Succeeded() int { return r.Tables - r.Failed }

// RowsPerSecond is the overall throughput, zero for an instant run.
func (r Run) RowsPerSecond() float64 {
	if secs := r.Duration.Seconds(); secs > 0 {
		return float64(r.Rows) / secs
	}
	return 0
}

// Provider delivers run notifications. Tests substitute their own.
type Provider interface {
	RunStarted(run Run) error
	TableFailed(run Run, table string, err error) error
	// RunFinished picks the message from the outcome: aborted, partial or complete.
	RunFinished(run Run) error
}

var _ Provider = (*Notifier)(nil)
