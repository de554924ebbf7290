// Package progress carries run events from the core to whatever is
// displaying or recording them: a terminal progress bar, JSON lines for
// automation, or a chat notifier.
package progress

import (
	"sync"
	"time"
)

// Kind classifies an Event.
type Kind string

const (
	KindRunStarted     Kind = "run_started"
	KindStateChanged   Kind = "state_changed"
	KindObjectApplied  Kind = "object_applied"
	KindObjectFailed   Kind = "object_failed"
	KindTableStarted   Kind = "table_started"
	KindRowsCopied     Kind = "rows_copied"
	KindTableSucceeded Kind = "table_succeeded"
	KindTableFailed    Kind = "table_failed"
	KindRunFinished    Kind = "run_finished"
)

// Event is one thing that happened during a run. Only the fields relevant
// to the Kind are set.
type Event struct {
	Time      time.Time     `json:"ts"`
	Kind      Kind          `json:"kind"`
	RunID     string        `json:"run_id,omitempty"`
	State     string        `json:"state,omitempty"` // orchestrator state or DDL phase
	Namespace string        `json:"namespace,omitempty"`
	Object    string        `json:"object,omitempty"`
	Rows      int64         `json:"rows,omitempty"`
	Total     int           `json:"total,omitempty"`
	Failed    int           `json:"failed,omitempty"`
	Duration  time.Duration `json:"duration_ns,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Sink receives events. Implementations must be safe for concurrent use;
// table workers emit in parallel.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit calls f.
func (f SinkFunc) Emit(e Event) { f(e) }

// NullSink drops every event.
type NullSink struct{}

// Emit does nothing.
func (NullSink) Emit(Event) {}

type multi []Sink

func (m multi) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// Multi fans events out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	var out multi
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	switch len(out) {
	case 0:
		return NullSink{}
	case 1:
		return out[0]
	}
	return out
}

// Recorder keeps every event in memory. Tests and the run store use it.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit appends e.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of what was recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfKind returns the recorded events of one kind in arrival order.
func (r *Recorder) OfKind(k Kind) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}
