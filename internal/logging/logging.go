// Package logging is the process-wide leveled logger. Lines go to stdout
// as text by default, or as JSON objects for log shippers. While a run is
// active every line carries its run ID.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents logging verbosity level
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo // default
	LevelDebug
)

var levelNames = [...]string{
	LevelError: "ERROR",
	LevelWarn:  "WARN",
	LevelInfo:  "INFO",
	LevelDebug: "DEBUG",
}

// String returns the upper-case level name.
func (l Level) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel converts a --verbosity value to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "info", "":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	}
	return LevelInfo, fmt.Errorf("unknown verbosity level: %s (valid: debug, info, warn, error)", s)
}

// Format selects how log lines are rendered.
type Format int

const (
	// FormatText renders "2006-01-02 15:04:05 [LEVEL] message".
	FormatText Format = iota
	// FormatJSON renders one object per line with ts, level, msg and run_id.
	FormatJSON
)

const timeLayout = "2006-01-02 15:04:05"

type logger struct {
	mu     sync.Mutex
	level  Level
	format Format
	output io.Writer
	runID  string
}

var std = &logger{level: LevelInfo, output: os.Stdout}

// SetLevel sets the global log level.
func SetLevel(level Level) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.level = level
}

// SetFormat switches the output format. Anything other than "json"
// selects text.
func SetFormat(name string) {
	std.mu.Lock()
	defer std.mu.Unlock()
	if strings.EqualFold(strings.TrimSpace(name), "json") {
		std.format = FormatJSON
	} else {
		std.format = FormatText
	}
}

// SetOutput sets the output destination. A nil writer restores stdout.
func SetOutput(w io.Writer) {
	std.mu.Lock()
	defer std.mu.Unlock()
	if w == nil {
		w = os.Stdout
	}
	std.output = w
}

// SetRun tags subsequent lines with a run ID. An empty ID removes the tag.
func SetRun(runID string) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.runID = runID
}

// IsDebug reports whether debug lines are written.
func IsDebug() bool {
	std.mu.Lock()
	defer std.mu.Unlock()
	return std.level >= LevelDebug
}

func Debug(format string, args ...any) { std.log(LevelDebug, format, args...) }
func Info(format string, args ...any)  { std.log(LevelInfo, format, args...) }
func Warn(format string, args ...any)  { std.log(LevelWarn, format, args...) }
func Error(format string, args ...any) { std.log(LevelError, format, args...) }

type jsonLine struct {
	TS    string `json:"ts"`
	Level string `json:"level"`
	Msg   string `json:"msg"`
	RunID string `json:"run_id,omitempty"`
}

func (l *logger) log(level Level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level > l.level {
		return
	}

	msg := fmt.Sprintf(format, args...)
	now := time.Now()

	if l.format == FormatJSON {
		line, err := json.Marshal(jsonLine{
			TS:    now.UTC().Format(time.RFC3339Nano),
			Level: strings.ToLower(level.String()),
			Msg:   strings.TrimSpace(msg),
			RunID: l.runID,
		})
		if err != nil {
			return
		}
		l.output.Write(append(line, '\n'))
		return
	}

	// A leading newline asks for a blank separator line.
	if rest, ok := strings.CutPrefix(msg, "\n"); ok {
		msg = rest
		fmt.Fprint(l.output, "\n")
	}
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}
	prefix := now.Format(timeLayout) + " [" + level.String() + "]"
	if l.runID != "" {
		prefix += " [run " + l.runID + "]"
	}
	fmt.Fprintf(l.output, "%s %s", prefix, msg)
}
