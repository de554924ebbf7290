// Package exitcodes defines the process exit codes of pg-mssql-migrate so that
// schedulers can tell a bad config from a flaky network from failed tables.
package exitcodes

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/johndauphine/pg-mssql-migrate/internal/checkpoint"
	"github.com/johndauphine/pg-mssql-migrate/internal/credentials"
	"github.com/johndauphine/pg-mssql-migrate/internal/ddl"
)

// Exit codes.
const (
	// Success - migration completed without errors
	Success = 0

	// ConfigError - configuration/YAML/JSON parsing errors (non-recoverable, don't retry)
	ConfigError = 1

	// ConnectionError - source/target database connection or pool errors (recoverable)
	ConnectionError = 2

	// TransferError - catalog read, DDL apply or table data movement failed (non-recoverable)
	TransferError = 3

	// ValidationError - row count validation after a run (non-recoverable)
	ValidationError = 4

	// Cancelled - user cancelled via SIGINT/SIGTERM (recoverable)
	Cancelled = 5

	// StateError - run history store could not be opened or written (non-recoverable)
	StateError = 6

	// IOError - file I/O errors (recoverable)
	IOError = 7
)

// ExitError wraps an error with an exit code.
type ExitError struct {
	Err  error
	Code int
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code.
func NewExitError(err error, code int) *ExitError {
	return &ExitError{Err: err, Code: code}
}

// sentinels maps errors raised by the migrator's own packages to codes.
// They are checked before any message matching.
var sentinels = []struct {
	err  error
	code int
}{
	{context.Canceled, Cancelled},
	{credentials.ErrPromptCancelled, Cancelled},
	{credentials.ErrNoCredentials, ConnectionError},
	{ddl.ErrEmptyTable, ConfigError},
	{ddl.ErrNamespaceCollision, ConfigError},
	{ddl.ErrNameCollision, ConfigError},
	{ddl.ErrIdentifierTooLong, ConfigError},
	{ddl.ErrInvalidIdentity, ConfigError},
}

// keywordClasses classify the remaining errors by message, first match
// wins. Validation comes before config so that "row count validation
// failed" is not taken for a config problem.
var keywordClasses = []struct {
	code     int
	keywords []string
	unless   []string
}{
	{IOError, []string{"no such file", "file not found", "permission denied", "is a directory", "not a directory"}, nil},
	{ValidationError, []string{"row count", "mismatch", "validation failed"}, nil},
	{ConfigError, []string{"yaml:", "json:", "unmarshal", "invalid configuration", "missing required",
		"invalid value", "parsing config", "ddl planning", "namespace collision"}, []string{"connection", "connect", "dial"}},
	{ConnectionError, []string{"connection", "connect", "dial", "refused", "timeout", "unreachable",
		"no such host", "network", "ping", "login failed", "authentication", "tls"}, nil},
	{TransferError, []string{"transfer", "copy", "bulk", "insert", "catalog", "create table",
		"create schema", "foreign key", "tables failed"}, nil},
	{Cancelled, []string{"cancel", "interrupt", "context deadline"}, nil},
	{StateError, []string{"run store", "history", "run not found"}, nil},
}

// FromError determines the exit code for an error: an explicit ExitError
// code, then the migrator's sentinel errors, then the message.
func FromError(err error) int {
	if err == nil {
		return Success
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.code
		}
	}
	var notFound checkpoint.ErrRunNotFound
	if errors.As(err, &notFound) {
		return StateError
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return IOError
	}

	msg := strings.ToLower(err.Error())
	for _, c := range keywordClasses {
		if containsAny(msg, c.keywords) && !containsAny(msg, c.unless) {
			return c.code
		}
	}
	return TransferError
}

// IsRecoverable returns true if the error is recoverable (safe to retry).
func IsRecoverable(code int) bool {
	switch code {
	case ConnectionError, Cancelled, IOError:
		return true
	default:
		return false
	}
}

var descriptions = map[int]string{
	Success:         "success",
	ConfigError:     "configuration or planning error",
	ConnectionError: "connection error",
	TransferError:   "catalog, DDL or data movement error",
	ValidationError: "row count validation error",
	Cancelled:       "cancelled",
	StateError:      "run history error",
	IOError:         "I/O error",
}

// Description returns a human-readable description of the exit code,
// marking the codes worth retrying.
func Description(code int) string {
	d, ok := descriptions[code]
	if !ok {
		return "unknown error"
	}
	if IsRecoverable(code) {
		d += " (recoverable)"
	}
	return d
}

func containsAny(s string, substrs []string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
