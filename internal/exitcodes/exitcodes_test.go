package exitcodes

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/johndauphine/pg-mssql-migrate/internal/checkpoint"
	"github.com/johndauphine/pg-mssql-migrate/internal/credentials"
	"github.com/johndauphine/pg-mssql-migrate/internal/ddl"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil error", nil, Success},
		{"path error", &os.PathError{Op: "open", Path: "/foo", Err: errors.New("no such file")}, IOError},
		{"yaml parse error", errors.New("yaml: unmarshal error"), ConfigError},
		{"json parse error", errors.New("json: unmarshal error"), ConfigError},
		{"no such file", errors.New("open config.yaml: no such file or directory"), IOError},
		{"connection refused", errors.New("dial tcp: connection refused"), ConnectionError},
		{"login failed", errors.New("login failed for user"), ConnectionError},
		{"transfer error", errors.New("bulk copy failed"), TransferError},
		{"row count mismatch", errors.New("row count mismatch: expected 100, got 99"), ValidationError},
		{"row count validation failed", errors.New("row count validation failed"), ValidationError},
		{"planning error", errors.New("ddl planning: namespace collision between app and APP"), ConfigError},
		{"catalog read", errors.New("catalog: list tables in sales: bad query"), TransferError},
		{"table failures", errors.New("2 of 9 tables failed"), TransferError},
		{"context canceled", errors.New("context canceled"), Cancelled},
		{"state error", errors.New("run store: open history.db: locked"), StateError},
		{"run not found", errors.New("run not found: 42"), StateError},
		{"unknown error", errors.New("something unexpected happened"), TransferError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromError(tt.err); got != tt.want {
				t.Errorf("FromError(%v) = %d (%s), want %d", tt.err, got, Description(got), tt.want)
			}
		})
	}
}

func TestExitErrorCarriesCode(t *testing.T) {
	inner := errors.New("login failed for user 'sa'")
	wrapped := fmt.Errorf("destination connection: %w", NewExitError(inner, StateError))

	if got := FromError(wrapped); got != StateError {
		t.Errorf("explicit code lost through wrapping: got %d", got)
	}
	var exitErr *ExitError
	if !errors.As(wrapped, &exitErr) || exitErr.Error() != inner.Error() || !errors.Is(exitErr, inner) {
		t.Errorf("ExitError does not expose %v", inner)
	}
}

func TestIsRecoverable(t *testing.T) {
	want := map[int]bool{
		Success:         false,
		ConfigError:     false,
		ConnectionError: true,
		TransferError:   false,
		ValidationError: false,
		Cancelled:       true,
		StateError:      false,
		IOError:         true,
	}
	for code, recoverable := range want {
		if IsRecoverable(code) != recoverable {
			t.Errorf("IsRecoverable(%d) = %v", code, !recoverable)
		}
	}
}

func TestFromErrorSentinels(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"interrupted catalog read", fmt.Errorf("reading catalog: %w", context.Canceled), Cancelled},
		{"prompt cancelled", fmt.Errorf("source connection: %w", credentials.ErrPromptCancelled), Cancelled},
		{"no credentials", fmt.Errorf("destination connection: %w: %w", credentials.ErrNoCredentials, errors.New("bulk")), ConnectionError},
		{"empty table", fmt.Errorf("planning DDL: %w", ddl.ErrEmptyTable), ConfigError},
		{"too long", fmt.Errorf("planning DDL: %w", ddl.ErrIdentifierTooLong), ConfigError},
		{"unknown run", fmt.Errorf("getting run: %w", checkpoint.ErrRunNotFound{ID: "x"}), StateError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromError(tt.err); got != tt.want {
				t.Errorf("FromError(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestDescription(t *testing.T) {
	tests := []struct {
		code     int
		expected string
	}{
		{Success, "success"},
		{ConfigError, "configuration or planning error"},
		{ConnectionError, "connection error (recoverable)"},
		{TransferError, "catalog, DDL or data movement error"},
		{ValidationError, "row count validation error"},
		{Cancelled, "cancelled (recoverable)"},
		{StateError, "run history error"},
		{IOError, "I/O error (recoverable)"},
		{99, "unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			got := Description(tt.code)
			if got != tt.expected {
				t.Errorf("Description(%d) = %q, want %q", tt.code, got, tt.expected)
			}
		})
	}
}
