package target

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error classes attached to destination failures.
const (
	ClassConstraint = "constraint violation"
	ClassTimeout    = "timeout"
	ClassDeadlock   = "deadlock"
)

// ErrorNumber extracts the SQL Server error number from err.
func ErrorNumber(err error) (int32, bool) {
	var numbered interface{ SQLErrorNumber() int32 }
	if errors.As(err, &numbered) {
		return numbered.SQLErrorNumber(), true
	}
	return 0, false
}

// Classify returns the error class of err, or "" when it has none.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	if n, ok := ErrorNumber(err); ok {
		switch n {
		case 547, 2601, 2627:
			return ClassConstraint
		case 1205:
			return ClassDeadlock
		case -2:
			return ClassTimeout
		}
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadlock"):
		return ClassDeadlock
	case strings.Contains(msg, "conflicted with the foreign key"),
		strings.Contains(msg, "violation of primary key"),
		strings.Contains(msg, "duplicate key"):
		return ClassConstraint
	}
	return ""
}

// ClassifiedError carries an error class alongside the destination error.
type ClassifiedError struct {
	Class string
	Err   error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Describe wraps err with its class so it shows up in logs and reports.
// Unclassified errors are returned unchanged.
func Describe(err error) error {
	if err == nil {
		return nil
	}
	var already *ClassifiedError
	if errors.As(err, &already) {
		return err
	}
	if class := Classify(err); class != "" {
		return &ClassifiedError{Class: class, Err: err}
	}
	return err
}

// IsConstraintViolation reports whether err is a key or foreign key violation.
func IsConstraintViolation(err error) bool {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ClassConstraint
	}
	return Classify(err) == ClassConstraint
}
