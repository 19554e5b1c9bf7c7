// Package query defines the read-only execution contract for translated SQL.
// Failures are classified so callers can distinguish a bad statement from an
// unreachable warehouse without inspecting error text.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Request struct {
	SQL      string
	RowLimit int
}

type Result struct {
	Columns  []string
	Rows     [][]any
	RowCount int
	Duration time.Duration
}

type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}

type ErrorKind string

const (
	// KindInvalid marks statements rejected before or during planning:
	// non-SELECT text, unknown relations, syntax errors.
	KindInvalid ErrorKind = "invalid"
	// KindUnavailable marks connectivity failures against the warehouse.
	KindUnavailable ErrorKind = "unavailable"
	// KindExecutionFailed marks statements that planned but failed to run.
	KindExecutionFailed ErrorKind = "execution_failed"
)

type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// KindOf reports the classification of err, or an empty kind when err is not
// a query error.
func KindOf(err error) ErrorKind {
	var queryErr *Error
	if errors.As(err, &queryErr) {
		return queryErr.Kind
	}
	return ""
}
