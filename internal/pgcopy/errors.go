package pgcopy

import (
	"errors"
	"fmt"
)

// ErrAborted is the error a server sees on its input when a session is
// closed before it was finalized.
var ErrAborted = errors.New("pgcopy: copy session aborted")

// Row and column indexes in errors are zero-based.

// StateError reports an operation called out of turn: a column write with no
// open row, any call after the session was finalized or exhausted, and so on.
type StateError struct {
	Op    string
	State string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("pgcopy: %s: %s", e.Op, e.State)
}

// IncompleteRowError reports a row that was left before all of its declared
// columns were written (import) or read (export).
type IncompleteRowError struct {
	Row      int
	Written  int
	Declared int
}

func (e *IncompleteRowError) Error() string {
	return fmt.Sprintf("pgcopy: row %d is incomplete: %d of %d columns", e.Row, e.Written, e.Declared)
}

// ColumnCountError reports a row with more columns than the session declared.
type ColumnCountError struct {
	Row      int
	Got      int
	Declared int
}

func (e *ColumnCountError) Error() string {
	return fmt.Sprintf("pgcopy: row %d has %d columns, session declared %d", e.Row, e.Got, e.Declared)
}

// TypeMismatchError reports a value whose runtime or encoded type disagrees
// with the declared type.
type TypeMismatchError struct {
	Row      int
	Column   int
	Declared Type
	Actual   string
	Reason   string
}

func (e *TypeMismatchError) Error() string {
	msg := fmt.Sprintf("pgcopy: row %d column %d: declared %s, got %s", e.Row, e.Column, e.Declared, e.Actual)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// NullValueError reports a NULL read into a non-nullable target. Element is
// the array element index, or -1 when the column itself is NULL.
type NullValueError struct {
	Row      int
	Column   int
	Declared Type
	Element  int
}

func (e *NullValueError) Error() string {
	if e.Element >= 0 {
		return fmt.Sprintf("pgcopy: row %d column %d: element %d of %s is NULL", e.Row, e.Column, e.Element, e.Declared)
	}
	return fmt.Sprintf("pgcopy: row %d column %d: %s value is NULL", e.Row, e.Column, e.Declared)
}

// ServerRejectedCopyError carries the server's diagnostic for a copy it
// refused. None of the rows of the session were committed.
type ServerRejectedCopyError struct {
	Code    string
	Message string
	Detail  string
	Err     error
}

func (e *ServerRejectedCopyError) Error() string {
	msg := "pgcopy: server rejected copy"
	if e.Code != "" {
		msg += " (SQLSTATE " + e.Code + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ServerRejectedCopyError) Unwrap() error {
	return e.Err
}

// FormatError reports a stream that does not follow the binary copy layout.
type FormatError struct {
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pgcopy: malformed copy stream: %s: %v", e.Reason, e.Err)
	}
	return "pgcopy: malformed copy stream: " + e.Reason
}

func (e *FormatError) Unwrap() error {
	return e.Err
}
