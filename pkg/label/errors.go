package label

import (
	"errors"
	"fmt"
)

// ErrorKind classifies label parse failures.
type ErrorKind string

const (
	// ErrMissingCellSeparator indicates the input has no "//" cell separator.
	ErrMissingCellSeparator ErrorKind = "missing_cell_separator"

	// ErrMissingTargetName indicates the input has no ":" before the target name.
	ErrMissingTargetName ErrorKind = "missing_target_name"

	// ErrInvalidCell indicates the cell component contains invalid characters.
	ErrInvalidCell ErrorKind = "invalid_cell"

	// ErrInvalidPackage indicates a package path segment is empty or invalid.
	ErrInvalidPackage ErrorKind = "invalid_package"

	// ErrInvalidName indicates the target name is empty or invalid.
	ErrInvalidName ErrorKind = "invalid_name"

	// ErrMalformedSelector indicates an unbalanced or empty [sub-target] suffix.
	ErrMalformedSelector ErrorKind = "malformed_selector"

	// ErrEmptyFlavor indicates a "#" flavor suffix with nothing after it.
	ErrEmptyFlavor ErrorKind = "empty_flavor"
)

// Error is a structured label parse error carrying the offending input.
type Error struct {
	Kind    ErrorKind
	Message string
	Input   string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s (input=%q): %v", e.Kind, e.Message, e.Input, e.Err)
	}
	return fmt.Sprintf("[%s] %s (input=%q)", e.Kind, e.Message, e.Input)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind ErrorKind, input, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Input:   input,
	}
}

// KindOf returns the parse error kind, or "" when err is not a label error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
