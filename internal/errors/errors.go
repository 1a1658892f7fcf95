// Package errors provides sentinel and typed errors for hpkg.
package errors

import (
	"fmt"
	"strings"
)

// DetailError is a user-facing error: what went wrong, where, and what to
// do about it. Cause carries the sentinel it matches.
type DetailError struct {
	// Type is the error category, e.g. "validation failed".
	Type string

	Message string

	// Location is the file, request or install the error refers to.
	Location string

	// Field is the config key or flag at fault.
	Field string

	Hint  string
	Cause error
}

// Error renders the error over several lines:
//
//	validation failed: invalid value "x"
//	  location: /home/u/.hpkg/config.yaml
//	  field:    workers
//	hint: use a positive integer
func (e *DetailError) Error() string {
	var b strings.Builder
	b.WriteString(e.Type)
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Location != "" {
		fmt.Fprintf(&b, "\n  location: %s", e.Location)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, "\n  field:    %s", e.Field)
	}
	if e.Hint != "" {
		fmt.Fprintf(&b, "\nhint: %s", e.Hint)
	}
	return b.String()
}

func (e *DetailError) Unwrap() error {
	return e.Cause
}

// NewValidationError returns a DetailError matching ErrValidation.
func NewValidationError(message, location, field, hint string) error {
	return &DetailError{
		Type:     "validation failed",
		Message:  message,
		Location: location,
		Field:    field,
		Hint:     hint,
		Cause:    ErrValidation,
	}
}

// NewNotFoundError returns a DetailError matching ErrNotFound.
func NewNotFoundError(message, location, hint string) error {
	return &DetailError{
		Type:     "not found",
		Message:  message,
		Location: location,
		Hint:     hint,
		Cause:    ErrNotFound,
	}
}

// Wrap prefixes a sentinel with a message.
func Wrap(sentinel error, message string) error {
	return fmt.Errorf("%s: %w", message, sentinel)
}

// ExitError attaches a process exit code to Err. Printed is set once the
// command has shown the error to the user.
type ExitError struct {
	Err     error
	Code    int
	Printed bool
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }
