// Package apperr defines the error taxonomy shared by the SnapDog core.
//
// Every dispatch through the command/query pipeline ends with either success
// or exactly one *Error. Packages below the pipeline (zone, client, catalog)
// create these errors directly so the kind survives wrapping; anything else is
// normalised by From at the pipeline boundary.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

// Error kinds.
const (
	Internal Kind = iota
	Validation
	NotFound
	ExternalService
	Timeout
	Cancelled
	Unauthorized
	Unsupported
)

var kindNames = map[Kind]string{
	Internal:        "internal",
	Validation:      "validation",
	NotFound:        "not_found",
	ExternalService: "external_service",
	Timeout:         "timeout",
	Cancelled:       "cancelled",
	Unauthorized:    "unauthorized",
	Unsupported:     "unsupported",
}

// String returns the snake_case name used in logs and API error codes.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "internal"
}

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Op      string // operation name, for correlation
	Message string
	Err     error // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so errors.Is(err, &Error{Kind: NotFound}) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == "" && t.Err == nil
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Invalid creates a Validation error.
func Invalid(format string, args ...any) *Error {
	return New(Validation, format, args...)
}

// Missing creates a NotFound error.
func Missing(format string, args ...any) *Error {
	return New(NotFound, format, args...)
}

// External wraps a collaborator failure. Context errors are classified as
// Timeout or Cancelled instead.
func External(err error, format string, args ...any) *Error {
	kind := ExternalService
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = Timeout
	case errors.Is(err, context.Canceled):
		kind = Cancelled
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or Internal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	case errors.Is(err, context.Canceled):
		return Cancelled
	}
	return Internal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// From normalises err into an *Error tagged with op. It returns nil for a
// nil err. Existing classifications are preserved; the op is only filled in
// when missing.
func From(err error, op string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		out := *e
		if out.Op == "" {
			out.Op = op
		}
		return &out
	}
	kind := KindOf(err)
	return &Error{Kind: kind, Op: op, Message: err.Error(), Err: err}
}
