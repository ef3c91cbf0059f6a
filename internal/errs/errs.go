// Package errs defines the closed set of error kinds the memory
// backend's components are allowed to return, so the orchestrator's
// fail-open/fail-closed policy table can dispatch on kind alone.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds named in the error handling design.
type Kind string

const (
	KindLLMFailure      Kind = "llm_failure"
	KindLLMShapeFailure Kind = "llm_shape_failure"
	KindStoreUnavailable Kind = "store_unavailable"
	KindStoreConflict   Kind = "store_conflict"
	KindGraphWriteFailure Kind = "graph_write_failure"
	KindValidationFailure Kind = "validation_failure"
	KindNotFound        Kind = "not_found"
)

// Error wraps an underlying cause with a Kind so callers can dispatch
// on errors.As without parsing message text.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a kinded error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err (or anything it wraps) carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

func LLMFailure(op string, err error) error      { return New(KindLLMFailure, op, err) }
func LLMShapeFailure(op string, err error) error { return New(KindLLMShapeFailure, op, err) }
func StoreUnavailable(op string, err error) error { return New(KindStoreUnavailable, op, err) }
func StoreConflict(op string, err error) error   { return New(KindStoreConflict, op, err) }
func GraphWriteFailure(op string, err error) error { return New(KindGraphWriteFailure, op, err) }
func ValidationFailure(op string, err error) error { return New(KindValidationFailure, op, err) }
func NotFound(op string, err error) error        { return New(KindNotFound, op, err) }
