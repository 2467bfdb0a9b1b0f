// Package cyerr defines the abstract error kinds used throughout the node
// (spec §7), modeled on ehrlich-b-go-ublk's structured *Error type: an
// operation name, a high-level kind, and an optional wrapped cause.
package cyerr

import (
	"errors"
	"fmt"
)

// Kind is one of the abstract error categories from spec.md §7. It is not a
// Go error type by itself; it is the classification carried by *Error.
type Kind string

const (
	// KindArgument marks a malformed call; a bug, asserted in debug builds.
	KindArgument Kind = "argument"
	// KindCapacity marks an exhausted queue or buffer.
	KindCapacity Kind = "capacity"
	// KindMemory marks pool OOM; never fatal, reflected in Heartbeat health.
	KindMemory Kind = "memory"
	// KindAnonymous marks an operation that requires an assigned node-ID.
	KindAnonymous Kind = "anonymous"
	// KindAlreadyExists marks a duplicate port/service registration.
	KindAlreadyExists Kind = "already_exists"
	// KindSemantics marks a register type-mismatch on assignment.
	KindSemantics Kind = "semantics"
	// KindIO marks a socket or storage failure.
	KindIO Kind = "io"
)

// Error is the structured error carried across every fallible operation in
// this tree. Handlers never unwind (spec §9): every fallible call returns
// one of these instead of panicking.
type Error struct {
	Op    string
	Kind  Kind
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	if e.Inner != nil {
		return fmt.Sprintf("cynode: %s: %s: %s: %v", e.Op, e.Kind, e.Msg, e.Inner)
	}
	return fmt.Sprintf("cynode: %s: %s: %s", e.Op, e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Inner }

// Is supports errors.Is comparison by Kind alone, so callers can write
// errors.Is(err, cyerr.New("", cyerr.KindCapacity, "")) or, more idiomatically,
// cyerr.Is(err, cyerr.KindCapacity).
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	if te.Kind == "" {
		return false
	}
	return e.Kind == te.Kind
}

// New constructs a structured error for the given operation and kind.
func New(op string, kind Kind, msg string) *Error {
	return &Error{Op: op, Kind: kind, Msg: msg}
}

// Wrap attaches an operation and kind to an existing error, preserving it as
// the unwrap chain's cause. If inner is already a *Error, its Kind is kept
// and the kind argument is ignored.
func Wrap(op string, kind Kind, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ce, ok := inner.(*Error); ok {
		return &Error{Op: op, Kind: ce.Kind, Msg: ce.Msg, Inner: ce}
	}
	return &Error{Op: op, Kind: kind, Msg: inner.Error(), Inner: inner}
}

// Is reports whether err is a *Error of the given kind, anywhere in its
// Unwrap chain.
func Is(err error, kind Kind) bool {
	var ce *Error
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Kind == kind
}

// KindOf extracts the Kind of err, or "" if err isn't a *Error.
func KindOf(err error) Kind {
	var ce *Error
	if !errors.As(err, &ce) {
		return ""
	}
	return ce.Kind
}
