package clexec

import (
	"errors"
	"fmt"
)

// ErrorKind is the error taxonomy: a category, not a distinct Go type per
// kind (spec.md §7).
type ErrorKind string

const (
	KindDecode    ErrorKind = "decode"
	KindCompile   ErrorKind = "compile"
	KindResource  ErrorKind = "resource"
	KindAction    ErrorKind = "action"
	KindTimeout   ErrorKind = "timeout"
	KindPrimitive ErrorKind = "primitive"
	KindPanic     ErrorKind = "panic"
)

// Error is the structured error type every clexec entry point returns.
type Error struct {
	Op    string
	Kind  ErrorKind
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("clexec: %s: %s: %s", e.Op, e.Kind, e.Msg)
	}
	return fmt.Sprintf("clexec: %s: %s", e.Kind, e.Msg)
}

// Unwrap supports errors.Is/As against the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is lets errors.Is(err, &Error{Kind: KindTimeout}) match on Kind alone.
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

func newError(op string, kind ErrorKind, msg string, inner error) *Error {
	return &Error{Op: op, Kind: kind, Msg: msg, Inner: inner}
}

// NewDecodeError wraps a wire-schema failure.
func NewDecodeError(op string, inner error) *Error {
	return newError(op, KindDecode, inner.Error(), inner)
}

// NewCompileError wraps a JIT parse/verify/link failure.
func NewCompileError(op string, inner error) *Error {
	return newError(op, KindCompile, inner.Error(), inner)
}

// NewResourceError wraps an allocation or thread-pool setup failure.
func NewResourceError(op string, inner error) *Error {
	return newError(op, KindResource, inner.Error(), inner)
}

// NewActionError reports a malformed or out-of-range action.
func NewActionError(op, msg string) *Error {
	return newError(op, KindAction, msg, nil)
}

// NewTimeoutError reports an Execute that exceeded its wall-clock budget.
func NewTimeoutError(op string) *Error {
	return newError(op, KindTimeout, "timeout budget exceeded", nil)
}

// WrapPrimitiveError wraps a host-side primitive failure. These are
// normally surfaced to user IR through its i32/i64 return convention and
// never become a Go error (spec.md §7); this constructor is for a
// primitive's own setup (not its per-call invocation) failing. No clexec
// entry point currently calls it.
func WrapPrimitiveError(op string, inner error) *Error {
	return newError(op, KindPrimitive, inner.Error(), inner)
}

// NewPanicError wraps a recovered host-side fault during Execute.
func NewPanicError(op string, recovered any) *Error {
	return newError(op, KindPanic, fmt.Sprintf("%v", recovered), nil)
}

// IsKind reports whether err is a *Error of the given kind, walking wrapped
// errors per errors.As.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
