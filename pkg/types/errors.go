package types

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes a structured Error.
type Kind string

const (
	KindAllocation            Kind = "allocation"
	KindConversionUnavailable Kind = "conversion_unavailable"
	KindConversionFailed      Kind = "conversion_failed"
	KindCommitFailure         Kind = "commit_failure"
	KindImmutable             Kind = "immutable"
	KindNotFound              Kind = "not_found"
	KindInvalid               Kind = "invalid"
	KindStorage               Kind = "storage"
)

// Error carries the types or addresses involved in a failure so callers can
// report them. Two Errors match under errors.Is when their Kinds are equal.
type Error struct {
	Kind   Kind
	Op     string
	Src    string
	Dst    string
	Addr   Address
	Detail string
	Cause  error

	hasAddr bool
}

func (e *Error) Error() string {
	var b strings.Builder

	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))

	switch {
	case e.Src != "" && e.Dst != "":
		fmt.Fprintf(&b, " (%s -> %s)", e.Src, e.Dst)
	case e.Src != "":
		fmt.Fprintf(&b, " (%s)", e.Src)
	}
	if e.hasAddr {
		fmt.Fprintf(&b, " at %s", e.Addr)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Kind == t.Kind
}

// Sentinels for errors.Is checks against structured errors.
var (
	ErrAllocation            = &Error{Kind: KindAllocation}
	ErrConversionUnavailable = &Error{Kind: KindConversionUnavailable}
	ErrConversionFailed      = &Error{Kind: KindConversionFailed}
	ErrCommitFailure         = &Error{Kind: KindCommitFailure}
	ErrImmutable             = &Error{Kind: KindImmutable}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrInvalid               = &Error{Kind: KindInvalid}
	ErrStorage               = &Error{Kind: KindStorage}
)

// Lifecycle errors for committed datatypes.
var (
	ErrAlreadyCommitted = errors.New("datatype is already committed")
	ErrNotDatatype      = errors.New("object is not a named datatype")
	ErrHandleClosed     = errors.New("datatype handle is closed")
	ErrNotCommitted     = errors.New("datatype is not committed")
)

// Container errors.
var (
	ErrContainerClosed = errors.New("container is closed")
	ErrAlreadyAttached = errors.New("container is already attached")
	ErrLinkExists      = errors.New("link name already exists")
	ErrNotGroup        = errors.New("object is not a group")
	ErrBadAddress      = errors.New("address does not hold an object")
)

// ErrorBuilder assembles an *Error field by field.
type ErrorBuilder struct {
	err Error
}

// NewError starts a builder for an error of the given kind.
func NewError(kind Kind) *ErrorBuilder {
	return &ErrorBuilder{err: Error{Kind: kind}}
}

// Op names the operation that failed.
func (b *ErrorBuilder) Op(op string) *ErrorBuilder {
	b.err.Op = op
	return b
}

// Types records the source and destination types by their diagnostic names.
func (b *ErrorBuilder) Types(src, dst fmt.Stringer) *ErrorBuilder {
	if src != nil {
		b.err.Src = src.String()
	}
	if dst != nil {
		b.err.Dst = dst.String()
	}
	return b
}

// Type records a single type involved in the failure.
func (b *ErrorBuilder) Type(t fmt.Stringer) *ErrorBuilder {
	if t != nil {
		b.err.Src = t.String()
	}
	return b
}

// At records the container address involved in the failure.
func (b *ErrorBuilder) At(addr Address) *ErrorBuilder {
	b.err.Addr = addr
	b.err.hasAddr = true
	return b
}

// Detail sets a human-readable message.
func (b *ErrorBuilder) Detail(msg string, args ...any) *ErrorBuilder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Wrap sets the underlying cause.
func (b *ErrorBuilder) Wrap(err error) *ErrorBuilder {
	b.err.Cause = err
	return b
}

// Build returns the constructed error.
func (b *ErrorBuilder) Build() *Error {
	e := b.err
	return &e
}
