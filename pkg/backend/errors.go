package backend

import (
	"context"
	"errors"
	"fmt"
)

type ErrorKind int

const (
	KindFatal ErrorKind = iota
	KindNotFound
	KindPermissionDenied
	KindRateLimited
	KindTransient
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindPermissionDenied:
		return "permission denied"
	case KindRateLimited:
		return "rate limited"
	case KindTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// Error is the classified failure of one backend call.
type Error struct {
	Kind ErrorKind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %q: %s", e.Op, e.Path, e.Kind)
	}
	return fmt.Sprintf("%s %q: %s: %v", e.Op, e.Path, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind ErrorKind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// KindOf classifies err. Unclassified errors are fatal except deadline
// expiries, which count as transient.
func KindOf(err error) ErrorKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindFatal
}

// IsRetryable reports whether repeating the call may succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	k := KindOf(err)
	return k == KindRateLimited || k == KindTransient
}

func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}

// PartialMoveError is returned by emulated moves when the copy succeeded but
// removing the source failed. The destination holds a duplicate.
type PartialMoveError struct {
	From string
	To   string
	Err  error
}

func (e *PartialMoveError) Error() string {
	return fmt.Sprintf("partial move %q to %q: source not removed: %v", e.From, e.To, e.Err)
}

func (e *PartialMoveError) Unwrap() error {
	return e.Err
}
