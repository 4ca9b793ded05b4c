// Package syncerr classifies synchronization failures into a small set of
// kinds so callers can decide whether an error ends a connection, a transfer,
// or just one file.
package syncerr

import (
	"errors"
	"fmt"
)

// Kind identifies the failure class of a sync error.
type Kind int

const (
	// KindIO is a filesystem access failure.
	KindIO Kind = iota + 1
	// KindSerialization is a malformed or undecodable envelope.
	KindSerialization
	// KindNetwork is a connection-level failure, including explicit peer rejection.
	KindNetwork
	// KindPathResolution means a path cannot be expressed relative to a sync root.
	KindPathResolution
	// KindChecksum is a chunk integrity mismatch.
	KindChecksum
	// KindIncompleteTransfer means commit was attempted before all chunks arrived.
	KindIncompleteTransfer
	// KindAuth is a rejected, expired, or revoked credential.
	KindAuth
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindSerialization:
		return "serialization"
	case KindNetwork:
		return "network"
	case KindPathResolution:
		return "path-resolution"
	case KindChecksum:
		return "checksum"
	case KindIncompleteTransfer:
		return "incomplete-transfer"
	case KindAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// Error is a sync failure tagged with its Kind. The message is the
// human-readable part; Err carries the wrapped cause, if any.
type Error struct {
	Err  error
	Msg  string
	Kind Kind
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a *Error with the same Kind, so
// errors.Is(err, &Error{Kind: KindChecksum}) matches any checksum error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind wrapping err.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, else 0.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}

// IsKind reports whether err is (or wraps) a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
