// Package result defines the closed set of error kinds every v2v operation
// reports, so transports can map failures without parsing messages.
package result

import (
	"errors"
	"fmt"
)

// Kind tags a failure. The set is closed; callers switch on it exhaustively.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthorized
	KindForbidden
	KindInvalidInput
	KindNotFound
	KindConflict
	KindUnsafePath
	KindFilesystem
	KindPersistence
	KindExpired
	KindUnavailable
)

var kindNames = map[Kind]string{
	KindInternal:     "internal",
	KindUnauthorized: "unauthorized",
	KindForbidden:    "forbidden",
	KindInvalidInput: "invalid_input",
	KindNotFound:     "not_found",
	KindConflict:     "conflict",
	KindUnsafePath:   "unsafe_path",
	KindFilesystem:   "filesystem",
	KindPersistence:  "persistence",
	KindExpired:      "expired",
	KindUnavailable:  "unavailable",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the error variant of an operation result.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error of the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the kind of err. Errors that carry no kind are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the caller-facing message of err without the wrapped cause.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
