// Package errors implements the library error taxonomy shared by every core component.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by how a caller is expected to react to it.
type Kind int

const (
	// KindNotFound indicates an unknown id, url or content hash.
	// Recoverable: the caller decides what a miss means.
	KindNotFound Kind = iota

	// KindConflict indicates a duplicate unique key under concurrent registration.
	// Recoverable by retrying the operation as an update.
	KindConflict

	// KindCorrupted indicates stored bytes no longer match their content hash.
	// Surfaced only; repair requires re-fetching from the original source.
	KindCorrupted

	// KindInvalidConfiguration indicates a rejected parameter set such as ranker
	// weights that do not sum to one. Fails fast, never clamped.
	KindInvalidConfiguration

	// KindInvalidInput indicates malformed caller input (bad url, bad hash, out of range value).
	KindInvalidInput
)

var kindNames = map[Kind]string{
	KindNotFound:             "not_found",
	KindConflict:             "conflict",
	KindCorrupted:            "corrupted",
	KindInvalidConfiguration: "invalid_configuration",
	KindInvalidInput:         "invalid_input",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// HTTPStatus maps a kind onto the status code used by the HTTP surface.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindCorrupted:
		return http.StatusUnprocessableEntity
	case KindInvalidConfiguration, KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error wraps an error with its kind and the operation that produced it.
type Error struct {
	Kind       Kind
	Op         string
	Message    string
	Underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Underlying != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, msg, e.Underlying)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Underlying
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New creates an error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to err. Errors that already carry a kind keep it.
func Wrap(kind Kind, op, message string, err error) error {
	if err == nil {
		return nil
	}

	var existing *Error
	if errors.As(err, &existing) {
		kind = existing.Kind
	}

	return &Error{Kind: kind, Op: op, Message: message, Underlying: err}
}

// KindOf extracts the Kind from err. ok is false for unclassified errors.
func KindOf(err error) (kind Kind, ok bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound             = New(KindNotFound, "", "not found")
	ErrConflict             = New(KindConflict, "", "conflict")
	ErrCorrupted            = New(KindCorrupted, "", "corrupted")
	ErrInvalidConfiguration = New(KindInvalidConfiguration, "", "invalid configuration")
	ErrInvalidInput         = New(KindInvalidInput, "", "invalid input")
)

// IsNotFound reports whether err is of kind NotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is of kind Conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsCorrupted reports whether err is of kind Corrupted.
func IsCorrupted(err error) bool {
	return errors.Is(err, ErrCorrupted)
}
