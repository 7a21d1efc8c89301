// Package errors defines the five error kinds the core engine surfaces
// (FormatError, IOError, QueryParseError, ValidationError,
// ConcurrentModification), each as a sentinel wrapped by AppError so callers
// can attach a message while still matching the kind with errors.Is.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrFormat covers magic mismatch, unsupported version, CRC failure,
	// malformed varint, offset out of range, or term-ordering violations.
	// Fatal for the affected file.
	ErrFormat = errors.New("format error")
	// ErrIO covers underlying read/write/rename/fsync failures.
	ErrIO = errors.New("io error")
	// ErrQueryParse covers lexer or parser violations. Never fatal.
	ErrQueryParse = errors.New("query parse error")
	// ErrValidation covers a caller violating an input contract. Always a
	// programmer error; never retried.
	ErrValidation = errors.New("validation error")
	// ErrConcurrentModification is returned when the manifest changed
	// under a writer after its retry budget is exhausted.
	ErrConcurrentModification = errors.New("concurrent modification")
)

// AppError pairs a sentinel error kind with a human-readable message and an
// HTTP status code for the optional daemon surface.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New wraps sentinel with message, inferring the HTTP status code from the
// sentinel kind.
func New(sentinel error, message string) *AppError {
	return &AppError{Err: sentinel, Message: message, StatusCode: httpStatusForSentinel(sentinel)}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(sentinel error, format string, args ...any) *AppError {
	return New(sentinel, fmt.Sprintf(format, args...))
}

// HTTPStatusCode maps err to an HTTP status code for the optional daemon; it
// unwraps AppError first, then falls back to matching known sentinels.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return httpStatusForSentinel(err)
}

func httpStatusForSentinel(err error) int {
	switch {
	case errors.Is(err, ErrFormat):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrIO):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrQueryParse):
		return http.StatusBadRequest
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrConcurrentModification):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
