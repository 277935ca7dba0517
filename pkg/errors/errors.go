// Package errors defines the sentinel errors and structured error types shared
// by the shard registry, the query resolver and the HTTP layer.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrMalformedIndex = errors.New("malformed index")
	ErrShardLoad      = errors.New("shard load failed")
	ErrInvalidQuery   = errors.New("invalid query")
	ErrNotFound       = errors.New("not found")
	ErrSchemeMismatch = errors.New("bucketing scheme mismatch")
	ErrSuperseded     = errors.New("query superseded")
	ErrUnsupported    = errors.New("operation not supported")
	ErrInternal       = errors.New("internal error")
)

// MalformedIndexError reports a shard that violates the sort or uniqueness
// invariants. Index is the offending entry position, or -1 when the problem
// is not tied to a single entry.
type MalformedIndexError struct {
	BucketID string
	Index    int
	Reason   string
}

func (e *MalformedIndexError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("malformed index: bucket %q: %s", e.BucketID, e.Reason)
	}
	return fmt.Sprintf("malformed index: bucket %q entry %d: %s", e.BucketID, e.Index, e.Reason)
}

func (e *MalformedIndexError) Unwrap() error {
	return ErrMalformedIndex
}

// ShardLoadError is returned by the registry when a bucket cannot be fetched,
// parsed or validated.
type ShardLoadError struct {
	BucketID string
	Cause    error
}

func (e *ShardLoadError) Error() string {
	return fmt.Sprintf("loading shard %q: %v", e.BucketID, e.Cause)
}

// Unwrap exposes both the ErrShardLoad sentinel and the underlying cause, so
// errors.Is matches either.
func (e *ShardLoadError) Unwrap() []error {
	return []error{ErrShardLoad, e.Cause}
}

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

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, ErrShardLoad), errors.Is(err, ErrMalformedIndex), errors.Is(err, ErrSchemeMismatch):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
