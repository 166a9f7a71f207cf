// Package errors defines the sentinel errors shared by the indexer and the
// search service, and AppError, which pairs a sentinel with the HTTP status
// and client-safe message the API reports for it.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidQuery        = errors.New("invalid query")
	ErrIndexUnavailable    = errors.New("index unavailable")
	ErrSourceUnreadable    = errors.New("source file unreadable")
	ErrSourceMalformed     = errors.New("source file malformed")
	ErrRowNotFound         = errors.New("source row not found")
	ErrAnalyzerNoResult    = errors.New("text analysis returned no result")
	ErrAnalyzerUnavailable = errors.New("text analyzer not configured")
	ErrInternal            = errors.New("internal error")
	ErrTimeout             = errors.New("operation timed out")
	ErrCacheUnavailable    = errors.New("cache unavailable")
	ErrLedgerUnavailable   = errors.New("build ledger unavailable")
)

// AppError is an error with an API presentation. Err is the sentinel it
// matches; Cause, when set, is the underlying failure kept for logs.
type AppError struct {
	Err        error
	Cause      error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%v: %s: %v", e.Err, e.Message, e.Cause)
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Message)
}

// Unwrap exposes both the sentinel and the cause to errors.Is and errors.As.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{Err: sentinel, Message: message, StatusCode: statusCode}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return New(sentinel, statusCode, fmt.Sprintf(format, args...))
}

// Wrap is New with the failure that caused it.
func Wrap(cause, sentinel error, statusCode int, message string) *AppError {
	return &AppError{Err: sentinel, Cause: cause, Message: message, StatusCode: statusCode}
}

// HTTPStatusCode picks the response status for err: an AppError's own
// status, else one derived from the sentinel it wraps, else 500.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	switch {
	case errors.Is(err, ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, ErrIndexUnavailable),
		errors.Is(err, ErrCacheUnavailable),
		errors.Is(err, ErrLedgerUnavailable),
		errors.Is(err, ErrAnalyzerUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the text safe to show a client for err. Only 4xx
// and 503 AppErrors expose their message; everything else is reported
// generically so internal details stay in the logs.
func PublicMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) &&
		(appErr.StatusCode < http.StatusInternalServerError || appErr.StatusCode == http.StatusServiceUnavailable) {
		return appErr.Message
	}
	if HTTPStatusCode(err) == http.StatusGatewayTimeout {
		return "request timeout"
	}
	return "internal server error"
}
