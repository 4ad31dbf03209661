package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrDecode              = errors.New("xml decode failed")
	ErrMalformedShape      = errors.New("malformed document shape")
	ErrDuplicateIdentifier = errors.New("duplicate record identifier")
	ErrFetch               = errors.New("document fetch failed")
	ErrSchemaFrozen        = errors.New("field union is frozen")
	ErrIndexNotReady       = errors.New("search index not built")
	ErrNotFound            = errors.New("record not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInternal            = errors.New("internal error")
	ErrTimeout             = errors.New("operation timed out")
)

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

// Reason returns a short, stable label for err suitable for metric labels.
func Reason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrMalformedShape):
		return "malformed_shape"
	case errors.Is(err, ErrDuplicateIdentifier):
		return "duplicate_identifier"
	case errors.Is(err, ErrFetch):
		return "fetch"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "other"
	}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateIdentifier):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrDecode), errors.Is(err, ErrMalformedShape):
		return http.StatusBadRequest
	case errors.Is(err, ErrIndexNotReady), errors.Is(err, ErrTimeout), errors.Is(err, ErrFetch):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
