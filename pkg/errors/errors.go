package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the engine's error taxonomy. Callers branch on these
// with errors.Is; the HTTP layer maps them to status codes via HTTPStatus.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrConflict      = errors.New("concurrent modification")
	ErrEvaluation    = errors.New("predicate evaluation failed")
	ErrInternal      = errors.New("internal error")
)

// AppError is a structured application error carrying a stable machine code
// and an HTTP status mapping.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a 404 error for a missing resource.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// AlreadyExists creates a 409 error for a uniqueness violation.
func AlreadyExists(resource, field, value string) *AppError {
	return &AppError{
		Code:    "ALREADY_EXISTS",
		Message: fmt.Sprintf("%s with %s %q already exists", resource, field, value),
		Status:  http.StatusConflict,
		Err:     ErrAlreadyExists,
	}
}

// InvalidInput creates a 400 error for input rejected at validation time.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// Conflict creates a 409 error for a write that lost a per-promotion lock
// race. The caller is expected to retry the mutation.
func Conflict(message string) *AppError {
	return &AppError{
		Code:    "CONCURRENT_MODIFICATION",
		Message: message,
		Status:  http.StatusConflict,
		Err:     ErrConflict,
	}
}

// Evaluation creates an error for an unexpected predicate shape hit at
// evaluation time. It is never surfaced over HTTP; pricing treats the
// affected line as non-matching and keeps going.
func Evaluation(message string) *AppError {
	return &AppError{
		Code:    "EVALUATION_ERROR",
		Message: message,
		Status:  http.StatusInternalServerError,
		Err:     ErrEvaluation,
	}
}

// Internal creates a 500 error wrapping an unexpected failure.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
