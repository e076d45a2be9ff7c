// Package apierr defines the client-facing error taxonomy shared by services
// and the HTTP layer.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, client-visible error identifier.
type Code string

const (
	CodeValidation             Code = "VAL_VALIDATION_ERROR"
	CodeUnauthorized           Code = "AUTH_UNAUTHORIZED"
	CodePropertyAccessDenied   Code = "ACC_PROPERTY_ACCESS_DENIED"
	CodeRoleForbidden          Code = "ACC_ROLE_FORBIDDEN"
	CodeNoteAccessDenied       Code = "ACC_NOTE_ACCESS_DENIED"
	CodePropertyNotFound       Code = "RES_PROPERTY_NOT_FOUND"
	CodeImageNotFound          Code = "RES_IMAGE_NOT_FOUND"
	CodeDocumentNotFound       Code = "RES_DOCUMENT_NOT_FOUND"
	CodeNoteNotFound           Code = "RES_NOTE_NOT_FOUND"
	CodeOwnerNotFound          Code = "RES_OWNER_NOT_FOUND"
	CodePropertyHasDependents  Code = "RES_PROPERTY_HAS_DEPENDENCIES"
	CodeConcurrentModification Code = "RES_CONCURRENT_MODIFICATION"
	CodeRateLimited            Code = "RATE_LIMIT_EXCEEDED"
	CodeImageStoreUnavailable  Code = "FEAT_IMAGE_STORE_UNAVAILABLE"
	CodeInternal               Code = "ERR_INTERNAL_SERVER"
)

// FieldError itemizes a single invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error carries an HTTP status and taxonomy code alongside the message shown to clients.
type Error struct {
	Status  int
	Code    Code
	Message string
	Details any
	cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New constructs an Error.
func New(status int, code Code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// WithDetails returns a copy carrying structured details.
func (e *Error) WithDetails(details any) *Error {
	copyErr := *e
	copyErr.Details = details
	return &copyErr
}

// WithCause returns a copy wrapping the underlying cause for logging.
func (e *Error) WithCause(cause error) *Error {
	copyErr := *e
	copyErr.cause = cause
	return &copyErr
}

// Validation reports malformed or insufficient input.
func Validation(message string, fields ...FieldError) *Error {
	err := New(http.StatusBadRequest, CodeValidation, message)
	if len(fields) > 0 {
		err.Details = fields
	}
	return err
}

// NotFound reports a missing resource.
func NotFound(code Code, message string) *Error {
	return New(http.StatusNotFound, code, message)
}

// Forbidden reports an access violation.
func Forbidden(code Code, message string) *Error {
	return New(http.StatusForbidden, code, message)
}

// Conflict reports a state conflict such as dependent records.
func Conflict(code Code, message string) *Error {
	return New(http.StatusConflict, code, message)
}

// Internal wraps an unexpected failure.
func Internal(cause error) *Error {
	return New(http.StatusInternalServerError, CodeInternal, "Internal server error").WithCause(cause)
}

// As extracts an *Error from the chain; unknown errors become internal errors.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Internal(err)
}
