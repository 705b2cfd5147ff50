package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode int

// Kind is the machine-checkable category of an AppError.
type Kind string

const (
	KindValidation        Kind = "ValidationError"
	KindInvalidTransition Kind = "InvalidTransition"
	KindConflict          Kind = "ConflictError"
	KindNotFound          Kind = "NotFoundError"
	KindTransport         Kind = "TransportError"
	KindBadRequest        Kind = "BadRequest"
	KindUnauthorized      Kind = "Unauthorized"
	KindInternal          Kind = "Internal"
)

// FieldError describes a single invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// AppError represents an application error
type AppError struct {
	Code    ErrorCode              `json:"code"`
	Kind    Kind                   `json:"kind"`
	Message string                 `json:"message"`
	Fields  []FieldError           `json:"fields,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// StatusCode maps the error kind to an HTTP status.
func (e *AppError) StatusCode() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindInvalidTransition, KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindTransport:
		return http.StatusServiceUnavailable
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// WithDetail attaches a key/value pair to the error and returns it.
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal
	ErrValidation
	ErrInvalidTransition
	ErrConflict
	ErrTransport
)

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Kind:    KindNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Kind:    KindBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Kind:    KindInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// NewValidation builds a field-level validation error. The message lists the
// first failing field so it can be shown directly.
func NewValidation(fields ...FieldError) *AppError {
	msg := "invalid input"
	if len(fields) > 0 {
		msg = fmt.Sprintf("invalid %s: %s", fields[0].Field, fields[0].Message)
	}
	return &AppError{
		Code:    ErrValidation,
		Kind:    KindValidation,
		Message: msg,
		Fields:  fields,
	}
}

// NewInvalidTransition reports that operation is not allowed from status.
func NewInvalidTransition(status, operation string) *AppError {
	return &AppError{
		Code:    ErrInvalidTransition,
		Kind:    KindInvalidTransition,
		Message: fmt.Sprintf("cannot %s an appointment that is %s", operation, status),
		Details: map[string]interface{}{
			"status":    status,
			"operation": operation,
		},
	}
}

func NewConflict(message string, err error) *AppError {
	return &AppError{
		Code:    ErrConflict,
		Kind:    KindConflict,
		Message: message,
		Err:     err,
	}
}

func NewTransport(message string, err error) *AppError {
	return &AppError{
		Code:    ErrTransport,
		Kind:    KindTransport,
		Message: message,
		Err:     err,
	}
}

// Common errors
func NotFound(resource string, err error) *AppError {
	return NewNotFound(resource, err)
}

func BadRequest(message string, err error) *AppError {
	return NewBadRequest(message, err)
}

func Internal(err error) *AppError {
	return NewInternal(err)
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Kind:    KindUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

// As returns the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindInternal
}

func IsValidation(err error) bool        { return err != nil && KindOf(err) == KindValidation }
func IsInvalidTransition(err error) bool { return err != nil && KindOf(err) == KindInvalidTransition }
func IsConflict(err error) bool          { return err != nil && KindOf(err) == KindConflict }
func IsNotFound(err error) bool          { return err != nil && KindOf(err) == KindNotFound }
func IsTransport(err error) bool         { return err != nil && KindOf(err) == KindTransport }
