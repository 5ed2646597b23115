package errors

import (
	"errors"
	"net/http"
)

type ErrorType string

const (
	ErrorTypeNotFound          ErrorType = "NOT_FOUND"
	ErrorTypeInvalidParent     ErrorType = "INVALID_PARENT"
	ErrorTypeConflict          ErrorType = "CONFLICT"
	ErrorTypeDuplicateBranch   ErrorType = "DUPLICATE_BRANCH"
	ErrorTypeBranchProtected   ErrorType = "BRANCH_PROTECTED"
	ErrorTypeInvalidCapability ErrorType = "INVALID_CAPABILITY"
	ErrorTypeValidation        ErrorType = "VALIDATION"
	ErrorTypeStorage           ErrorType = "STORAGE"
)

type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    int       `json:"code"`
	Details any       `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// IsType reports whether err is (or wraps) an *Error of the given type.
func IsType(err error, t ErrorType) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Type == t
}

func NotFound(message string) *Error {
	return &Error{
		Type:    ErrorTypeNotFound,
		Message: message,
		Code:    http.StatusNotFound,
	}
}

func InvalidParent(message string) *Error {
	return &Error{
		Type:    ErrorTypeInvalidParent,
		Message: message,
		Code:    http.StatusUnprocessableEntity,
	}
}

func Conflict(message string) *Error {
	return &Error{
		Type:    ErrorTypeConflict,
		Message: message,
		Code:    http.StatusConflict,
	}
}

func DuplicateBranch(message string) *Error {
	return &Error{
		Type:    ErrorTypeDuplicateBranch,
		Message: message,
		Code:    http.StatusConflict,
	}
}

func BranchProtected(message string) *Error {
	return &Error{
		Type:    ErrorTypeBranchProtected,
		Message: message,
		Code:    http.StatusForbidden,
	}
}

func InvalidCapability(message string) *Error {
	return &Error{
		Type:    ErrorTypeInvalidCapability,
		Message: message,
		Code:    http.StatusForbidden,
	}
}

func ValidationError(message string, details any) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Message: message,
		Code:    http.StatusBadRequest,
		Details: details,
	}
}

func Storage(message string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeStorage,
		Message: message,
		Code:    http.StatusServiceUnavailable,
		cause:   cause,
	}
}
