package errors

import (
	stderrors "errors"
	"fmt"
)

type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches any AppError carrying the same code, so errors.Is(err, ErrValidation)
// works for wrapped instances created with New or Wrap.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func New(code, message string, cause ...error) *AppError {
	var c error
	if len(cause) > 0 {
		c = cause[0]
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   c,
	}
}

const (
	CodeTransientNetwork = "NET_001"
	CodeValidation       = "VAL_001"
	CodeUserAction       = "USER_001"
	CodeEnvironment      = "ENV_001"
)

var (
	ErrConfigNotFound = &AppError{Code: "CONFIG_001", Message: "configuration not found"}
	ErrConfigInvalid  = &AppError{Code: "CONFIG_002", Message: "invalid configuration"}

	// Background loop failures. Logged and retried on the next tick.
	ErrTransientNetwork = &AppError{Code: CodeTransientNetwork, Message: "transient network error"}
	// Missing input to a user action. Raised before any network call.
	ErrValidation = &AppError{Code: CodeValidation, Message: "validation failed"}
	// Backend failure during a user action. Always surfaced to the caller.
	ErrUserAction = &AppError{Code: CodeUserAction, Message: "user action failed"}
	// Notification permission denied or platform unavailable.
	ErrEnvironment = &AppError{Code: CodeEnvironment, Message: "environment limitation"}

	ErrUnauthorized = &AppError{Code: "AUTH_001", Message: "unauthorized"}

	ErrNotFound   = &AppError{Code: "GEN_001", Message: "resource not found"}
	ErrBadRequest = &AppError{Code: "GEN_002", Message: "bad request"}
	ErrInternal   = &AppError{Code: "GEN_003", Message: "internal error"}
)

func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Validation builds a VAL_001 error for a missing or malformed field.
func Validation(field, message string) *AppError {
	return New(CodeValidation, fmt.Sprintf("%s: %s", field, message))
}

// UserAction wraps a backend failure that happened while serving a user request.
func UserAction(message string, cause error) *AppError {
	return Wrap(cause, CodeUserAction, message)
}

// Transient wraps a backend failure inside a background tick.
func Transient(message string, cause error) *AppError {
	return Wrap(cause, CodeTransientNetwork, message)
}

// Environment marks a platform limitation such as a denied notification permission.
func Environment(message string, cause ...error) *AppError {
	return New(CodeEnvironment, message, cause...)
}
