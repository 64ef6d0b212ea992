package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode represents a specific error condition
type ErrorCode string

const (
	// Connection registry errors
	ErrCodeDuplicateConnection ErrorCode = "DUPLICATE_CONNECTION"
	ErrCodeUnknownConnection   ErrorCode = "UNKNOWN_CONNECTION"

	// Tick errors. The tick scheduler keys its continue/abort policy off these.
	ErrCodeConnectionTransient ErrorCode = "CONNECTION_TRANSIENT"
	ErrCodeConnectionFatal     ErrorCode = "CONNECTION_FATAL"
	ErrCodeUnclassifiedTick    ErrorCode = "UNCLASSIFIED_TICK"

	// Background job errors
	ErrCodeJobFailure ErrorCode = "JOB_FAILURE"

	// Configuration errors
	ErrCodeConfigNotFound ErrorCode = "CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  ErrorCode = "CONFIG_INVALID"

	// Daemon errors
	ErrCodeDaemonNotRunning ErrorCode = "DAEMON_NOT_RUNNING"

	// General errors
	ErrCodeUnsupported  ErrorCode = "UNSUPPORTED"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// SessionError represents a structured error with context
type SessionError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *SessionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface
func (e *SessionError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error
func (e *SessionError) WithDetail(key string, value interface{}) *SessionError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ToJSON converts the error to JSON
func (e *SessionError) ToJSON() string {
	data, _ := json.MarshalIndent(e, "", "  ")
	return string(data)
}

// New creates a new SessionError
func New(code ErrorCode, message string) *SessionError {
	return &SessionError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a SessionError
func Wrap(err error, code ErrorCode, message string) *SessionError {
	return &SessionError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Is checks if an error is a specific SessionError code
func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}

	sessionErr, ok := err.(*SessionError)
	if !ok {
		// Try to unwrap
		if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
			return Is(unwrapper.Unwrap(), code)
		}
		return false
	}

	if sessionErr.Code == code {
		return true
	}
	// A SessionError may itself wrap another coded error.
	if sessionErr.Cause != nil {
		return Is(sessionErr.Cause, code)
	}
	return false
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}

	sessionErr, ok := err.(*SessionError)
	if !ok {
		// Try to unwrap
		if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
			return GetCode(unwrapper.Unwrap())
		}
		return ""
	}

	return sessionErr.Code
}

// KindOf classifies an error returned by a connection tick. Only the two
// anticipated classes are recognised; everything else is unclassified.
func KindOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	switch {
	case Is(err, ErrCodeConnectionFatal):
		return ErrCodeConnectionFatal
	case Is(err, ErrCodeConnectionTransient):
		return ErrCodeConnectionTransient
	default:
		return ErrCodeUnclassifiedTick
	}
}
