package errors

import (
	"fmt"
)

// DuplicateConnection creates an error for a URI that is already registered
func DuplicateConnection(uri string) *SessionError {
	return New(ErrCodeDuplicateConnection, fmt.Sprintf("connection '%s' is already registered", uri)).
		WithDetail("uri", uri)
}

// UnknownConnection creates an error for a URI that is not registered
func UnknownConnection(uri string) *SessionError {
	return New(ErrCodeUnknownConnection, fmt.Sprintf("unknown connection URI %s", uri)).
		WithDetail("uri", uri)
}

// ConnectionFatal marks a tick failure caused by the remote endpoint daemon
// going away. The scheduler closes the connection and keeps going.
func ConnectionFatal(uri string, cause error) *SessionError {
	return Wrap(cause, ErrCodeConnectionFatal, fmt.Sprintf("endpoint for %s appears to have stopped", uri)).
		WithDetail("uri", uri)
}

// ConnectionTransient marks a recoverable tick failure.
func ConnectionTransient(uri string, cause error) *SessionError {
	return Wrap(cause, ErrCodeConnectionTransient, fmt.Sprintf("could not refresh connection %s", uri)).
		WithDetail("uri", uri)
}

// UnclassifiedTick wraps an unexpected tick failure that aborted a cycle.
func UnclassifiedTick(uri string, cause error) *SessionError {
	return Wrap(cause, ErrCodeUnclassifiedTick, fmt.Sprintf("unexpected error refreshing %s", uri)).
		WithDetail("uri", uri)
}

// JobFailure creates an error describing a failed background job
func JobFailure(label, summary, detail string) *SessionError {
	return New(ErrCodeJobFailure, fmt.Sprintf("%s: %s", label, summary)).
		WithDetail("label", label).
		WithDetail("trace", detail)
}

// Unsupported creates an error for an operation the connection cannot perform
func Unsupported(op, reason string) *SessionError {
	return New(ErrCodeUnsupported, fmt.Sprintf("%s is not supported: %s", op, reason)).
		WithDetail("operation", op)
}

// ConfigNotFound creates a configuration not found error
func ConfigNotFound(path string) *SessionError {
	return New(ErrCodeConfigNotFound, fmt.Sprintf("configuration file not found: %s", path)).
		WithDetail("path", path)
}

// ConfigInvalid creates an invalid configuration error
func ConfigInvalid(reason string) *SessionError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", reason))
}

// DaemonNotRunning creates an error for commands that need the session daemon
func DaemonNotRunning(socket string) *SessionError {
	return New(ErrCodeDaemonNotRunning, "session daemon is not running").
		WithDetail("socket", socket)
}
