// Package errors provides error code definitions shared across the sync agent.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique error code surfaced to callers and the UI.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	ErrInvalid  ErrorCode = "INVALID_INPUT"
	ErrNotFound ErrorCode = "NOT_FOUND"

	// Local storage errors
	ErrStorage   ErrorCode = "STORAGE_ERROR"
	ErrMigration ErrorCode = "MIGRATION_FAILED"

	// Queue errors
	ErrQueueFull      ErrorCode = "QUEUE_FULL"
	ErrUnknownKind    ErrorCode = "UNKNOWN_KIND"
	ErrSyncInProgress ErrorCode = "SYNC_IN_PROGRESS"

	// Remote service errors
	ErrNetwork        ErrorCode = "NETWORK_ERROR"
	ErrRemoteRejected ErrorCode = "REMOTE_REJECTED"
	ErrAuthFailed     ErrorCode = "AUTH_FAILED"

	// Attachment errors
	ErrAttachmentTooLarge    ErrorCode = "ATTACHMENT_TOO_LARGE"
	ErrAttachmentUnsupported ErrorCode = "ATTACHMENT_UNSUPPORTED"
	ErrAttachmentMissing     ErrorCode = "ATTACHMENT_MISSING"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error carries a specific code, unwrapping as needed.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Code extracts the error code from an error, or ErrInternal if it has none.
func Code(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// Transient reports whether the error is worth retrying later.
// Network failures are transient; remote rejections and local storage
// failures are not.
func Transient(err error) bool {
	return Is(err, ErrNetwork)
}
