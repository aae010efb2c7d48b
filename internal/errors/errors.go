// Package errors provides coded application errors bridged unchanged to
// the UI layer.
package errors

import "fmt"

// ErrorCode is a stable machine-readable error identifier.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Database errors
	ErrDatabase   ErrorCode = "DATABASE_ERROR"
	ErrMigration  ErrorCode = "MIGRATION_FAILED"
	ErrConstraint ErrorCode = "CONSTRAINT_VIOLATION"

	// Sync errors
	ErrSync            ErrorCode = "SYNC_ERROR"
	ErrSyncInProgress  ErrorCode = "SYNC_IN_PROGRESS"
	ErrSyncConflict    ErrorCode = "SYNC_CONFLICT"
	ErrSyncTimeout     ErrorCode = "SYNC_TIMEOUT"
	ErrUploadRejected  ErrorCode = "UPLOAD_REJECTED"
	ErrBootstrapFailed ErrorCode = "BOOTSTRAP_FAILED"
	ErrMediaUpload     ErrorCode = "MEDIA_UPLOAD_FAILED"

	// Conflict resolution errors
	ErrMergeNotSupported ErrorCode = "MERGE_NOT_SUPPORTED"
)

// AppError is an application error with a code, a human-readable message
// and a retryable flag the sync engine uses to classify failures.
type AppError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Err       error
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
	return &AppError{Code: code, Message: message}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Retryable marks the error as safe to retry and returns it.
func (e *AppError) AsRetryable() *AppError {
	e.Retryable = true
	return e
}

// Is checks whether err carries the given code, unwrapping as needed.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok && appErr.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// IsRetryable reports whether err is an AppError flagged retryable.
func IsRetryable(err error) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok {
			return appErr.Retryable
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
