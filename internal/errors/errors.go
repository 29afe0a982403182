package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Authentication & Authorization
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"

	// Validation
	ErrCodeValidation        ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired   ErrorCode = "MISSING_REQUIRED"
	ErrCodeInvalidIdentifier ErrorCode = "INVALID_IDENTIFIER"

	// Resource
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"
	ErrCodeConflict      ErrorCode = "CONFLICT"

	// Policy
	ErrCodePolicyDenied  ErrorCode = "POLICY_DENIED"
	ErrCodeQuotaExceeded ErrorCode = "QUOTA_EXCEEDED"

	// Pairing
	ErrCodeInvalidCode ErrorCode = "INVALID_CODE"
	ErrCodeAlreadyUsed ErrorCode = "ALREADY_USED"

	// Transfer lifecycle
	ErrCodeCannotStart     ErrorCode = "CANNOT_START"
	ErrCodeApprovalExpired ErrorCode = "APPROVAL_EXPIRED"
	ErrCodeTerminalState   ErrorCode = "TERMINAL_STATE"

	// Transport (retryable)
	ErrCodeTimeout   ErrorCode = "TIMEOUT"
	ErrCodeTransport ErrorCode = "TRANSPORT_ERROR"

	// Import
	ErrCodeRecordImport ErrorCode = "RECORD_IMPORT_ERROR"

	// Rate Limiting
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func Forbidden(message string) *AppError {
	return New(ErrCodeForbidden, message)
}

func InvalidToken(message string) *AppError {
	return New(ErrCodeInvalidToken, message)
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func AlreadyExists(resource string) *AppError {
	return New(ErrCodeAlreadyExists, fmt.Sprintf("%s already exists", resource))
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func InvalidIdentifier(name string) *AppError {
	return New(ErrCodeInvalidIdentifier, fmt.Sprintf("unsafe SQL identifier: %q", name))
}

func PolicyDenied(reason string) *AppError {
	return New(ErrCodePolicyDenied, reason)
}

func QuotaExceeded(quota string) *AppError {
	return New(ErrCodeQuotaExceeded, fmt.Sprintf("Quota exhausted: %s", quota))
}

func InvalidCode() *AppError {
	return New(ErrCodeInvalidCode, "Invalid or expired pairing code")
}

func AlreadyUsed() *AppError {
	return New(ErrCodeAlreadyUsed, "Pairing code has already been used")
}

func CannotStart(status string) *AppError {
	return New(ErrCodeCannotStart, fmt.Sprintf("Transfer cannot start from status %q", status))
}

func ApprovalExpired() *AppError {
	return New(ErrCodeApprovalExpired, "Approval window has expired")
}

func TerminalState(status string) *AppError {
	return New(ErrCodeTerminalState, fmt.Sprintf("Transfer is already terminal (%s)", status))
}

func Timeout(operation string) *AppError {
	return New(ErrCodeTimeout, fmt.Sprintf("Timed out waiting for %s", operation))
}

func Transport(message string, cause error) *AppError {
	return Wrap(ErrCodeTransport, message, cause)
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsRetryable reports whether the error is a transport-level failure the
// caller may retry without failing the whole transfer.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case ErrCodeTimeout, ErrCodeTransport:
		return true
	}
	return false
}
