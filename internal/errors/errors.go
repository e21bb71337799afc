package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// PetrelError is the structured error type for Petrel.
// It provides context for error handling, logging, and the API envelope.
type PetrelError struct {
	// Code is the error code (e.g., "UNSUPPORTED_FORMAT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Kind is the handling-policy classification.
	Kind Kind

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *PetrelError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *PetrelError) Unwrap() error {
	return e.Cause
}

// Is matches errors by code, enabling errors.Is on PetrelError values.
func (e *PetrelError) Is(target error) bool {
	if t, ok := target.(*PetrelError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *PetrelError) WithDetail(key, value string) *PetrelError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new PetrelError with the given code and message.
// Kind, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *PetrelError {
	return &PetrelError{
		Code:      code,
		Message:   message,
		Kind:      kindFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a PetrelError from an existing error.
// The error's message becomes the PetrelError message.
func Wrap(code string, err error) *PetrelError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// NotFound creates a document-not-found error.
func NotFound(docID string) *PetrelError {
	return New(CodeDocumentNotFound, fmt.Sprintf("document not found: %s", docID), nil)
}

// InvalidRequest creates a request validation error.
func InvalidRequest(message string) *PetrelError {
	return New(CodeInvalidRequest, message, nil)
}

// UnsupportedFormat creates an unsupported-file-type error.
func UnsupportedFormat(message string) *PetrelError {
	return New(CodeUnsupportedFormat, message, nil)
}

// FileTooLarge creates an oversized-file error.
func FileTooLarge(message string) *PetrelError {
	return New(CodeFileTooLarge, message, nil)
}

// ParseError creates a data-dependent parse failure. Never retried.
func ParseError(message string, cause error) *PetrelError {
	return New(CodeParseFailed, message, cause)
}

// EmbedUnavailable creates an error for an unreachable inference backend.
func EmbedUnavailable(message string, cause error) *PetrelError {
	return New(CodeEmbedUnavailable, message, cause)
}

// ParserUnavailable creates an error for an unreachable or failing
// parser sidecar. Transient; the stage budget retries it.
func ParserUnavailable(message string, cause error) *PetrelError {
	return New(CodeParserUnavailable, message, cause)
}

// StoreUnavailable creates an error for an unreachable or failing store.
func StoreUnavailable(message string, cause error) *PetrelError {
	return New(CodeStoreUnavailable, message, cause)
}

// DeviceError creates an inference device/resource error.
func DeviceError(message string, cause error) *PetrelError {
	return New(CodeDeviceError, message, cause)
}

// Timeout creates a transient timeout error for the named operation.
func Timeout(op string, cause error) *PetrelError {
	return New(CodeIOTimeout, fmt.Sprintf("%s timed out", op), cause)
}

// Internal creates an internal error.
func Internal(message string, cause error) *PetrelError {
	return New(CodeServerError, message, cause)
}

// IsRetryable checks if an error should be retried by a stage budget.
// Unwraps the chain; bare timeouts count as retryable.
func IsRetryable(err error) bool {
	return Classify(err) == KindTransient
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	var pe *PetrelError
	if errors.As(err, &pe) {
		return pe.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a PetrelError chain.
// Returns empty string if no PetrelError is present.
func GetCode(err error) string {
	var pe *PetrelError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// Classify determines the handling kind for an arbitrary error.
// PetrelError kinds pass through; context deadline and net timeouts are
// transient; context cancellation and everything else is internal.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *PetrelError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTransient
	}
	return KindInternal
}
