// Package errors provides structured error handling for Petrel.
//
// Every failure that crosses a component boundary carries a Kind that
// decides its handling policy: validation errors surface to the caller,
// transient errors are retried within a stage budget, device errors demote
// precision once, data errors fail the document immediately, consistency
// errors trigger delete-and-retry, and internal errors fail the task
// without crashing the process.
package errors

// Kind classifies an error for handling policy.
type Kind string

const (
	// KindValidation indicates rejected input (unsupported type, oversized file).
	KindValidation Kind = "VALIDATION"
	// KindTransient indicates a temporary failure worth retrying (I/O timeout, 5xx).
	KindTransient Kind = "TRANSIENT"
	// KindDevice indicates an inference device or resource failure (OOM, device lost).
	KindDevice Kind = "DEVICE"
	// KindData indicates malformed input data; retrying cannot help.
	KindData Kind = "DATA"
	// KindConsistency indicates partially persisted state that needs cleanup.
	KindConsistency Kind = "CONSISTENCY"
	// KindInternal indicates a programming error or unexpected condition.
	KindInternal Kind = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but the process can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// API-visible codes. These appear verbatim in the HTTP error envelope.
const (
	CodeDocumentNotFound  = "DOCUMENT_NOT_FOUND"
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
	CodeFileTooLarge      = "FILE_TOO_LARGE"
	CodeServerError       = "SERVER_ERROR"
	CodeStoreUnavailable  = "STORE_UNAVAILABLE"
	CodeEmbedUnavailable  = "EMBED_UNAVAILABLE"
)

// Internal codes. Mapped to SERVER_ERROR at the HTTP boundary.
const (
	CodeParseFailed       = "PARSE_FAILED"
	CodeParserUnavailable = "PARSER_UNAVAILABLE"
	CodeEmbedFailed       = "EMBED_FAILED"
	CodeStoreFailed       = "STORE_FAILED"
	CodeIOTimeout         = "IO_TIMEOUT"
	CodeDeviceError       = "DEVICE_ERROR"
	CodeStoreInconsistent = "STORE_INCONSISTENT"
	CodeStoreCorrupt      = "STORE_CORRUPT"
	CodeInvalidTransition = "INVALID_TRANSITION"
)

// kindFromCode maps an error code to its handling kind.
func kindFromCode(code string) Kind {
	switch code {
	case CodeInvalidRequest, CodeUnsupportedFormat, CodeFileTooLarge, CodeDocumentNotFound:
		return KindValidation
	case CodeStoreUnavailable, CodeEmbedUnavailable, CodeParserUnavailable, CodeIOTimeout:
		return KindTransient
	case CodeDeviceError:
		return KindDevice
	case CodeParseFailed:
		return KindData
	case CodeStoreInconsistent, CodeStoreCorrupt:
		return KindConsistency
	default:
		return KindInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	if code == CodeStoreCorrupt {
		return SeverityFatal
	}
	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode reports whether the code is retried by a stage budget.
// Device errors are not retried here; the engine demotes precision instead.
func isRetryableCode(code string) bool {
	return kindFromCode(code) == KindTransient
}
