package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Envelope is the wire shape of an API error response.
type Envelope struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// apiVisible reports whether a code may appear in an API envelope.
func apiVisible(code string) bool {
	switch code {
	case CodeDocumentNotFound, CodeInvalidRequest, CodeUnsupportedFormat,
		CodeFileTooLarge, CodeServerError, CodeStoreUnavailable, CodeEmbedUnavailable:
		return true
	default:
		return false
	}
}

// ToEnvelope converts any error into the API error envelope.
// Internal codes collapse to SERVER_ERROR; the message passes through.
func ToEnvelope(err error) Envelope {
	if err == nil {
		return Envelope{}
	}

	var pe *PetrelError
	if !errors.As(err, &pe) {
		return Envelope{Error: err.Error(), Code: CodeServerError}
	}

	code := pe.Code
	if !apiVisible(code) {
		code = CodeServerError
	}
	return Envelope{
		Error:   pe.Message,
		Code:    code,
		Details: pe.Details,
	}
}

// FormatForCLI formats an error for CLI output.
// Uses a concise format suitable for terminal display.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	var pe *PetrelError
	if !errors.As(err, &pe) {
		pe = Wrap(CodeServerError, err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", pe.Message))
	sb.WriteString(fmt.Sprintf("  Code: %s\n", pe.Code))
	for k, v := range pe.Details {
		sb.WriteString(fmt.Sprintf("  %s: %s\n", k, v))
	}

	return sb.String()
}

// FormatForLog formats an error for structured logging.
// Returns key-value pairs suitable for slog attributes.
func FormatForLog(err error) map[string]any {
	if err == nil {
		return nil
	}

	var pe *PetrelError
	if !errors.As(err, &pe) {
		return map[string]any{
			"error": err.Error(),
		}
	}

	result := map[string]any{
		"error_code": pe.Code,
		"message":    pe.Message,
		"kind":       string(pe.Kind),
		"severity":   string(pe.Severity),
		"retryable":  pe.Retryable,
	}

	if pe.Cause != nil {
		result["cause"] = pe.Cause.Error()
	}

	for k, v := range pe.Details {
		result["detail_"+k] = v
	}

	return result
}
