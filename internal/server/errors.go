package server

import (
	"encoding/json"
	"errors"
	"net/http"

	perrors "github.com/petrel-search/petrel/internal/errors"
	"github.com/petrel-search/petrel/internal/status"
)

// errorEnvelope is the uniform error body.
type errorEnvelope struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// apiCode folds internal codes to SERVER_ERROR; only the envelope's
// published codes cross the wire.
func apiCode(code string) string {
	switch code {
	case perrors.CodeDocumentNotFound,
		perrors.CodeInvalidRequest,
		perrors.CodeUnsupportedFormat,
		perrors.CodeFileTooLarge,
		perrors.CodeStoreUnavailable,
		perrors.CodeEmbedUnavailable:
		return code
	default:
		return perrors.CodeServerError
	}
}

func statusForCode(code string) int {
	switch code {
	case perrors.CodeDocumentNotFound:
		return http.StatusNotFound
	case perrors.CodeInvalidRequest:
		return http.StatusBadRequest
	case perrors.CodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case perrors.CodeUnsupportedFormat:
		return http.StatusUnprocessableEntity
	case perrors.CodeStoreUnavailable, perrors.CodeEmbedUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // headers already sent
}

// writeError maps an error onto the envelope. Unknown errors become
// SERVER_ERROR without leaking internals.
func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, status.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorEnvelope{
			Error: err.Error(),
			Code:  perrors.CodeDocumentNotFound,
		})
		return
	}

	var pe *perrors.PetrelError
	if errors.As(err, &pe) {
		code := apiCode(pe.Code)
		writeJSON(w, statusForCode(code), errorEnvelope{
			Error:   pe.Message,
			Code:    code,
			Details: pe.Details,
		})
		return
	}

	writeJSON(w, http.StatusInternalServerError, errorEnvelope{
		Error: "internal server error",
		Code:  perrors.CodeServerError,
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorEnvelope{
		Error: message,
		Code:  perrors.CodeInvalidRequest,
	})
}
