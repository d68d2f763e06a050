package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/SlotChat/internal/conditions"
	"github.com/BTreeMap/SlotChat/internal/flow"
	"github.com/BTreeMap/SlotChat/internal/genai"
	"github.com/BTreeMap/SlotChat/internal/models"
	"github.com/BTreeMap/SlotChat/internal/store"
)

// Machine-readable error codes carried in the "error" field of error responses.
const (
	CodeBadRequest        = "bad_request"
	CodeEmptyInput        = "empty_input"
	CodeMessageTooLong    = "message_too_long"
	CodeUnknownCondition  = "unknown_condition"
	CodeSessionNotFound   = "session_not_found"
	CodeInvalidCondition  = "invalid_stored_condition"
	CodeGenerationFailure = "generation_failed"
	CodeInternal          = "internal_error"
)

// Pre-marshaled fallback responses to avoid runtime JSON encoding failures
var (
	fallbackErrorResponse []byte
)

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.ErrorWithCode(CodeInternal, "Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal first so an encoding error can still change the status code.
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// errorStatus maps an engine or store error to an HTTP status and error code.
func errorStatus(err error) (int, string, string) {
	var genErr *genai.GenerationError
	switch {
	case errors.Is(err, flow.ErrEmptyInput):
		return http.StatusBadRequest, CodeEmptyInput, "Message must not be empty"
	case errors.Is(err, models.ErrMessageTooLong):
		return http.StatusBadRequest, CodeMessageTooLong, err.Error()
	case errors.Is(err, flow.ErrMissingSessionID):
		return http.StatusBadRequest, CodeBadRequest, err.Error()
	case errors.Is(err, flow.ErrInvalidStoredCondition):
		return http.StatusInternalServerError, CodeInvalidCondition, "Session has an invalid condition"
	case errors.Is(err, conditions.ErrUnknownCondition):
		return http.StatusBadRequest, CodeUnknownCondition, err.Error()
	case errors.Is(err, store.ErrSessionNotFound):
		return http.StatusNotFound, CodeSessionNotFound, "Session not found"
	case errors.As(err, &genErr), errors.Is(err, flow.ErrGenerationFailed):
		return http.StatusBadGateway, CodeGenerationFailure, "Failed to generate a reply, please resend your message"
	default:
		return http.StatusInternalServerError, CodeInternal, "Internal server error"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, code, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Server request failed", "error", err, "status", status)
	} else {
		slog.Warn("Server request rejected", "error", err, "status", status)
	}
	writeJSONResponse(w, status, models.ErrorWithCode(code, msg))
}
