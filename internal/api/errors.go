package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/dali-center/internal/flow"
	"github.com/nerrad567/dali-center/internal/selection"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`

	// Reason is the flow failure reason when Code is flow_failed.
	Reason string `json:"reason,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
)

// Flow error codes. They let clients tell conflicts apart without parsing
// messages.
const (
	ErrCodeFlowInProgress    = "flow_in_progress"
	ErrCodeInvalidTransition = "invalid_transition"
	ErrCodeAlreadyConfigured = "already_configured"
	ErrCodeUnknownCandidate  = "unknown_candidate"
	ErrCodeUnknownItem       = "unknown_item"
	ErrCodeFlowFailed        = "flow_failed"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps flow and selection errors to responses. Unknown
// errors are logged and reported as 500.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var fl *flow.Failure
	switch {
	case errors.As(err, &fl):
		// The operation ended the flow; the reason is for the operator.
		writeJSON(w, http.StatusUnprocessableEntity, Error{
			Status:  http.StatusUnprocessableEntity,
			Code:    ErrCodeFlowFailed,
			Message: fl.Message,
			Reason:  string(fl.Reason),
		})
	case errors.Is(err, flow.ErrFlowNotFound), errors.Is(err, selection.ErrNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, flow.ErrFlowInProgress):
		writeError(w, http.StatusConflict, ErrCodeFlowInProgress, err.Error())
	case errors.Is(err, flow.ErrInvalidTransition):
		writeError(w, http.StatusConflict, ErrCodeInvalidTransition, err.Error())
	case errors.Is(err, flow.ErrAlreadyConfigured):
		writeError(w, http.StatusConflict, ErrCodeAlreadyConfigured, err.Error())
	case errors.Is(err, flow.ErrUnknownCandidate):
		writeError(w, http.StatusBadRequest, ErrCodeUnknownCandidate, err.Error())
	case errors.Is(err, flow.ErrUnknownItem):
		writeError(w, http.StatusBadRequest, ErrCodeUnknownItem, err.Error())
	case errors.Is(err, flow.ErrInvalidScope):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		s.logger.Error("request failed",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeInternalError(w, "internal server error")
	}
}
