package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/crm-core/internal/store"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
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
	ErrCodeRateLimited  = "rate_limited"
	ErrCodeUnavailable  = "service_unavailable"
)

// Client-facing messages that must not vary with the underlying cause.
const (
	msgNotAuthorized      = "not authorized"
	msgInvalidCredentials = "invalid email or password"
	msgInternal           = "internal server error"
	msgUnavailable        = "service temporarily unavailable"
	msgForbidden          = "insufficient permissions"
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

// writeUnauthorized writes the generic 401 response.
func writeUnauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, msgNotAuthorized)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes the generic 500 response.
func writeInternalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, msgInternal)
}

// writeUnavailable writes the generic 503 response.
func writeUnavailable(w http.ResponseWriter) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, msgUnavailable)
}

// writeStoreError maps persistence errors to responses. Anything not
// recognised is logged and reported as a 500 without detail.
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeNotFound(w, "record not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, ErrCodeConflict, "record conflicts with an existing record")
	case errors.Is(err, store.ErrValidation):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, store.ErrInvalidQuery):
		writeBadRequest(w, err.Error())
	case errors.Is(err, store.ErrUnavailable):
		s.selector.ReportFailure(err)
		s.logger.Warn("durable store failed mid-request",
			"op", op,
			"request_id", requestIDFrom(r.Context()),
			"error", err,
		)
		writeUnavailable(w)
	default:
		s.logger.Error(op+" failed",
			"request_id", requestIDFrom(r.Context()),
			"error", err,
		)
		writeInternalError(w)
	}
}
