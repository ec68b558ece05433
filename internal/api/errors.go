package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/microcoaster-core/internal/auth"
	"github.com/nerrad567/microcoaster-core/internal/device"
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

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

func writeConflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, ErrCodeConflict, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeServiceError maps repository sentinels to HTTP responses. Anything
// unrecognised is logged and reported as fallback with a 500.
func (s *Server) writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, device.ErrModuleNotFound):
		writeNotFound(w, "module not found")
	case errors.Is(err, auth.ErrUserNotFound):
		writeNotFound(w, "user not found")
	case errors.Is(err, device.ErrModuleExists):
		writeConflict(w, "module already exists")
	case errors.Is(err, device.ErrAlreadyClaimed):
		writeConflict(w, "module is already claimed")
	case errors.Is(err, device.ErrInvalidCredentials):
		writeForbidden(w, "invalid module id or secret")
	case errors.Is(err, device.ErrNotOwner):
		writeForbidden(w, "module is not yours")
	case errors.Is(err, device.ErrInvalidModuleID),
		errors.Is(err, device.ErrInvalidType),
		errors.Is(err, device.ErrInvalidSecret),
		errors.Is(err, device.ErrInvalidName),
		errors.Is(err, device.ErrInvalidStatus):
		writeBadRequest(w, err.Error())
	default:
		s.logger.Error(fallback, "error", err)
		writeInternalError(w, fallback)
	}
}
