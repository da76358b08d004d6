package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-petfeeder/internal/feeder"
	"github.com/nerrad567/gray-logic-petfeeder/internal/petlibro"
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
	ErrCodeConflict     = "conflict"
	ErrCodeDuplicate    = "duplicate_action"
	ErrCodeVendor       = "vendor_error"
	ErrCodeUnreachable  = "vendor_unreachable"
	ErrCodeUnavailable  = "unavailable"
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

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeFeederError maps a feeder service failure to its status code.
func writeFeederError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	writeError(w, status, code, err.Error())
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, feeder.ErrDuplicateAction):
		return http.StatusTooManyRequests, ErrCodeDuplicate
	case errors.Is(err, feeder.ErrClosed):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	}

	switch petlibro.KindOf(err) {
	case petlibro.KindAuth:
		return http.StatusUnauthorized, ErrCodeUnauthorized
	case petlibro.KindNotFound:
		return http.StatusNotFound, ErrCodeNotFound
	case petlibro.KindState:
		return http.StatusConflict, ErrCodeConflict
	case petlibro.KindAPI:
		return http.StatusBadGateway, ErrCodeVendor
	case petlibro.KindNetwork:
		return http.StatusGatewayTimeout, ErrCodeUnreachable
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}
