package api

import (
	"encoding/json"
	"net/http"

	"github.com/metaneutrons/snapdog2-sub010/internal/apperr"
)

// StatusClientClosedRequest is the nginx convention for a request the
// client abandoned before it was answered.
const StatusClientClosedRequest = 499

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes. Pipeline failures use the apperr kind name instead.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeUnauthorized     = "unauthorised"
	ErrCodeForbidden        = "forbidden"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeTooManyRequests  = "too_many_requests"
)

var kindStatus = map[apperr.Kind]int{
	apperr.Validation:      http.StatusBadRequest,
	apperr.Unauthorized:    http.StatusUnauthorized,
	apperr.NotFound:        http.StatusNotFound,
	apperr.Unsupported:     http.StatusNotImplemented,
	apperr.ExternalService: http.StatusBadGateway,
	apperr.Timeout:         http.StatusGatewayTimeout,
	apperr.Cancelled:       StatusClientClosedRequest,
	apperr.Internal:        http.StatusInternalServerError,
}

// StatusFor returns the HTTP status for an error kind. Unknown kinds are 500.
func StatusFor(kind apperr.Kind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	//nolint:errcheck // the client may be gone
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

// writeAppError writes a pipeline failure. Internal errors are logged and
// answered without detail.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, e *apperr.Error) {
	status := StatusFor(e.Kind)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"operation", e.Op,
			"error", e,
			"request_id", requestID(r),
		)
		writeInternalError(w, "internal server error")
		return
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	writeError(w, status, e.Kind.String(), msg)
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, msg)
}

func writeNotFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, msg)
}

func writeForbidden(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, msg)
}

func writeInternalError(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, msg)
}

// writeUnauthorized also sets the challenge header.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="snapdog"`)
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, msg)
}
