package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/omarluq/plangate/internal/auth"
	"github.com/omarluq/plangate/internal/policy"
)

// Headers exposed to clients and upstreams.
const (
	HeaderRequestID = "X-Request-ID"
	HeaderPlan      = "X-Plangate-Plan"
	HeaderApp       = "X-Plangate-Application"
)

// ErrorResponse is the JSON body of every gateway error.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error type and message.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, statusCode int, errorType, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error: ErrorDetail{Type: errorType, Message: message},
	})
}

// WriteRejection writes the response for a policy rejection.
// Retry-After is rounded up to at least one second.
func WriteRejection(w http.ResponseWriter, rej *policy.Rejection) {
	if rej.RetryAfter > 0 {
		seconds := int(rej.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	WriteError(w, rej.Status, rej.ErrorType, rej.Reason)
}

// writePolicyError maps a policy pipeline error to a response and returns the
// status written.
func writePolicyError(w http.ResponseWriter, err error) int {
	var rej *policy.Rejection
	switch {
	case errors.As(err, &rej):
		WriteRejection(w, rej)
		return rej.Status
	case errors.Is(err, policy.ErrUnknownPolicy):
		WriteError(w, http.StatusInternalServerError, "configuration_error", err.Error())
		return http.StatusInternalServerError
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "policy execution failed")
		return http.StatusInternalServerError
	}
}

// writeNoPlan answers a request no plan accepted.
func writeNoPlan(w http.ResponseWriter) {
	WriteError(w, http.StatusUnauthorized, "authentication_error", auth.ErrNoPlanMatched.Error())
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}
