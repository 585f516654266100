package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/iho/goledger-velocity/internal/adapter/http/dto"
	"github.com/iho/goledger-velocity/internal/domain"
	"github.com/iho/goledger-velocity/internal/policy"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message, details string) {
	writeErrorDetails(w, status, message, details, nil)
}

func writeErrorDetails(w http.ResponseWriter, status int, message, details string, extra any) {
	writeJSON(w, status, dto.ErrorResponse{
		Error:   message,
		Message: details,
		Details: extra,
	})
}

// mapDomainError maps domain errors to HTTP status codes.
func mapDomainError(err error) int {
	switch {
	case errors.Is(err, domain.ErrLimitExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrConditionEvaluation):
		return http.StatusBadRequest
	case errors.Is(err, policy.ErrInvalidSpec):
		return http.StatusBadRequest
	case errors.Is(err, dto.ErrInvalidRequest):
		return http.StatusBadRequest
	case domain.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
