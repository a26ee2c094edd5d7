package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/branchsight/branchsight-engine/pkg/apperrors"
)

// ApiResponse is the envelope every JSON endpoint returns.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(ApiResponse{
		Error:   errorCode,
		Message: message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteData wraps data in a success envelope.
func WriteData(w http.ResponseWriter, statusCode int, data any) error {
	return WriteJSON(w, statusCode, ApiResponse{Success: true, Data: data})
}

// gatewayError maps gateway errors to HTTP status and error code. Parameter
// and resolution failures are the caller's fault; upstream failures are
// reported as bad gateway, with the raw diagnostic body attached only
// outside production.
func gatewayError(err error, env string) (int, string, string) {
	switch {
	case errors.Is(err, apperrors.ErrTenantNotResolved):
		return http.StatusNotFound, "tenant_not_resolved", "No database is provisioned for this tenant"
	case errors.Is(err, apperrors.ErrMissingParameter),
		errors.Is(err, apperrors.ErrInvalidParameter),
		errors.Is(err, apperrors.ErrMultipleStatements):
		return http.StatusBadRequest, "invalid_query", err.Error()
	case errors.Is(err, apperrors.ErrJobNotFound):
		return http.StatusNotFound, "job_not_found", "No such job"
	}
	if upstream, ok := apperrors.AsUpstream(err); ok {
		if env == "production" {
			return http.StatusBadGateway, "upstream_error", "Upstream query backend failed"
		}
		return http.StatusBadGateway, "upstream_error", upstream.Error()
	}
	return http.StatusInternalServerError, "internal_error", "Query execution failed"
}
