// Package api provides the standard HTTP response helpers and the request
// and response types of the memory API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	appErrors "mnemo-backend/internal/errors"
)

// Success sends a successful response with optional JSON data.
func Success(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// Error sends an error response with a consistent JSON body.
func Error(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

// WriteAppError maps the error taxonomy onto HTTP status codes and writes the
// response. Internal details never leak: anything unclassified is a bare 500.
func WriteAppError(w http.ResponseWriter, err error) {
	var appErr *appErrors.AppError
	status := http.StatusInternalServerError
	message := "internal error"

	if errors.As(err, &appErr) {
		message = appErr.Message
		switch appErr.Type {
		case appErrors.ErrorTypeValidation:
			status = http.StatusBadRequest
		case appErrors.ErrorTypeAuthorization:
			status = http.StatusForbidden
		case appErrors.ErrorTypeNotFound:
			status = http.StatusNotFound
		case appErrors.ErrorTypeConflict:
			status = http.StatusConflict
		case appErrors.ErrorTypeRecursion:
			status = http.StatusLoopDetected
		case appErrors.ErrorTypeUnavailable, appErrors.ErrorTypeService:
			status = http.StatusServiceUnavailable
		default:
			message = "internal error"
		}
	}

	Error(w, status, message)
}
