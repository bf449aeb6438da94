package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Lllllllleong/merchantonboarding/internal/models"
	"github.com/Lllllllleong/merchantonboarding/internal/services"
)

// apiError is the body of every error response.
type apiError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response.", "error", err)
	}
}

// writeError maps a service error onto a status code. Unexpected errors are
// logged and reported with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	logCtx := slog.With("method", r.Method, "path", r.URL.Path, "status", status)
	if status >= http.StatusInternalServerError {
		logCtx.Error("Request failed.", "error", err)
	} else {
		logCtx.Info("Request rejected.", "error", err)
	}
	writeJSON(w, status, errorEnvelope{Error: body})
}

func classify(err error) (int, apiError) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, apiError{Code: "validation_error", Message: verr.Error(), Details: verr.Fields}
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest, apiError{Code: "validation_error", Message: err.Error()}
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, apiError{Code: "not_found", Message: err.Error()}
	case errors.Is(err, models.ErrJobActive), errors.Is(err, models.ErrMerchantOwnership), errors.Is(err, models.ErrJobClaimed):
		return http.StatusConflict, apiError{Code: "conflict", Message: err.Error()}
	case errors.Is(err, services.ErrQueueFull), errors.Is(err, services.ErrPoolClosed):
		return http.StatusServiceUnavailable, apiError{Code: "unavailable", Message: err.Error()}
	default:
		return http.StatusInternalServerError, apiError{Code: "internal", Message: "internal server error"}
	}
}
