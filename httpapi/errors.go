package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// apiError is the JSON envelope for non-2xx responses, matching the
// teacher's server/handlers.go error shape.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(logger *slog.Logger, w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil {
		logger.Warn("request failed", "code", code, "status", status, "error", err)
	}
	details := ""
	if err != nil {
		details = err.Error()
	}
	writeJSON(w, status, apiError{Code: code, Message: message, Details: details})
}
