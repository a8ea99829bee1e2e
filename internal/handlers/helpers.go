// Package handlers implements the portal's HTTP API: identity-provider flows, the
// session view, the route gate, the profile check and the admin user operations.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/benvon/community-portal/internal/autherr"
	"github.com/benvon/community-portal/internal/backend"
	"github.com/benvon/community-portal/internal/request"
	"github.com/benvon/community-portal/internal/validation"
	"go.uber.org/zap"
)

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]any{
		"success":   true,
		"data":      data,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// sanitizeErrorMessage truncates messages so upstream error bodies are never relayed in full.
func sanitizeErrorMessage(message string) string {
	if len(message) > 200 {
		return message[:200] + "..."
	}
	return message
}

// respondJSONError sends an error JSON response with sanitized error messages
func respondJSONError(w http.ResponseWriter, status int, errorType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]any{
		"success":   false,
		"error":     errorType,
		"message":   sanitizeErrorMessage(message),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// respondAuthError answers err with its authentication error code and the message for
// the request's language. Backend API errors keep their status and message.
func respondAuthError(w http.ResponseWriter, r *http.Request, err error, log *zap.Logger) {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		respondJSONError(w, apiErr.StatusCode, "BACKEND_ERROR", apiErr.Message)
		return
	}

	code := autherr.CodeOf(err)
	status := autherr.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		log.Error("request_failed", zap.String("code", string(code)), zap.Error(err))
	}
	respondJSONError(w, status, string(code), autherr.Message(code, request.Language(r)))
}

// decodeJSON decodes a JSON body into v and validates it.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return validation.Struct(v)
}
