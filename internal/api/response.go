// Package api provides HTTP response utilities for VoiceGuide.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/projectech/VoiceGuide/internal/dialogue"
	"github.com/projectech/VoiceGuide/internal/models"
)

// Pre-marshaled fallback responses to avoid runtime JSON encoding failures
var (
	fallbackErrorResponse []byte
)

// init validates that our fallback responses can be marshaled
func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal the response to JSON first to catch encoding errors before writing headers
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// conversationErrorStatus maps engine and manager errors to HTTP status codes.
func conversationErrorStatus(err error) int {
	switch {
	case errors.Is(err, dialogue.ErrConversationNotFound):
		return http.StatusNotFound
	case errors.Is(err, dialogue.ErrNotAwaitingInput),
		errors.Is(err, dialogue.ErrNotStarted),
		errors.Is(err, dialogue.ErrAlreadyStarted):
		return http.StatusConflict
	case errors.Is(err, dialogue.ErrSessionClosed):
		return http.StatusGone
	}
	return http.StatusInternalServerError
}
