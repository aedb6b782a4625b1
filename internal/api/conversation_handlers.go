package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/projectech/VoiceGuide/internal/dialogue"
	"github.com/projectech/VoiceGuide/internal/flow"
	"github.com/projectech/VoiceGuide/internal/models"
)

type startRequest struct {
	Flow models.FlowType `json:"flow"`
}

type utteranceRequest struct {
	Text string `json:"text"`
}

type spokenRequest struct {
	PromptID string `json:"prompt_id"`
}

// audioResult is returned after an uploaded recording was applied.
type audioResult struct {
	Text         string                   `json:"text"`
	Conversation models.ConversationState `json:"conversation"`
}

// startConversationHandler handles POST /conversations
func (s *Server) startConversationHandler(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.startConversationHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	// The conversation outlives the request.
	e, err := s.manager.Start(context.Background(), req.Flow)
	if err != nil {
		if errors.Is(err, flow.ErrUnknownFlow) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Error("Server.startConversationHandler: failed to start conversation", "flow", req.Flow, "error", err)
		writeJSONResponse(w, conversationErrorStatus(err), models.Error("Failed to start conversation"))
		return
	}
	slog.Info("Server.startConversationHandler: conversation started", "session", e.ID(), "flow", req.Flow)
	writeJSONResponse(w, http.StatusCreated, models.Success(e.Snapshot()))
}

// listConversationsHandler handles GET /conversations
func (s *Server) listConversationsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(s.manager.List()))
}

// conversation looks up the {id} path parameter and writes the error response when it is unknown.
func (s *Server) conversation(w http.ResponseWriter, r *http.Request) (*dialogue.Engine, bool) {
	id := chi.URLParam(r, "id")
	e, err := s.manager.Get(id)
	if err != nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return nil, false
	}
	return e, true
}

// getConversationHandler handles GET /conversations/{id}
func (s *Server) getConversationHandler(w http.ResponseWriter, r *http.Request) {
	e, ok := s.conversation(w, r)
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(e.Snapshot()))
}

// cancelConversationHandler handles DELETE /conversations/{id}
func (s *Server) cancelConversationHandler(w http.ResponseWriter, r *http.Request) {
	e, ok := s.conversation(w, r)
	if !ok {
		return
	}
	e.Cancel()
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Conversation cancelled", e.Snapshot()))
}

// utteranceHandler handles POST /conversations/{id}/utterances
func (s *Server) utteranceHandler(w http.ResponseWriter, r *http.Request) {
	e, ok := s.conversation(w, r)
	if !ok {
		return
	}
	var req utteranceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.utteranceHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := e.OnUtteranceReceived(req.Text); err != nil {
		slog.Warn("Server.utteranceHandler: utterance rejected", "session", e.ID(), "error", err)
		writeJSONResponse(w, conversationErrorStatus(err), models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusAccepted, models.Accepted(e.Snapshot()))
}

// audioHandler handles POST /conversations/{id}/audio with a multipart "audio" file.
func (s *Server) audioHandler(w http.ResponseWriter, r *http.Request) {
	e, ok := s.conversation(w, r)
	if !ok {
		return
	}
	if s.transcriber == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Speech recognition is not configured"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAudioBytes)
	file, header, err := r.FormFile("audio")
	if err != nil {
		slog.Warn("Server.audioHandler: missing audio file", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Multipart field 'audio' is required"))
		return
	}
	defer file.Close()

	text, err := s.transcriber.Transcribe(r.Context(), file, header.Filename)
	switch {
	case errors.Is(err, dialogue.ErrNoSpeechDetected):
		writeJSONResponse(w, http.StatusUnprocessableEntity, models.Error("No speech detected"))
		return
	case err != nil:
		slog.Error("Server.audioHandler: transcription failed", "session", e.ID(), "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Speech recognition is not available right now"))
		return
	}

	if err := e.OnUtteranceReceived(text); err != nil {
		writeJSONResponse(w, conversationErrorStatus(err), models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusAccepted, models.Accepted(audioResult{Text: text, Conversation: e.Snapshot()}))
}

// spokenHandler handles POST /conversations/{id}/spoken. Without a prompt id
// every pending prompt of the conversation counts as spoken.
func (s *Server) spokenHandler(w http.ResponseWriter, r *http.Request) {
	e, ok := s.conversation(w, r)
	if !ok {
		return
	}
	var req spokenRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
	}
	acked := s.hub != nil && s.hub.AckSession(e.ID(), req.PromptID)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]bool{"acknowledged": acked}))
}

// listenHandler handles POST /conversations/{id}/listen
func (s *Server) listenHandler(w http.ResponseWriter, r *http.Request) {
	e, ok := s.conversation(w, r)
	if !ok {
		return
	}
	if err := e.Listen(); err != nil {
		writeJSONResponse(w, conversationErrorStatus(err), models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusAccepted, models.Accepted(e.Snapshot()))
}

// transcriptHandler handles GET /conversations/{id}/transcript
func (s *Server) transcriptHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entries, err := s.st.GetTranscript(r.Context(), id)
	if err != nil {
		slog.Error("Server.transcriptHandler: failed to read transcript", "session", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch transcript"))
		return
	}
	if len(entries) == 0 {
		if _, err := s.manager.Get(id); err != nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
			return
		}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(entries))
}
