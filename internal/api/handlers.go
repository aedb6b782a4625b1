// Package api provides HTTP handlers for VoiceGuide endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/projectech/VoiceGuide/internal/models"
	"github.com/projectech/VoiceGuide/internal/places"
)

// destinationRequest is the body of PUT /destinations/{name}. Either both
// numeric fields or the "lat, lon" string must be given.
type destinationRequest struct {
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Coordinates string   `json:"coordinates"`
}

func (d destinationRequest) position() (models.Coordinates, error) {
	if d.Coordinates != "" {
		return places.ParseCoordinates(d.Coordinates)
	}
	if d.Latitude == nil || d.Longitude == nil {
		return models.Coordinates{}, errors.New("latitude and longitude are required")
	}
	at := models.Coordinates{Latitude: *d.Latitude, Longitude: *d.Longitude}
	return at, at.Validate()
}

// contactRequest is the body of PUT /contacts/{name}.
type contactRequest struct {
	Number string `json:"number"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if e, ok := s.manager.Active(); ok {
		healthData["active_conversation"] = e.ID()
	}
	if s.hub != nil {
		healthData["devices"] = s.hub.Connected()
	}
	writeJSONResponse(w, http.StatusOK, healthData)
}

func (s *Server) receiptsHandler(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.st.GetReceipts(r.Context())
	if err != nil {
		slog.Error("Server.receiptsHandler: failed to read receipts", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch receipts"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(receipts))
}

func (s *Server) locationHandler(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Location updates are not accepted"))
		return
	}
	var at models.Coordinates
	if err := json.NewDecoder(r.Body).Decode(&at); err != nil {
		slog.Warn("Server.locationHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := s.tracker.Update(at); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Location updated", at))
}

func (s *Server) listDestinationsHandler(w http.ResponseWriter, r *http.Request) {
	list, err := s.places.List(r.Context())
	if err != nil {
		slog.Error("Server.listDestinationsHandler: failed to list destinations", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list destinations"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(list))
}

func (s *Server) putDestinationHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req destinationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.putDestinationHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	at, err := req.position()
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if err := s.places.Put(r.Context(), name, at); err != nil {
		if errors.Is(err, places.ErrInvalidName) || errors.Is(err, places.ErrInvalidCoordinates) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Error("Server.putDestinationHandler: failed to save destination", "name", name, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save destination"))
		return
	}
	slog.Info("Server.putDestinationHandler: destination saved", "name", name)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Destination saved", models.Destination{
		Name: name, Latitude: at.Latitude, Longitude: at.Longitude,
	}))
}

func (s *Server) deleteDestinationHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.places.Remove(r.Context(), name); err != nil {
		if errors.Is(err, places.ErrInvalidName) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Error("Server.deleteDestinationHandler: failed to remove destination", "name", name, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to remove destination"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Destination removed", nil))
}

func (s *Server) listContactsHandler(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.st.ListContacts(r.Context(), r.URL.Query().Get("name"))
	if err != nil {
		slog.Error("Server.listContactsHandler: failed to list contacts", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list contacts"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(contacts))
}

func (s *Server) putContactHandler(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.putContactHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	c := models.Contact{Name: chi.URLParam(r, "name"), Number: req.Number}
	if err := c.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := s.st.PutContact(r.Context(), c); err != nil {
		slog.Error("Server.putContactHandler: failed to save contact", "name", c.Name, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save contact"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Contact saved", c))
}
