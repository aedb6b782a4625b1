// Package models defines the core data structures for VoiceGuide.
//
// It includes transcript entries, saved destinations, contacts and action receipts,
// which are shared across modules.
package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Validation constants for coordinates and names
const (
	// MaxDestinationNameLength defines the maximum allowed length for a saved destination name
	MaxDestinationNameLength = 100
	// MaxContactNameLength defines the maximum allowed length for a contact name
	MaxContactNameLength = 200
)

// Error variables for better error handling and testability
var (
	ErrEmptyDestinationName = errors.New("destination name cannot be empty")
	ErrDestinationNameLong  = errors.New("destination name exceeds maximum length")
	ErrLatitudeOutOfRange   = errors.New("latitude must be between -90 and 90")
	ErrLongitudeOutOfRange  = errors.New("longitude must be between -180 and 180")
	ErrEmptyContactName     = errors.New("contact name cannot be empty")
	ErrEmptyContactNumber   = errors.New("contact number cannot be empty")
)

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	// SpeakerApp marks prompts issued by the application.
	SpeakerApp Speaker = "app"
	// SpeakerUser marks recognized user utterances.
	SpeakerUser Speaker = "user"
)

// TranscriptEntry is one line of the conversational transcript.
type TranscriptEntry struct {
	SessionID string    `json:"session_id"`
	Flow      FlowType  `json:"flow"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Time      time.Time `json:"time"`
}

// Coordinates is a latitude/longitude pair in decimal degrees.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate checks that the coordinates are finite and within range.
func (c Coordinates) Validate() error {
	if math.IsNaN(c.Latitude) || c.Latitude < -90 || c.Latitude > 90 {
		return ErrLatitudeOutOfRange
	}
	if math.IsNaN(c.Longitude) || c.Longitude < -180 || c.Longitude > 180 {
		return ErrLongitudeOutOfRange
	}
	return nil
}

// String formats the coordinates as "lat,lon".
func (c Coordinates) String() string {
	return fmt.Sprintf("%v,%v", c.Latitude, c.Longitude)
}

// MapsLink returns a web link that opens the position in a maps application.
func (c Coordinates) MapsLink() string {
	return "https://maps.google.com/?q=" + c.String()
}

// NavigationURI returns the deep link that starts walking navigation to the position.
func (c Coordinates) NavigationURI() string {
	return "google.navigation:q=" + c.String() + "&mode=w"
}

// Destination is a named place saved by the user.
type Destination struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Coordinates returns the destination position.
func (d Destination) Coordinates() Coordinates {
	return Coordinates{Latitude: d.Latitude, Longitude: d.Longitude}
}

// Validate performs validation on a Destination structure.
func (d *Destination) Validate() error {
	if d.Name == "" {
		return ErrEmptyDestinationName
	}
	if len(d.Name) > MaxDestinationNameLength {
		return ErrDestinationNameLong
	}
	return d.Coordinates().Validate()
}

// Contact is a directory entry used to resolve spoken names to phone numbers.
type Contact struct {
	Name   string `json:"name"`
	Number string `json:"number"`
}

// Validate performs validation on a Contact structure.
func (c *Contact) Validate() error {
	if c.Name == "" {
		return ErrEmptyContactName
	}
	if len(c.Name) > MaxContactNameLength {
		return fmt.Errorf("contact name exceeds maximum length of %d", MaxContactNameLength)
	}
	if c.Number == "" {
		return ErrEmptyContactNumber
	}
	return nil
}

// ActionType names a real-world effect dispatched at the end of a conversation.
type ActionType string

const (
	// ActionPlaceCall places a phone call.
	ActionPlaceCall ActionType = "place_call"
	// ActionSendMessage sends a text message.
	ActionSendMessage ActionType = "send_message"
	// ActionLaunchNavigation opens turn-by-turn navigation on the device.
	ActionLaunchNavigation ActionType = "launch_navigation"
)

// MessageStatus represents the delivery status of a dispatched action.
type MessageStatus string

const (
	// MessageStatusSent indicates the action was handed to the provider.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusFailed indicates the provider rejected the action.
	MessageStatusFailed MessageStatus = "failed"
)

// Receipt records one dispatched action.
type Receipt struct {
	SessionID string        `json:"session_id"`
	Action    ActionType    `json:"action"`
	To        string        `json:"to"`
	Status    MessageStatus `json:"status"`
	Detail    string        `json:"detail,omitempty"`
	Time      int64         `json:"time"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusAccepted indicates input was queued for the running conversation.
	APIStatusAccepted APIStatus = "accepted"
)

// API Response types for consistent JSON responses

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Convenience functions for common response patterns

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}

// Accepted creates an accepted API response with optional result data.
func Accepted(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusAccepted).
		WithResult(result).
		Build()
}
