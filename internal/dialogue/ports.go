// Package dialogue drives one voice conversation through a flow definition.
package dialogue

import (
	"context"
	"errors"
	"log/slog"

	"github.com/projectech/VoiceGuide/internal/models"
)

// Error variables for port failures and engine preconditions
var (
	// ErrNoSpeechDetected is returned by SpeechInput when the user said nothing.
	ErrNoSpeechDetected = errors.New("no speech detected")
	// ErrRecognitionUnavailable is returned by SpeechInput when recognition cannot run.
	ErrRecognitionUnavailable = errors.New("speech recognition unavailable")
	// ErrNotAwaitingInput is returned when an utterance arrives while the engine is not listening for one.
	ErrNotAwaitingInput = errors.New("conversation is not waiting for input")
	// ErrSessionClosed is returned once the conversation has finished or was cancelled.
	ErrSessionClosed = errors.New("conversation closed")
	// ErrNotStarted is returned when input arrives before Start.
	ErrNotStarted = errors.New("conversation not started")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("conversation already started")
)

// SpeechInput captures one utterance from the user.
type SpeechInput interface {
	Listen(ctx context.Context) (string, error)
}

// SpeechOutput speaks text and returns once playback has finished. An error
// still means playback is over.
type SpeechOutput interface {
	Speak(ctx context.Context, text string) error
}

// TranscriptSink receives every prompt and utterance in order.
type TranscriptSink interface {
	Append(ctx context.Context, entry models.TranscriptEntry) error
}

// LocationProvider returns the device's current position, if one is known.
type LocationProvider interface {
	CurrentLocation(ctx context.Context) (models.Coordinates, bool, error)
}

// ActionGateway performs the real-world effects a conversation ends in.
// ResolveContact is called synchronously from a transition; the other
// methods run off the engine goroutine.
type ActionGateway interface {
	LocationProvider
	PlaceCall(ctx context.Context, number string) error
	SendMessage(ctx context.Context, number, body string) error
	ResolveContact(ctx context.Context, name string) (string, bool, error)
	DescribeLocation(ctx context.Context, at models.Coordinates) (string, error)
	LaunchNavigation(ctx context.Context, target models.Coordinates) error
}

type sessionIDKey struct{}

// ContextWithSessionID returns a context carrying the conversation id. Gateway
// calls made by an engine receive such a context.
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// SessionIDFromContext returns the conversation id stored in ctx, if any.
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey{}).(string)
	return id
}

// multiSink fans transcript entries out to several sinks.
type multiSink []TranscriptSink

// Sinks combines transcript sinks. Nil sinks are skipped.
func Sinks(sinks ...TranscriptSink) TranscriptSink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Append writes entry to every sink and returns the first error.
func (m multiSink) Append(ctx context.Context, entry models.TranscriptEntry) error {
	var first error
	for _, s := range m {
		if err := s.Append(ctx, entry); err != nil {
			slog.Warn("multiSink.Append: sink failed", "session", entry.SessionID, "error", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
