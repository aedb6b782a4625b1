// Package messaging delivers the text messages VoiceGuide sends for the user:
// SMS bodies and shared location links. Twilio SMS and WhatsApp are the two
// channels.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
)

// MinRecipientDigits is the shortest number accepted as a recipient.
const MinRecipientDigits = 3

// ErrServiceStopped is returned when sending on a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

var nonDigitRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// Name identifies the channel in logs and receipts.
	Name() string

	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing.
	Start(ctx context.Context) error

	// Stop stops background processing; later sends fail with ErrServiceStopped.
	Stop() error
}

// canonicalPhone keeps the digits of recipient and a leading '+' if present.
func canonicalPhone(recipient string) (string, error) {
	trimmed := strings.TrimSpace(recipient)
	if trimmed == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	digits := nonDigitRegex.ReplaceAllString(trimmed, "")
	if digits == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(digits) < MinRecipientDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", digits, MinRecipientDigits)
	}
	canonical := digits
	if strings.HasPrefix(trimmed, "+") {
		canonical = "+" + digits
	}
	if canonical != recipient {
		slog.Debug("messaging canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// lifecycle tracks the stopped flag shared by the service implementations.
type lifecycle struct {
	mu      sync.RWMutex
	stopped bool
}

func (l *lifecycle) stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
}

func (l *lifecycle) isStopped() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stopped
}
