package messaging

import (
	"context"
	"log/slog"

	"github.com/projectech/VoiceGuide/internal/twilio"
)

// TwilioService implements Service by sending SMS through Twilio.
type TwilioService struct {
	lifecycle
	client twilio.Sender // real Twilio client or MockClient
}

// NewTwilioService creates a TwilioService around client.
func NewTwilioService(client twilio.Sender) *TwilioService {
	return &TwilioService{client: client}
}

func (s *TwilioService) Name() string { return "sms" }

// ValidateAndCanonicalizeRecipient strips formatting from a phone number,
// keeping a leading '+'.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalPhone(recipient)
}

// Start is a no-op for Twilio.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

func (s *TwilioService) Stop() error {
	s.stop()
	return nil
}

// SendMessage sends an SMS via Twilio.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.SendMessage: invalid recipient", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		return err
	}
	slog.Info("TwilioService.SendMessage: message sent", "to", canonicalTo, "body_length", len(body))
	return nil
}
