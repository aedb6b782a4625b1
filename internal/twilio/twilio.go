// Package twilio wraps the Twilio REST API for placing calls and sending SMS
// on the user's behalf.
//
// A call is placed as a bridge: Twilio rings the user's own phone and, once
// answered, dials the requested number with a <Dial> TwiML verb.
package twilio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"
)

// DefaultCallGreeting is spoken to the user before the callee is dialled.
const DefaultCallGreeting = "Connecting your call."

// Sender places calls and sends SMS. Implemented by Client and MockClient.
type Sender interface {
	PlaceCall(ctx context.Context, to string) error
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts holds configuration options for the Twilio client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromNumber string // Twilio number calls and SMS originate from
	UserPhone  string // the user's own phone, rung first for bridged calls
	Greeting   string
}

// Option defines a configuration option for the Twilio client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromNumber sets the originating Twilio number.
func WithFromNumber(from string) Option {
	return func(o *Opts) { o.FromNumber = from }
}

// WithUserPhone sets the phone that is rung before dialling the callee.
func WithUserPhone(phone string) Option {
	return func(o *Opts) { o.UserPhone = phone }
}

// WithGreeting overrides DefaultCallGreeting.
func WithGreeting(text string) Option {
	return func(o *Opts) { o.Greeting = text }
}

// Client wraps the Twilio REST client.
type Client struct {
	client    *twilio.RestClient
	from      string
	userPhone string
	greeting  string
}

// NewClient creates a Twilio client. Missing options fall back to the
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, TWILIO_FROM_NUMBER and
// VOICEGUIDE_USER_PHONE environment variables.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromNumber == "" {
		cfg.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	}
	if cfg.UserPhone == "" {
		cfg.UserPhone = os.Getenv("VOICEGUIDE_USER_PHONE")
	}
	if cfg.Greeting == "" {
		cfg.Greeting = DefaultCallGreeting
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromNumber_set", cfg.FromNumber != "",
		"UserPhone_set", cfg.UserPhone != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("from number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Client{
		client:    client,
		from:      cfg.FromNumber,
		userPhone: cfg.UserPhone,
		greeting:  cfg.Greeting,
	}, nil
}

// BridgeTwiML renders the TwiML that greets the user and dials to.
func BridgeTwiML(greeting, to string) (string, error) {
	say := &twiml.VoiceSay{Message: greeting}
	dial := &twiml.VoiceDial{Number: to}
	return twiml.Voice([]twiml.Element{say, dial})
}

// PlaceCall rings the user's phone and bridges it to the given number.
func (c *Client) PlaceCall(ctx context.Context, to string) error {
	if to == "" {
		return fmt.Errorf("callee cannot be empty")
	}
	if c.userPhone == "" {
		return fmt.Errorf("user phone not configured, cannot bridge call to %s", to)
	}
	doc, err := BridgeTwiML(c.greeting, to)
	if err != nil {
		return fmt.Errorf("failed to render call TwiML: %w", err)
	}

	params := &twilioApi.CreateCallParams{}
	params.SetTo(c.userPhone)
	params.SetFrom(c.from)
	params.SetTwiml(doc)

	resp, err := c.client.Api.CreateCall(params)
	if err != nil {
		slog.Error("Twilio PlaceCall failed", "to", to, "error", err)
		return fmt.Errorf("failed to place call to %s: %w", to, err)
	}
	if resp.Sid != nil {
		slog.Info("Twilio call created", "to", to, "sid", *resp.Sid)
	}
	return nil
}

// SendMessage sends an SMS using the Twilio API.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(c.from)
	params.SetBody(body)

	_, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendMessage failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}

	slog.Debug("Twilio message sent", "to", to)
	return nil
}

// MockClient records calls and messages instead of contacting Twilio.
type MockClient struct {
	mu           sync.Mutex
	SentMessages []SentMessage
	PlacedCalls  []string
	Err          error
}

type SentMessage struct {
	To   string
	Body string
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) PlaceCall(ctx context.Context, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PlacedCalls = append(m.PlacedCalls, to)
	return m.Err
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return m.Err
}

// Calls returns a copy of the recorded calls.
func (m *MockClient) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.PlacedCalls...)
}

// Messages returns a copy of the recorded messages.
func (m *MockClient) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.SentMessages...)
}
