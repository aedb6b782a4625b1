// Package gateway connects conversations to the outside world: the phone
// provider for calls, the messaging channel for texts, the contact
// directory, location services and the device for navigation.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/projectech/VoiceGuide/internal/dialogue"
	"github.com/projectech/VoiceGuide/internal/location"
	"github.com/projectech/VoiceGuide/internal/models"
)

// ErrNotConfigured is returned when the component an action needs was not set up.
var ErrNotConfigured = errors.New("not configured")

// Caller places phone calls.
type Caller interface {
	PlaceCall(ctx context.Context, to string) error
}

// Messenger delivers text messages.
type Messenger interface {
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)
	SendMessage(ctx context.Context, to string, body string) error
}

// Contacts looks up directory entries.
type Contacts interface {
	FindContact(ctx context.Context, name string) (models.Contact, bool, error)
}

// Receipts records dispatched actions.
type Receipts interface {
	AddReceipt(ctx context.Context, r models.Receipt) error
}

// Describer turns a position into words.
type Describer interface {
	Describe(ctx context.Context, at models.Coordinates) (string, error)
}

// Navigator starts turn-by-turn navigation on the user's device.
type Navigator interface {
	LaunchNavigation(ctx context.Context, target models.Coordinates) error
}

// Opts holds the components used by a Gateway. Any of them may be nil.
type Opts struct {
	Caller    Caller
	Messenger Messenger
	Contacts  Contacts
	Receipts  Receipts
	Location  location.Provider
	Describer Describer
	Navigator Navigator
}

// Option defines a functional option for configuring a Gateway.
type Option func(*Opts)

// WithCaller sets the phone call provider.
func WithCaller(c Caller) Option {
	return func(o *Opts) { o.Caller = c }
}

// WithMessenger sets the text message channel.
func WithMessenger(m Messenger) Option {
	return func(o *Opts) { o.Messenger = m }
}

// WithContacts sets the contact directory.
func WithContacts(c Contacts) Option {
	return func(o *Opts) { o.Contacts = c }
}

// WithReceipts sets where dispatch receipts are recorded.
func WithReceipts(r Receipts) Option {
	return func(o *Opts) { o.Receipts = r }
}

// WithLocation sets the position source.
func WithLocation(p location.Provider) Option {
	return func(o *Opts) { o.Location = p }
}

// WithDescriber sets the reverse geocoder.
func WithDescriber(d Describer) Option {
	return func(o *Opts) { o.Describer = d }
}

// WithNavigator sets the navigation launcher.
func WithNavigator(n Navigator) Option {
	return func(o *Opts) { o.Navigator = n }
}

// Gateway implements dialogue.ActionGateway.
type Gateway struct {
	opts Opts
	now  func() time.Time
}

var _ dialogue.ActionGateway = (*Gateway)(nil)

// New creates a gateway from the given components.
func New(opts ...Option) *Gateway {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Gateway{opts: cfg, now: time.Now}
}

// PlaceCall places a call to number and records a receipt.
func (g *Gateway) PlaceCall(ctx context.Context, number string) error {
	if g.opts.Caller == nil {
		return g.record(ctx, models.ActionPlaceCall, number, "", fmt.Errorf("phone calls %w", ErrNotConfigured))
	}
	err := g.opts.Caller.PlaceCall(ctx, number)
	return g.record(ctx, models.ActionPlaceCall, number, "", err)
}

// SendMessage sends body to number over the configured channel and records a receipt.
func (g *Gateway) SendMessage(ctx context.Context, number, body string) error {
	if g.opts.Messenger == nil {
		return g.record(ctx, models.ActionSendMessage, number, body, fmt.Errorf("messaging %w", ErrNotConfigured))
	}
	to, err := g.opts.Messenger.ValidateAndCanonicalizeRecipient(number)
	if err != nil {
		return g.record(ctx, models.ActionSendMessage, number, body, err)
	}
	err = g.opts.Messenger.SendMessage(ctx, to, body)
	return g.record(ctx, models.ActionSendMessage, to, body, err)
}

// ResolveContact returns the number of the first contact whose name contains name.
func (g *Gateway) ResolveContact(ctx context.Context, name string) (string, bool, error) {
	if g.opts.Contacts == nil {
		return "", false, nil
	}
	c, found, err := g.opts.Contacts.FindContact(ctx, name)
	if err != nil || !found {
		return "", false, err
	}
	slog.Debug("Gateway.ResolveContact: contact found", "name", name, "contact", c.Name)
	return c.Number, true, nil
}

// CurrentLocation returns the device's position.
func (g *Gateway) CurrentLocation(ctx context.Context) (models.Coordinates, bool, error) {
	if g.opts.Location == nil {
		return models.Coordinates{}, false, nil
	}
	return g.opts.Location.CurrentLocation(ctx)
}

// DescribeLocation reverse-geocodes at.
func (g *Gateway) DescribeLocation(ctx context.Context, at models.Coordinates) (string, error) {
	if g.opts.Describer == nil {
		return "", fmt.Errorf("reverse geocoding %w", ErrNotConfigured)
	}
	return g.opts.Describer.Describe(ctx, at)
}

// LaunchNavigation opens walking navigation to target on the device and records a receipt.
func (g *Gateway) LaunchNavigation(ctx context.Context, target models.Coordinates) error {
	if g.opts.Navigator == nil {
		return g.record(ctx, models.ActionLaunchNavigation, target.String(), "", fmt.Errorf("navigation %w", ErrNotConfigured))
	}
	err := g.opts.Navigator.LaunchNavigation(ctx, target)
	return g.record(ctx, models.ActionLaunchNavigation, target.String(), target.NavigationURI(), err)
}

// record stores a receipt for an action and passes its error through.
func (g *Gateway) record(ctx context.Context, action models.ActionType, to, detail string, actionErr error) error {
	r := models.Receipt{
		SessionID: dialogue.SessionIDFromContext(ctx),
		Action:    action,
		To:        to,
		Status:    models.MessageStatusSent,
		Detail:    detail,
		Time:      g.now().Unix(),
	}
	if actionErr != nil {
		r.Status = models.MessageStatusFailed
		r.Detail = actionErr.Error()
		slog.Error("Gateway.record: action failed", "session", r.SessionID, "action", action, "to", to, "error", actionErr)
	} else {
		slog.Info("Gateway.record: action dispatched", "session", r.SessionID, "action", action, "to", to)
	}

	if g.opts.Receipts != nil {
		// The receipt must outlive a conversation cancelled right after dispatch.
		if err := g.opts.Receipts.AddReceipt(context.WithoutCancel(ctx), r); err != nil {
			slog.Error("Gateway.record: failed to store receipt", "session", r.SessionID, "error", err)
		}
	}
	return actionErr
}
