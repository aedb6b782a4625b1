// Package hub pushes conversation events to connected devices over websockets.
//
// A device (the phone app or a browser page) connects to the hub and receives
// prompts to speak, transcript lines and navigation launch links. It answers
// with "spoken" acknowledgements, location fixes and typed utterances.
package hub

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/projectech/VoiceGuide/internal/dialogue"
	"github.com/projectech/VoiceGuide/internal/models"
	"github.com/projectech/VoiceGuide/internal/util"
)

// Event types sent to devices
const (
	EventPrompt     = "prompt"
	EventTranscript = "transcript"
	EventNavigate   = "navigate"
	EventPong       = "pong"
	EventError      = "error"
)

// Message types received from devices
const (
	MessageSpoken    = "spoken"
	MessageLocation  = "location"
	MessageUtterance = "utterance"
	MessagePing      = "ping"
)

// Defaults for Hub
const (
	DefaultAckTimeout = 30 * time.Second
	writeTimeout      = 5 * time.Second
	sendBuffer        = 32
)

// ErrNoDevice is returned when an action needs a connected device and none is.
var ErrNoDevice = errors.New("no device connected")

// Event is one message pushed to devices.
type Event struct {
	Type      string                  `json:"type"`
	SessionID string                  `json:"session_id,omitempty"`
	PromptID  string                  `json:"prompt_id,omitempty"`
	Text      string                  `json:"text,omitempty"`
	Audio     string                  `json:"audio,omitempty"` // base64 MP3
	URI       string                  `json:"uri,omitempty"`
	Entry     *models.TranscriptEntry `json:"entry,omitempty"`
}

// Message is one message received from a device.
type Message struct {
	Type      string   `json:"type"`
	PromptID  string   `json:"prompt_id,omitempty"`
	Text      string   `json:"text,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// Synthesizer renders prompt text as audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Opts holds configuration for a Hub.
type Opts struct {
	Synthesizer Synthesizer
	AckTimeout  time.Duration
	OnLocation  func(models.Coordinates) error
	OnUtterance func(text string) error
}

// Option defines a functional option for configuring a Hub.
type Option func(*Opts)

// WithSynthesizer attaches synthesized audio to prompt events.
func WithSynthesizer(s Synthesizer) Option {
	return func(o *Opts) { o.Synthesizer = s }
}

// WithAckTimeout sets how long Speak waits for a device to report playback finished.
func WithAckTimeout(d time.Duration) Option {
	return func(o *Opts) { o.AckTimeout = d }
}

// WithLocationHandler sets the callback for location fixes sent by devices.
func WithLocationHandler(fn func(models.Coordinates) error) Option {
	return func(o *Opts) { o.OnLocation = fn }
}

type pendingPrompt struct {
	sessionID string
	done      chan struct{}
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks connected devices. It is a dialogue.SpeechOutput, a
// dialogue.TranscriptSink and the navigation launcher of the action gateway.
type Hub struct {
	opts Opts

	mu      sync.RWMutex
	clients map[string]*client

	ackMu   sync.Mutex
	pending map[string]pendingPrompt
	prompts atomic.Uint64
}

// New creates an empty hub.
func New(opts ...Option) *Hub {
	cfg := Opts{AckTimeout: DefaultAckTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Hub{
		opts:    cfg,
		clients: make(map[string]*client),
		pending: make(map[string]pendingPrompt),
	}
}

// SetUtteranceHandler sets the callback for typed or recognized text sent by
// devices. The API server installs it once the conversation manager exists.
func (h *Hub) SetUtteranceHandler(fn func(text string) error) {
	h.mu.Lock()
	h.opts.OnUtterance = fn
	h.mu.Unlock()
}

// Connected returns the number of connected devices.
func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a websocket and serves the device until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Hub.ServeHTTP: websocket accept failed", "error", err)
		return
	}

	c := &client{id: util.GenerateClientID(), conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(c)
	defer h.unregister(c)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.writeLoop(ctx, c)
	h.readLoop(ctx, c)

	if err := conn.Close(websocket.StatusNormalClosure, "bye"); err != nil {
		slog.Debug("Hub.ServeHTTP: close failed", "client", c.id, "error", err)
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	slog.Info("Hub.register: device connected", "client", c.id, "connected", n)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	n := len(h.clients)
	h.mu.Unlock()
	slog.Info("Hub.unregister: device disconnected", "client", c.id, "connected", n)
	if n == 0 {
		// Nobody is left to play pending prompts.
		h.Ack("")
	}
}

func (h *Hub) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				slog.Warn("Hub.writeLoop: write failed", "client", c.id, "error", err)
				return
			}
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("Hub.readLoop: device closed connection", "client", c.id)
			} else if ctx.Err() == nil {
				slog.Warn("Hub.readLoop: read failed", "client", c.id, "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Hub.readLoop: invalid message", "client", c.id, "error", err)
			h.sendTo(c, Event{Type: EventError, Text: "invalid message"})
			continue
		}
		if err := h.handleMessage(c, msg); err != nil {
			h.sendTo(c, Event{Type: EventError, Text: err.Error()})
		}
	}
}

func (h *Hub) handleMessage(c *client, msg Message) error {
	switch msg.Type {
	case MessagePing:
		h.sendTo(c, Event{Type: EventPong})
	case MessageSpoken:
		h.Ack(msg.PromptID)
	case MessageLocation:
		if msg.Latitude == nil || msg.Longitude == nil {
			return errors.New("location requires latitude and longitude")
		}
		if h.opts.OnLocation == nil {
			return errors.New("location updates are not accepted")
		}
		return h.opts.OnLocation(models.Coordinates{Latitude: *msg.Latitude, Longitude: *msg.Longitude})
	case MessageUtterance:
		h.mu.RLock()
		fn := h.opts.OnUtterance
		h.mu.RUnlock()
		if fn == nil {
			return errors.New("utterances are not accepted")
		}
		return fn(msg.Text)
	default:
		slog.Debug("Hub.handleMessage: unknown message type", "client", c.id, "type", msg.Type)
	}
	return nil
}

func (h *Hub) sendTo(c *client, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("Hub.sendTo: marshal failed", "type", ev.Type, "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		slog.Warn("Hub.sendTo: device is not keeping up, dropping event", "client", c.id, "type", ev.Type)
	}
}

// Broadcast sends ev to every connected device and returns how many were reached.
func (h *Hub) Broadcast(ev Event) int {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.sendTo(c, ev)
	}
	return len(clients)
}

// Speak implements dialogue.SpeechOutput. The prompt goes to every device and
// Speak returns when one of them acknowledges playback, the ack timeout
// passes or ctx is done. Without devices it returns at once.
func (h *Hub) Speak(ctx context.Context, text string) error {
	if h.Connected() == 0 {
		return nil
	}

	ev := Event{
		Type:      EventPrompt,
		SessionID: dialogue.SessionIDFromContext(ctx),
		PromptID:  util.GenerateRandomID("p_", 8),
		Text:      text,
	}
	if h.opts.Synthesizer != nil {
		audio, err := h.opts.Synthesizer.Synthesize(ctx, text)
		if err != nil {
			slog.Warn("Hub.Speak: synthesis failed, sending text only", "error", err)
		} else {
			ev.Audio = base64.StdEncoding.EncodeToString(audio)
		}
	}

	ack := make(chan struct{})
	h.ackMu.Lock()
	h.pending[ev.PromptID] = pendingPrompt{sessionID: ev.SessionID, done: ack}
	h.ackMu.Unlock()
	defer func() {
		h.ackMu.Lock()
		delete(h.pending, ev.PromptID)
		h.ackMu.Unlock()
	}()

	if h.Broadcast(ev) == 0 {
		return nil
	}
	h.prompts.Add(1)

	timer := time.NewTimer(h.opts.AckTimeout)
	defer timer.Stop()
	select {
	case <-ack:
		return nil
	case <-timer.C:
		slog.Warn("Hub.Speak: no playback acknowledgement", "prompt", ev.PromptID, "timeout", h.opts.AckTimeout)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ack marks a prompt as spoken. An empty id acknowledges every pending
// prompt. It reports whether anything was waiting.
func (h *Hub) Ack(promptID string) bool {
	return h.ack(promptID, func(pendingPrompt) bool { return true })
}

// AckSession is Ack limited to prompts spoken for the conversation sessionID.
// A prompt id belonging to another conversation is left pending.
func (h *Hub) AckSession(sessionID, promptID string) bool {
	return h.ack(promptID, func(p pendingPrompt) bool { return p.sessionID == sessionID })
}

func (h *Hub) ack(promptID string, match func(pendingPrompt) bool) bool {
	h.ackMu.Lock()
	defer h.ackMu.Unlock()
	if promptID == "" {
		acked := false
		for id, p := range h.pending {
			if !match(p) {
				continue
			}
			close(p.done)
			delete(h.pending, id)
			acked = true
		}
		return acked
	}
	p, ok := h.pending[promptID]
	if !ok || !match(p) {
		return false
	}
	close(p.done)
	delete(h.pending, promptID)
	return true
}

// PromptsSent returns how many prompts reached at least one device.
func (h *Hub) PromptsSent() uint64 {
	return h.prompts.Load()
}

// Append implements dialogue.TranscriptSink.
func (h *Hub) Append(ctx context.Context, entry models.TranscriptEntry) error {
	h.Broadcast(Event{Type: EventTranscript, SessionID: entry.SessionID, Entry: &entry})
	return nil
}

// LaunchNavigation sends the walking navigation deep link for target to the
// connected devices. It fails with ErrNoDevice when none is connected.
func (h *Hub) LaunchNavigation(ctx context.Context, target models.Coordinates) error {
	n := h.Broadcast(Event{
		Type:      EventNavigate,
		SessionID: dialogue.SessionIDFromContext(ctx),
		URI:       target.NavigationURI(),
	})
	if n == 0 {
		return ErrNoDevice
	}
	slog.Info("Hub.LaunchNavigation: navigation link sent", "devices", n, "target", target.String())
	return nil
}

// Close disconnects every device.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()
	for _, c := range clients {
		if err := c.conn.Close(websocket.StatusGoingAway, "server shutting down"); err != nil {
			slog.Debug("Hub.Close: close failed", "client", c.id, "error", err)
		}
	}
	h.Ack("")
}
