package hub

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/projectech/VoiceGuide/internal/dialogue"
	"github.com/projectech/VoiceGuide/internal/models"
)

var (
	_ dialogue.SpeechOutput   = (*Hub)(nil)
	_ dialogue.TranscriptSink = (*Hub)(nil)
)

// dial connects a test device and waits until the hub has registered it.
func dial(t *testing.T, h *Hub, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	before := h.Connected()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })

	deadline := time.Now().Add(2 * time.Second)
	for h.Connected() <= before {
		if time.Now().After(deadline) {
			t.Fatal("device was not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var ev Event
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func writeMessage(t *testing.T, conn *websocket.Conn, msg Message) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		t.Fatalf("write message: %v", err)
	}
}

type fakeSynth struct{}

func (fakeSynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return []byte("mp3:" + text), nil
}

func TestSpeakWithoutDevicesReturnsImmediately(t *testing.T) {
	h := New(WithAckTimeout(time.Minute))
	start := time.Now()
	if err := h.Speak(context.Background(), "Hello"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Speak waited although no device is connected")
	}
	if h.PromptsSent() != 0 {
		t.Errorf("expected no prompts sent, got %d", h.PromptsSent())
	}
}

func TestSpeakWaitsForAcknowledgement(t *testing.T) {
	h := New(WithAckTimeout(5*time.Second), WithSynthesizer(fakeSynth{}))
	srv := httptest.NewServer(h)
	defer srv.Close()
	conn := dial(t, h, srv)

	ctx := dialogue.ContextWithSessionID(context.Background(), "s_test")
	done := make(chan error, 1)
	go func() { done <- h.Speak(ctx, "Who do you want to call?") }()

	ev := readEvent(t, conn)
	if ev.Type != EventPrompt || ev.Text != "Who do you want to call?" || ev.SessionID != "s_test" {
		t.Fatalf("unexpected prompt event %+v", ev)
	}
	if ev.Audio == "" {
		t.Error("expected synthesized audio on the prompt")
	}

	select {
	case <-done:
		t.Fatal("Speak returned before the device acknowledged playback")
	case <-time.After(50 * time.Millisecond):
	}

	writeMessage(t, conn, Message{Type: MessageSpoken, PromptID: ev.PromptID})
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Speak: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Speak did not return after acknowledgement")
	}
}

func TestSpeakTimesOut(t *testing.T) {
	h := New(WithAckTimeout(50 * time.Millisecond))
	srv := httptest.NewServer(h)
	defer srv.Close()
	dial(t, h, srv)

	if err := h.Speak(context.Background(), "Hello"); err != nil {
		t.Errorf("Speak: %v", err)
	}
	if h.PromptsSent() != 1 {
		t.Errorf("expected one prompt sent, got %d", h.PromptsSent())
	}
}

func TestAckUnknownPrompt(t *testing.T) {
	h := New()
	if h.Ack("p_missing") {
		t.Error("Ack of an unknown prompt should report false")
	}
	if h.Ack("") {
		t.Error("Ack with nothing pending should report false")
	}
}

func TestLaunchNavigation(t *testing.T) {
	h := New()
	target := models.Coordinates{Latitude: 40.7, Longitude: -74}
	if err := h.LaunchNavigation(context.Background(), target); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice, got %v", err)
	}

	srv := httptest.NewServer(h)
	defer srv.Close()
	conn := dial(t, h, srv)
	if err := h.LaunchNavigation(context.Background(), target); err != nil {
		t.Fatalf("LaunchNavigation: %v", err)
	}
	ev := readEvent(t, conn)
	if ev.Type != EventNavigate || ev.URI != "google.navigation:q=40.7,-74&mode=w" {
		t.Errorf("unexpected navigation event %+v", ev)
	}
}

func TestTranscriptBroadcast(t *testing.T) {
	h := New()
	srv := httptest.NewServer(h)
	defer srv.Close()
	a := dial(t, h, srv)
	b := dial(t, h, srv)

	entry := models.TranscriptEntry{SessionID: "s_1", Speaker: models.SpeakerUser, Text: "Bob"}
	if err := h.Append(context.Background(), entry); err != nil {
		t.Fatalf("Append: %v", err)
	}
	for _, conn := range []*websocket.Conn{a, b} {
		ev := readEvent(t, conn)
		if ev.Type != EventTranscript || ev.Entry == nil || ev.Entry.Text != "Bob" {
			t.Errorf("unexpected transcript event %+v", ev)
		}
	}
}

func TestDeviceMessages(t *testing.T) {
	var mu sync.Mutex
	var fixes []models.Coordinates
	var heard []string

	h := New(WithLocationHandler(func(c models.Coordinates) error {
		mu.Lock()
		defer mu.Unlock()
		fixes = append(fixes, c)
		return c.Validate()
	}))
	h.SetUtteranceHandler(func(text string) error {
		mu.Lock()
		defer mu.Unlock()
		heard = append(heard, text)
		return nil
	})
	srv := httptest.NewServer(h)
	defer srv.Close()
	conn := dial(t, h, srv)

	writeMessage(t, conn, Message{Type: MessagePing})
	if ev := readEvent(t, conn); ev.Type != EventPong {
		t.Errorf("expected pong, got %+v", ev)
	}

	lat, lon := 48.85, 2.35
	writeMessage(t, conn, Message{Type: MessageLocation, Latitude: &lat, Longitude: &lon})
	writeMessage(t, conn, Message{Type: MessageUtterance, Text: "yes"})
	writeMessage(t, conn, Message{Type: MessageLocation})
	if ev := readEvent(t, conn); ev.Type != EventError {
		t.Errorf("expected error for incomplete location, got %+v", ev)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(fixes) != 1 || fixes[0] != (models.Coordinates{Latitude: lat, Longitude: lon}) {
		t.Errorf("unexpected fixes %v", fixes)
	}
	if len(heard) != 1 || heard[0] != "yes" {
		t.Errorf("unexpected utterances %v", heard)
	}
}

func TestDisconnectReleasesPendingPrompt(t *testing.T) {
	h := New(WithAckTimeout(time.Minute))
	srv := httptest.NewServer(h)
	defer srv.Close()
	conn := dial(t, h, srv)

	done := make(chan error, 1)
	go func() { done <- h.Speak(context.Background(), "Hello") }()
	readEvent(t, conn)
	conn.Close(websocket.StatusNormalClosure, "")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Speak kept waiting after the last device left")
	}
}

func TestAckSessionOnlyReleasesItsOwnPrompts(t *testing.T) {
	h := New(WithAckTimeout(time.Minute))
	srv := httptest.NewServer(h)
	defer srv.Close()
	conn := dial(t, h, srv)

	speak := func(session string) (<-chan error, Event) {
		done := make(chan error, 1)
		ctx := dialogue.ContextWithSessionID(context.Background(), session)
		go func() { done <- h.Speak(ctx, "Prompt for "+session) }()
		return done, readEvent(t, conn)
	}
	doneA, evA := speak("s_a")
	doneB, evB := speak("s_b")

	if h.AckSession("s_a", evB.PromptID) {
		t.Error("a prompt of another conversation must not be acknowledged")
	}
	if !h.AckSession("s_a", "") {
		t.Fatal("expected the pending prompt of s_a to be acknowledged")
	}
	select {
	case <-doneA:
	case <-time.After(2 * time.Second):
		t.Fatal("Speak for s_a did not return")
	}
	select {
	case <-doneB:
		t.Fatal("Speak for s_b returned after s_a was acknowledged")
	case <-time.After(50 * time.Millisecond):
	}

	if !h.AckSession("s_b", evB.PromptID) {
		t.Error("expected the prompt of s_b to be acknowledged")
	}
	select {
	case <-doneB:
	case <-time.After(2 * time.Second):
		t.Fatal("Speak for s_b did not return")
	}
	if evA.SessionID != "s_a" || evB.SessionID != "s_b" {
		t.Errorf("unexpected prompt sessions %q, %q", evA.SessionID, evB.SessionID)
	}
}
