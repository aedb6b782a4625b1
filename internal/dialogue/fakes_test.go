package dialogue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/projectech/VoiceGuide/internal/models"
)

const waitTimeout = 2 * time.Second

// fakeOutput records spoken prompts and finishes immediately.
type fakeOutput struct {
	mu     sync.Mutex
	spoken []string
	err    error
}

func (f *fakeOutput) Speak(ctx context.Context, text string) error {
	f.mu.Lock()
	f.spoken = append(f.spoken, text)
	f.mu.Unlock()
	return f.err
}

func (f *fakeOutput) Spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.spoken...)
}

type listenResult struct {
	text string
	err  error
}

// fakeInput hands out scripted replies. When the script runs out, every
// listen returns fallback.
type fakeInput struct {
	mu       sync.Mutex
	script   []listenResult
	fallback *listenResult
	listens  atomic.Int32
}

func (f *fakeInput) Listen(ctx context.Context) (string, error) {
	f.listens.Add(1)
	f.mu.Lock()
	var next *listenResult
	if len(f.script) > 0 {
		r := f.script[0]
		f.script = f.script[1:]
		next = &r
	} else {
		next = f.fallback
	}
	f.mu.Unlock()

	if next == nil {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return next.text, next.err
}

func replies(texts ...string) []listenResult {
	out := make([]listenResult, 0, len(texts))
	for _, t := range texts {
		out = append(out, listenResult{text: t})
	}
	return out
}

// fakeSink keeps transcript entries in memory.
type fakeSink struct {
	mu      sync.Mutex
	entries []models.TranscriptEntry
}

func (f *fakeSink) Append(ctx context.Context, entry models.TranscriptEntry) error {
	f.mu.Lock()
	f.entries = append(f.entries, entry)
	f.mu.Unlock()
	return nil
}

func (f *fakeSink) Entries() []models.TranscriptEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.TranscriptEntry(nil), f.entries...)
}

func (f *fakeSink) Contains(speaker models.Speaker, substr string) bool {
	for _, e := range f.Entries() {
		if e.Speaker == speaker && strings.Contains(e.Text, substr) {
			return true
		}
	}
	return false
}

type sentMessage struct {
	To   string
	Body string
}

// fakeGateway records every dispatch. A non-nil hold channel blocks location
// lookups until it is closed.
type fakeGateway struct {
	mu          sync.Mutex
	calls       []string
	messages    []sentMessage
	navigations []models.Coordinates
	lookups     []string

	contacts    map[string]string
	location    *models.Coordinates
	description string
	describeErr error
	dispatchErr error
	hold        chan struct{}
}

func (f *fakeGateway) PlaceCall(ctx context.Context, number string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, number)
	return f.dispatchErr
}

func (f *fakeGateway) SendMessage(ctx context.Context, number, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, sentMessage{To: number, Body: body})
	return f.dispatchErr
}

func (f *fakeGateway) ResolveContact(ctx context.Context, name string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups = append(f.lookups, name)
	for k, v := range f.contacts {
		if strings.Contains(strings.ToLower(k), strings.ToLower(name)) {
			return v, true, nil
		}
	}
	return "", false, nil
}

func (f *fakeGateway) CurrentLocation(ctx context.Context) (models.Coordinates, bool, error) {
	if f.hold != nil {
		select {
		case <-f.hold:
		case <-ctx.Done():
			return models.Coordinates{}, false, ctx.Err()
		}
	}
	if f.location == nil {
		return models.Coordinates{}, false, nil
	}
	return *f.location, true, nil
}

func (f *fakeGateway) DescribeLocation(ctx context.Context, at models.Coordinates) (string, error) {
	return f.description, f.describeErr
}

func (f *fakeGateway) LaunchNavigation(ctx context.Context, target models.Coordinates) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigations = append(f.navigations, target)
	return f.dispatchErr
}

func (f *fakeGateway) dispatchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls) + len(f.messages) + len(f.navigations)
}

// fakePlaces is an in-memory destination list.
type fakePlaces struct {
	coords map[string]models.Coordinates
	names  []string
}

func (f *fakePlaces) ListNames(ctx context.Context) ([]string, error) {
	return f.names, nil
}

func (f *fakePlaces) Get(ctx context.Context, name string) (models.Coordinates, bool, error) {
	c, ok := f.coords[name]
	return c, ok, nil
}

var errBoom = errors.New("boom")

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// waitState waits until the engine has settled in state.
func waitState(t *testing.T, e *Engine, state models.StateType) {
	t.Helper()
	waitFor(t, "state "+string(state), func() bool {
		return e.Snapshot().CurrentState == state
	})
}

// reply delivers an utterance, retrying while the engine is still speaking.
func reply(t *testing.T, e *Engine, text string) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for {
		err := e.OnUtteranceReceived(text)
		if err == nil {
			return
		}
		if !errors.Is(err, ErrNotAwaitingInput) || time.Now().After(deadline) {
			t.Fatalf("OnUtteranceReceived(%q): %v", text, err)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// waitDone waits for the conversation to end.
func waitDone(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := e.Wait(ctx); err != nil {
		t.Fatalf("conversation did not end: %v", err)
	}
}
