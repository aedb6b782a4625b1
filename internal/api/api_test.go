package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/projectech/VoiceGuide/internal/dialogue"
	"github.com/projectech/VoiceGuide/internal/gateway"
	"github.com/projectech/VoiceGuide/internal/hub"
	"github.com/projectech/VoiceGuide/internal/location"
	"github.com/projectech/VoiceGuide/internal/messaging"
	"github.com/projectech/VoiceGuide/internal/models"
	"github.com/projectech/VoiceGuide/internal/places"
	"github.com/projectech/VoiceGuide/internal/store"
	"github.com/projectech/VoiceGuide/internal/testutil"
	"github.com/projectech/VoiceGuide/internal/twilio"
)

type fakeTranscriber struct {
	text string
	err  error
}

func (f fakeTranscriber) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	return f.text, f.err
}

type testEnv struct {
	srv     *httptest.Server
	st      *store.InMemoryStore
	twilio  *twilio.MockClient
	tracker *location.Tracker
	manager *dialogue.Manager
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	st := store.NewInMemoryStore()
	tw := twilio.NewMockClient()
	tracker := location.NewTracker(location.WithWaitTimeout(50 * time.Millisecond))
	h := hub.New()
	pl := places.NewStore(st)

	gw := gateway.New(
		gateway.WithCaller(tw),
		gateway.WithMessenger(messaging.NewTwilioService(tw)),
		gateway.WithContacts(st),
		gateway.WithReceipts(st),
		gateway.WithLocation(tracker),
		gateway.WithNavigator(h),
	)
	manager := dialogue.NewManager(gw,
		dialogue.WithSpeechOutput(h),
		dialogue.WithTranscriptSink(dialogue.Sinks(store.TranscriptSink{Store: st}, h)),
		dialogue.WithPlaces(pl),
	)

	s := NewServer(manager, st, pl, h, tracker, opts...)
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		manager.Shutdown(ctx)
	})
	return &testEnv{srv: srv, st: st, twilio: tw, tracker: tracker, manager: manager}
}

// do sends a JSON request and decodes the standard response envelope.
func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (int, models.APIResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, testutil.DecodeAPIResponse(t, resp.Body)
}

func (e *testEnv) start(t *testing.T, ft models.FlowType) string {
	t.Helper()
	code, resp := e.do(t, http.MethodPost, "/conversations", map[string]string{"flow": string(ft)})
	if code != http.StatusCreated {
		t.Fatalf("start %s: status %d, message %q", ft, code, resp.Message)
	}
	var state models.ConversationState
	testutil.DecodeResult(t, resp, &state)
	if state.SessionID == "" {
		t.Fatal("start returned no session id")
	}
	return state.SessionID
}

// say posts an utterance, retrying while the conversation is still speaking.
func (e *testEnv) say(t *testing.T, id, text string) models.ConversationState {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		code, resp := e.do(t, http.MethodPost, "/conversations/"+id+"/utterances", map[string]string{"text": text})
		if code == http.StatusAccepted {
			var state models.ConversationState
			testutil.DecodeResult(t, resp, &state)
			return state
		}
		if code != http.StatusConflict || time.Now().After(deadline) {
			t.Fatalf("utterance %q: status %d, message %q", text, code, resp.Message)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (e *testEnv) waitFinished(t *testing.T, id string) models.ConversationState {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		code, resp := e.do(t, http.MethodGet, "/conversations/"+id, nil)
		if code != http.StatusOK {
			t.Fatalf("get conversation: status %d", code)
		}
		var state models.ConversationState
		testutil.DecodeResult(t, resp, &state)
		if state.Finished {
			return state
		}
		if time.Now().After(deadline) {
			t.Fatalf("conversation did not finish, state %s", state.CurrentState)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("unexpected health response %d %v", resp.StatusCode, body)
	}
}

func TestCallConversationOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	id := env.start(t, models.FlowTypeCall)

	if st := env.say(t, id, "Number"); st.CurrentState != models.StateAskNumber {
		t.Fatalf("expected ASK_NUMBER, got %s", st.CurrentState)
	}
	if st := env.say(t, id, "555 123 4567"); st.CurrentState != models.StateConfirmNumber {
		t.Fatalf("expected CONFIRM_NUMBER, got %s", st.CurrentState)
	}
	env.say(t, id, "yes")
	final := env.waitFinished(t, id)
	if final.CurrentState != models.StateFinished {
		t.Errorf("expected FINISHED, got %s", final.CurrentState)
	}

	if calls := env.twilio.Calls(); len(calls) != 1 || calls[0] != "5551234567" {
		t.Errorf("unexpected calls %v", calls)
	}

	code, resp := env.do(t, http.MethodGet, "/receipts", nil)
	var receipts []models.Receipt
	testutil.DecodeResult(t, resp, &receipts)
	if code != http.StatusOK || len(receipts) != 1 || receipts[0].SessionID != id || receipts[0].Status != models.MessageStatusSent {
		t.Errorf("unexpected receipts %d %+v", code, receipts)
	}

	code, resp = env.do(t, http.MethodGet, "/conversations/"+id+"/transcript", nil)
	var transcript []models.TranscriptEntry
	testutil.DecodeResult(t, resp, &transcript)
	if code != http.StatusOK || len(transcript) < 6 {
		t.Fatalf("expected a full transcript, got %d entries", len(transcript))
	}
	if transcript[1].Speaker != models.SpeakerUser || transcript[1].Text != "number" {
		t.Errorf("unexpected second transcript entry %+v", transcript[1])
	}

	// A finished conversation no longer takes input.
	code, _ = env.do(t, http.MethodPost, "/conversations/"+id+"/utterances", map[string]string{"text": "yes"})
	if code != http.StatusConflict && code != http.StatusGone {
		t.Errorf("expected conflict after finish, got %d", code)
	}
}

func TestStartingSecondConversationCancelsFirst(t *testing.T) {
	env := newTestEnv(t)
	first := env.start(t, models.FlowTypeSMS)
	second := env.start(t, models.FlowTypeCall)

	_, resp := env.do(t, http.MethodGet, "/conversations/"+first, nil)
	var state models.ConversationState
	testutil.DecodeResult(t, resp, &state)
	if !state.Cancelled {
		t.Error("first conversation should be cancelled")
	}

	code, resp := env.do(t, http.MethodGet, "/conversations", nil)
	var all []models.ConversationState
	testutil.DecodeResult(t, resp, &all)
	if code != http.StatusOK || len(all) != 2 || all[1].SessionID != second {
		t.Errorf("unexpected conversation list %+v", all)
	}

	code, _ = env.do(t, http.MethodDelete, "/conversations/"+second, nil)
	if code != http.StatusOK {
		t.Errorf("cancel: status %d", code)
	}
}

func TestConversationErrors(t *testing.T) {
	env := newTestEnv(t)
	if code, _ := env.do(t, http.MethodPost, "/conversations", map[string]string{"flow": "weather"}); code != http.StatusBadRequest {
		t.Errorf("unknown flow: expected 400, got %d", code)
	}
	if code, _ := env.do(t, http.MethodGet, "/conversations/s_missing", nil); code != http.StatusNotFound {
		t.Errorf("missing conversation: expected 404, got %d", code)
	}
	if code, _ := env.do(t, http.MethodPost, "/conversations/s_missing/utterances", map[string]string{"text": "hi"}); code != http.StatusNotFound {
		t.Errorf("utterance to missing conversation: expected 404, got %d", code)
	}
	if code, _ := env.do(t, http.MethodGet, "/conversations/s_missing/transcript", nil); code != http.StatusNotFound {
		t.Errorf("missing transcript: expected 404, got %d", code)
	}
}

func TestDestinationsEndpoints(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.do(t, http.MethodPut, "/destinations/Office", map[string]float64{"latitude": 40.7128, "longitude": -74.006})
	if code != http.StatusOK {
		t.Fatalf("put office: status %d", code)
	}
	code, _ = env.do(t, http.MethodPut, "/destinations/home", map[string]string{"coordinates": "51.5, -0.12"})
	if code != http.StatusOK {
		t.Fatalf("put home: status %d", code)
	}
	if code, _ := env.do(t, http.MethodPut, "/destinations/moon", map[string]float64{"latitude": 95, "longitude": 0}); code != http.StatusBadRequest {
		t.Errorf("out of range: expected 400, got %d", code)
	}
	if code, _ := env.do(t, http.MethodPut, "/destinations/nowhere", map[string]string{}); code != http.StatusBadRequest {
		t.Errorf("missing coordinates: expected 400, got %d", code)
	}

	_, resp := env.do(t, http.MethodGet, "/destinations", nil)
	var list []models.Destination
	testutil.DecodeResult(t, resp, &list)
	if len(list) != 2 {
		t.Fatalf("expected two destinations, got %+v", list)
	}

	if code, _ := env.do(t, http.MethodDelete, "/destinations/office", nil); code != http.StatusOK {
		t.Errorf("delete: status %d", code)
	}
	_, resp = env.do(t, http.MethodGet, "/destinations", nil)
	testutil.DecodeResult(t, resp, &list)
	if len(list) != 1 || list[0].Name != "home" {
		t.Errorf("unexpected destinations after delete %+v", list)
	}
}

func TestContactsEndpoints(t *testing.T) {
	env := newTestEnv(t)
	if code, _ := env.do(t, http.MethodPut, "/contacts/Bob%20Smith", map[string]string{"number": "5550001"}); code != http.StatusOK {
		t.Fatalf("put contact: status %d", code)
	}
	if code, _ := env.do(t, http.MethodPut, "/contacts/Alice", map[string]string{"number": ""}); code != http.StatusBadRequest {
		t.Errorf("empty number: expected 400, got %d", code)
	}

	_, resp := env.do(t, http.MethodGet, "/contacts?name=bob", nil)
	var contacts []models.Contact
	testutil.DecodeResult(t, resp, &contacts)
	if len(contacts) != 1 || contacts[0].Name != "Bob Smith" || contacts[0].Number != "5550001" {
		t.Errorf("unexpected contacts %+v", contacts)
	}
}

func TestLocationEndpoint(t *testing.T) {
	env := newTestEnv(t)
	if code, _ := env.do(t, http.MethodPost, "/location", map[string]float64{"latitude": 48.85, "longitude": 2.35}); code != http.StatusOK {
		t.Fatalf("post location: status %d", code)
	}
	fix, ok := env.tracker.Last()
	if !ok || fix.Latitude != 48.85 {
		t.Errorf("tracker not updated: %+v %v", fix, ok)
	}
	if code, _ := env.do(t, http.MethodPost, "/location", map[string]float64{"latitude": 120, "longitude": 0}); code != http.StatusBadRequest {
		t.Errorf("invalid fix: expected 400, got %d", code)
	}
}

func TestAudioUpload(t *testing.T) {
	env := newTestEnv(t, WithTranscriber(fakeTranscriber{text: "contact"}))
	id := env.start(t, models.FlowTypeCall)

	post := func() (int, models.APIResponse) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile("audio", "reply.wav")
		if err != nil {
			t.Fatal(err)
		}
		part.Write([]byte("RIFF"))
		mw.Close()
		resp, err := http.Post(env.srv.URL+"/conversations/"+id+"/audio", mw.FormDataContentType(), &buf)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		return resp.StatusCode, testutil.DecodeAPIResponse(t, resp.Body)
	}

	deadline := time.Now().Add(2 * time.Second)
	code, resp := post()
	for code == http.StatusConflict && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		code, resp = post()
	}
	if code != http.StatusAccepted {
		t.Fatalf("audio upload: status %d, message %q", code, resp.Message)
	}
	var result audioResult
	testutil.DecodeResult(t, resp, &result)
	if result.Text != "contact" || result.Conversation.CurrentState != models.StateAskContact {
		t.Errorf("unexpected audio result %+v", result)
	}
}

func TestAudioWithoutTranscriber(t *testing.T) {
	env := newTestEnv(t)
	id := env.start(t, models.FlowTypeCall)
	resp, err := http.Post(env.srv.URL+"/conversations/"+id+"/audio", "multipart/form-data", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	testutil.AssertHTTPStatus(t, http.StatusServiceUnavailable, resp.StatusCode, "audio without transcriber")
}

func TestSpokenWithoutPendingPrompt(t *testing.T) {
	env := newTestEnv(t)
	id := env.start(t, models.FlowTypeCall)
	code, resp := env.do(t, http.MethodPost, "/conversations/"+id+"/spoken", nil)
	var result map[string]bool
	testutil.DecodeResult(t, resp, &result)
	if code != http.StatusOK || result["acknowledged"] {
		t.Errorf("unexpected spoken response %d %+v", code, result)
	}
}
