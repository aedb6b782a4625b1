package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/projectech/VoiceGuide/internal/models"
)

type fakeDirectory struct {
	contacts map[string]string
	err      error
	calls    []string
}

func (f *fakeDirectory) ResolveContact(ctx context.Context, name string) (string, bool, error) {
	f.calls = append(f.calls, name)
	if f.err != nil {
		return "", false, f.err
	}
	for k, v := range f.contacts {
		if strings.Contains(strings.ToLower(k), strings.ToLower(name)) {
			return v, true, nil
		}
	}
	return "", false, nil
}

type fakePlaces struct {
	names  []string
	coords map[string]models.Coordinates
	err    error
}

func (f *fakePlaces) ListNames(ctx context.Context) ([]string, error) {
	return f.names, f.err
}

func (f *fakePlaces) Get(ctx context.Context, name string) (models.Coordinates, bool, error) {
	c, ok := f.coords[strings.ToLower(name)]
	return c, ok, f.err
}

func testEnv() Env {
	return Env{
		Directory: &fakeDirectory{contacts: map[string]string{"Alexandra Smith": "+15550001"}},
		Places: &fakePlaces{
			names:  []string{"home", "office"},
			coords: map[string]models.Coordinates{"home": {Latitude: 52.5, Longitude: 13.4}},
		},
	}
}

// step applies text and fails the test on engine-level errors.
func step(t *testing.T, def *Definition, env Env, state models.StateType, text string, data Data) Turn {
	t.Helper()
	turn, err := def.Transition(context.Background(), env, state, text, data)
	if err != nil {
		t.Fatalf("Transition(%s, %q) error: %v", state, text, err)
	}
	return turn
}

func TestRegistryHasAllFlows(t *testing.T) {
	for _, ft := range []models.FlowType{models.FlowTypeCall, models.FlowTypeSMS, models.FlowTypeLocation, models.FlowTypeNavigation} {
		def, ok := Get(ft)
		if !ok {
			t.Fatalf("flow %s not registered", ft)
		}
		if err := def.Validate(); err != nil {
			t.Errorf("flow %s invalid: %v", ft, err)
		}
	}
	if len(Types()) != 4 {
		t.Errorf("expected 4 registered flows, got %v", Types())
	}
	if _, err := Lookup("UNKNOWN"); !errors.Is(err, ErrUnknownFlow) {
		t.Errorf("expected ErrUnknownFlow, got %v", err)
	}
}

func TestValidateRejectsBrokenDefinitions(t *testing.T) {
	noTerminal := &Definition{
		Type:    "broken",
		Initial: "A",
		States:  map[models.StateType]StateSpec{"A": {Kind: KindAsking, Entry: func(Data) Prompt { return say("a") }}},
		Step:    func(context.Context, Env, models.StateType, string, Data) Turn { return Turn{} },
	}
	if err := noTerminal.Validate(); !errors.Is(err, ErrInvalidFlowDef) {
		t.Errorf("expected ErrInvalidFlowDef for missing terminal, got %v", err)
	}

	missingInitial := &Definition{
		Type:    "broken",
		Initial: "X",
		States:  map[models.StateType]StateSpec{"DONE": {Kind: KindTerminal}},
		Step:    func(context.Context, Env, models.StateType, string, Data) Turn { return Turn{} },
	}
	if err := missingInitial.Validate(); !errors.Is(err, ErrInvalidFlowDef) {
		t.Errorf("expected ErrInvalidFlowDef for missing initial, got %v", err)
	}
}

func TestTransitionRejectsNonAskingStates(t *testing.T) {
	def := CallFlow()
	if _, err := def.Transition(context.Background(), testEnv(), models.StateFinished, "yes", Data{}); err == nil {
		t.Error("expected error for terminal state")
	}
	if _, err := def.Transition(context.Background(), testEnv(), models.StatePlacingCall, "yes", Data{}); err == nil {
		t.Error("expected error for awaiting state")
	}
	if _, err := def.Transition(context.Background(), testEnv(), "NOPE", "yes", Data{}); !errors.Is(err, ErrUnknownState) {
		t.Errorf("expected ErrUnknownState, got %v", err)
	}
}

// An unusable utterance leaves every asking state of every flow unchanged and
// re-emits the same prompt, no matter how often it is repeated.
func TestRepromptLawForAllFlows(t *testing.T) {
	env := testEnv()
	data := Data{
		models.DataKeyNumber:      "555123",
		models.DataKeyContact:     "alex",
		models.DataKeyDestination: "555123",
		models.DataKeyMessage:     "hello",
		models.DataKeyPlace:       "home",
		models.DataKeySavedNames:  "Home, Office",
	}
	for _, ft := range Types() {
		def, _ := Get(ft)
		for state, ss := range def.States {
			if ss.Kind != KindAsking {
				continue
			}
			want := def.RetryPrompt(state, data)
			if want.IsZero() {
				t.Errorf("%s/%s has an empty retry prompt", ft, state)
			}
			for i := 0; i < 5; i++ {
				turn := step(t, def, env, state, "   ", data)
				if turn.Next != state {
					t.Fatalf("%s/%s: blank input moved to %s", ft, state, turn.Next)
				}
				if turn.Prompt != want {
					t.Fatalf("%s/%s: expected retry prompt %q, got %q", ft, state, want.Text, turn.Prompt.Text)
				}
				if turn.Effect != nil {
					t.Fatalf("%s/%s: blank input requested an effect", ft, state)
				}
			}
		}
	}
}

func TestBranchingStatesRepromptOnUnknownIntent(t *testing.T) {
	env := testEnv()
	cases := []struct {
		ft    models.FlowType
		state models.StateType
		text  string
	}{
		{models.FlowTypeCall, models.StateAskType, "banana"},
		{models.FlowTypeCall, models.StateAskNumber, "12a4"},
		{models.FlowTypeSMS, models.StateAskType, "banana"},
		{models.FlowTypeLocation, models.StateAskType, "banana"},
		{models.FlowTypeLocation, models.StateAskDestinationType, "banana"},
		{models.FlowTypeLocation, models.StateGetNumber, "call me maybe"},
	}
	for _, c := range cases {
		def, _ := Get(c.ft)
		for i := 0; i < 3; i++ {
			turn := step(t, def, env, c.state, c.text, Data{})
			if turn.Next != c.state {
				t.Errorf("%s/%s + %q: expected to stay, got %s", c.ft, c.state, c.text, turn.Next)
			}
			if turn.Outcome != OutcomeAmbiguousInput && turn.Outcome != OutcomeInvalidInput {
				t.Errorf("%s/%s: unexpected outcome %s", c.ft, c.state, turn.Outcome)
			}
			if turn.Prompt != def.RetryPrompt(c.state, Data{}) {
				t.Errorf("%s/%s: expected retry prompt, got %q", c.ft, c.state, turn.Prompt.Text)
			}
		}
	}
}

func TestDataWithCopies(t *testing.T) {
	var d Data
	d2 := d.With(models.DataKeyNumber, "1")
	d3 := d2.With(models.DataKeyNumber, "2")
	if d2.Get(models.DataKeyNumber) != "1" || d3.Get(models.DataKeyNumber) != "2" {
		t.Error("With must not mutate the receiver")
	}
	if d.Get(models.DataKeyNumber) != "" {
		t.Error("nil data must read as empty")
	}
}

func TestPromptSpoken(t *testing.T) {
	if got := (Prompt{Text: "a"}).Spoken(); got != "a" {
		t.Errorf("expected text fallback, got %q", got)
	}
	if got := (Prompt{Text: "a", Speech: "b"}).Spoken(); got != "b" {
		t.Errorf("expected speech, got %q", got)
	}
}
