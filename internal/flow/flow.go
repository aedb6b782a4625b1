// Package flow describes voice tasks as data: the states of each task, the
// prompt spoken on entry to a state, and the pure transition functions the
// dialogue engine applies to recognized utterances and effect results.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/projectech/VoiceGuide/internal/models"
)

// Error variables for definition validation and lookup
var (
	ErrUnknownFlow    = errors.New("unknown flow type")
	ErrUnknownState   = errors.New("state is not part of the flow")
	ErrInvalidFlowDef = errors.New("invalid flow definition")
)

// Kind classifies a state by what the engine waits for while in it.
type Kind int

const (
	// KindAsking states wait for the user's next utterance.
	KindAsking Kind = iota
	// KindAwaiting states wait for an effect result; the microphone stays closed.
	KindAwaiting
	// KindTerminal states end the conversation.
	KindTerminal
)

// String returns a readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindAsking:
		return "asking"
	case KindAwaiting:
		return "awaiting"
	case KindTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Prompt is one message from the application. Text goes to the transcript,
// Speech to the speech synthesizer. An empty Speech means Text is spoken as is.
// Silent prompts are written to the transcript only.
type Prompt struct {
	Text   string
	Speech string
	Silent bool
}

// Spoken returns the text handed to speech output.
func (p Prompt) Spoken() string {
	if p.Speech != "" {
		return p.Speech
	}
	return p.Text
}

// IsZero reports whether the prompt carries no text.
func (p Prompt) IsZero() bool {
	return p.Text == "" && p.Speech == ""
}

func say(text string) Prompt {
	return Prompt{Text: text}
}

func sayAs(text, speech string) Prompt {
	return Prompt{Text: text, Speech: speech}
}

// Data holds the per-session scratch fields of a flow. Values are never
// mutated in place; With returns a modified copy.
type Data map[models.DataKey]string

// Get returns the value stored under key, or "".
func (d Data) Get(key models.DataKey) string {
	return d[key]
}

// With returns a copy of d with key set to value.
func (d Data) With(key models.DataKey, value string) Data {
	out := d.Clone()
	out[key] = value
	return out
}

// Clone returns a shallow copy of d. The copy is never nil.
func (d Data) Clone() Data {
	out := make(Data, len(d)+1)
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Outcome classifies the result of a transition.
type Outcome string

const (
	OutcomeAdvanced          Outcome = "advanced"
	OutcomeInvalidInput      Outcome = "invalid_input"
	OutcomeAmbiguousInput    Outcome = "ambiguous_input"
	OutcomeResolutionFailure Outcome = "resolution_failure"
	OutcomeActionFailure     Outcome = "action_failure"
	OutcomeCompleted         Outcome = "completed"
)

// EffectKind names a side effect requested by a transition.
type EffectKind string

const (
	EffectPlaceCall        EffectKind = "place_call"
	EffectSendMessage      EffectKind = "send_message"
	EffectShareLocation    EffectKind = "share_location"
	EffectDescribeLocation EffectKind = "describe_location"
	EffectNavigate         EffectKind = "navigate"
)

// Effect is a side effect the engine runs after the turn's prompt is spoken.
type Effect struct {
	Kind   EffectKind
	Number string             // recipient for calls and messages
	Body   string             // message body
	Target models.Coordinates // navigation target
}

// Dispatches reports whether the effect performs a real-world action that must
// happen at most once per session.
func (e Effect) Dispatches() bool {
	return e.Kind != EffectDescribeLocation
}

// ResultStatus classifies the outcome of an effect.
type ResultStatus string

const (
	// ResultOK means the effect completed.
	ResultOK ResultStatus = "ok"
	// ResultNotFound means no location fix was available.
	ResultNotFound ResultStatus = "not_found"
	// ResultUnavailable means a supporting service could not answer.
	ResultUnavailable ResultStatus = "unavailable"
	// ResultFailed means the dispatcher rejected the action.
	ResultFailed ResultStatus = "failed"
)

// EffectResult is delivered back to the flow once an effect finishes.
type EffectResult struct {
	Status ResultStatus
	Detail string // place description or shared link
}

// Turn is the result of a transition: the next state, the prompt to emit, the
// updated scratch data and an optional effect. A Turn with an empty Next keeps
// the current state and re-emits its retry prompt.
type Turn struct {
	Next    models.StateType
	Prompt  Prompt
	Data    Data // nil leaves the session data unchanged
	Effect  *Effect
	Outcome Outcome
}

// Directory resolves spoken contact names to phone numbers.
type Directory interface {
	ResolveContact(ctx context.Context, name string) (string, bool, error)
}

// Places exposes the saved destinations read by the navigation flow.
type Places interface {
	ListNames(ctx context.Context) ([]string, error)
	Get(ctx context.Context, name string) (models.Coordinates, bool, error)
}

// Env carries the synchronous collaborators a transition may consult.
type Env struct {
	Directory Directory
	Places    Places
}

// StateSpec describes one state of a flow.
type StateSpec struct {
	Kind Kind
	// Entry is the prompt issued when the flow starts in this state.
	Entry func(Data) Prompt
	// Retry is re-emitted when the input at this state is not usable. Defaults to Entry.
	Retry func(Data) Prompt
}

// Definition is the immutable description of one voice task.
type Definition struct {
	Type     models.FlowType
	Initial  models.StateType
	States   map[models.StateType]StateSpec
	Begin    func(ctx context.Context, env Env) Turn
	Step     func(ctx context.Context, env Env, state models.StateType, text string, data Data) Turn
	Complete func(state models.StateType, effect Effect, result EffectResult, data Data) Turn
}

// Validate checks the structural rules every definition must follow.
func (d *Definition) Validate() error {
	if d.Type == "" {
		return fmt.Errorf("%w: missing type", ErrInvalidFlowDef)
	}
	if d.Step == nil {
		return fmt.Errorf("%w: %s has no step function", ErrInvalidFlowDef, d.Type)
	}
	initial, ok := d.States[d.Initial]
	if !ok {
		return fmt.Errorf("%w: %s initial state %q not declared", ErrInvalidFlowDef, d.Type, d.Initial)
	}
	if d.Begin == nil && initial.Entry == nil {
		return fmt.Errorf("%w: %s initial state has no entry prompt", ErrInvalidFlowDef, d.Type)
	}
	terminals := 0
	for name, ss := range d.States {
		switch ss.Kind {
		case KindTerminal:
			terminals++
		case KindAwaiting:
			if d.Complete == nil {
				return fmt.Errorf("%w: %s state %s awaits a result but no completion function is set", ErrInvalidFlowDef, d.Type, name)
			}
		case KindAsking:
			if ss.Entry == nil && ss.Retry == nil {
				return fmt.Errorf("%w: %s state %s has no prompt", ErrInvalidFlowDef, d.Type, name)
			}
		}
	}
	if terminals == 0 {
		return fmt.Errorf("%w: %s has no terminal state", ErrInvalidFlowDef, d.Type)
	}
	return nil
}

// KindOf returns the kind of state. Undeclared states are terminal.
func (d *Definition) KindOf(state models.StateType) Kind {
	ss, ok := d.States[state]
	if !ok {
		return KindTerminal
	}
	return ss.Kind
}

// IsTerminal reports whether state ends the conversation.
func (d *Definition) IsTerminal(state models.StateType) bool {
	return d.KindOf(state) == KindTerminal
}

// Start returns the opening turn of the flow.
func (d *Definition) Start(ctx context.Context, env Env) Turn {
	if d.Begin != nil {
		return d.Begin(ctx, env)
	}
	data := Data{}
	return Turn{
		Next:    d.Initial,
		Prompt:  d.States[d.Initial].Entry(data),
		Data:    data,
		Outcome: OutcomeAdvanced,
	}
}

// Transition applies a lower-cased utterance to an asking state. Blank
// utterances re-emit the state's prompt without consulting the flow.
func (d *Definition) Transition(ctx context.Context, env Env, state models.StateType, text string, data Data) (Turn, error) {
	ss, ok := d.States[state]
	if !ok {
		return Turn{}, fmt.Errorf("%w: %s/%s", ErrUnknownState, d.Type, state)
	}
	if ss.Kind != KindAsking {
		return Turn{}, fmt.Errorf("%s/%s is %s, not asking", d.Type, state, ss.Kind)
	}
	if strings.TrimSpace(text) == "" {
		return d.Reprompt(state, data, OutcomeInvalidInput), nil
	}
	turn := d.Step(ctx, env, state, text, data)
	if turn.Next == "" {
		turn = d.Reprompt(state, data, turn.Outcome)
	}
	slog.Debug("Definition.Transition", "flow", d.Type, "from", state, "to", turn.Next, "outcome", turn.Outcome)
	return turn, nil
}

// Finish applies an effect result to the awaiting state that issued it.
func (d *Definition) Finish(state models.StateType, effect Effect, result EffectResult, data Data) Turn {
	turn := d.Complete(state, effect, result, data)
	slog.Debug("Definition.Finish", "flow", d.Type, "from", state, "to", turn.Next, "result", result.Status)
	return turn
}

// stay keeps the current state and re-prompts.
func stay(outcome Outcome) Turn {
	return Turn{Outcome: outcome}
}

// Reprompt keeps the session in state and re-emits the state's retry prompt.
func (d *Definition) Reprompt(state models.StateType, data Data, outcome Outcome) Turn {
	return Turn{Next: state, Prompt: d.RetryPrompt(state, data), Outcome: outcome}
}

// RetryPrompt returns the clarifying prompt of state.
func (d *Definition) RetryPrompt(state models.StateType, data Data) Prompt {
	ss := d.States[state]
	switch {
	case ss.Retry != nil:
		return ss.Retry(data)
	case ss.Entry != nil:
		return ss.Entry(data)
	default:
		return Prompt{}
	}
}

var registry = make(map[models.FlowType]*Definition)

// Register associates a FlowType with its Definition.
func Register(def *Definition) {
	if err := def.Validate(); err != nil {
		panic(err)
	}
	registry[def.Type] = def
}

// Get retrieves the Definition for a given FlowType.
func Get(ft models.FlowType) (*Definition, bool) {
	def, ok := registry[ft]
	return def, ok
}

// Lookup is Get with an error for unknown types.
func Lookup(ft models.FlowType) (*Definition, error) {
	def, ok := Get(ft)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFlow, ft)
	}
	return def, nil
}

// Types lists the registered flow types in name order.
func Types() []models.FlowType {
	out := make([]models.FlowType, 0, len(registry))
	for ft := range registry {
		out = append(out, ft)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Register default flows
func init() {
	Register(CallFlow())
	Register(SMSFlow())
	Register(LocationFlow())
	Register(NavigationFlow())
}

// resolveContact consults the directory and treats lookup errors as a miss.
func resolveContact(ctx context.Context, env Env, name string) (string, bool) {
	if env.Directory == nil {
		return "", false
	}
	number, found, err := env.Directory.ResolveContact(ctx, name)
	if err != nil {
		slog.Warn("flow.resolveContact: directory lookup failed", "name", name, "error", err)
		return "", false
	}
	return number, found
}
