package dialogue

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/projectech/VoiceGuide/internal/flow"
	"github.com/projectech/VoiceGuide/internal/models"
	"github.com/projectech/VoiceGuide/internal/util"
)

const (
	// DefaultMaxSilentRetries is how often silence re-prompts before listening pauses.
	DefaultMaxSilentRetries = 3
	// eventBuffer bounds the queue between helper goroutines and the engine loop.
	eventBuffer = 16
)

const recognitionUnavailablePrompt = "Speech recognition is not available right now."

// Opts holds configuration for an Engine.
type Opts struct {
	SessionID        string
	MaxSilentRetries int
	Input            SpeechInput
	Output           SpeechOutput
	Sink             TranscriptSink
	Places           flow.Places
}

// Option defines a functional option for configuring an Engine.
type Option func(*Opts)

// WithSessionID sets the session identifier. A random one is generated otherwise.
func WithSessionID(id string) Option {
	return func(o *Opts) { o.SessionID = id }
}

// WithMaxSilentRetries sets how many silent listens re-prompt before listening pauses.
func WithMaxSilentRetries(n int) Option {
	return func(o *Opts) { o.MaxSilentRetries = n }
}

// WithSpeechInput sets the microphone port. Without one, utterances arrive only
// through OnUtteranceReceived.
func WithSpeechInput(in SpeechInput) Option {
	return func(o *Opts) { o.Input = in }
}

// WithSpeechOutput sets the speech synthesis port. Without one, prompts go to
// the transcript only.
func WithSpeechOutput(out SpeechOutput) Option {
	return func(o *Opts) { o.Output = out }
}

// WithTranscriptSink sets where prompts and utterances are recorded.
func WithTranscriptSink(sink TranscriptSink) Option {
	return func(o *Opts) { o.Sink = sink }
}

// WithPlaces sets the saved destination store read by the navigation flow.
func WithPlaces(p flow.Places) Option {
	return func(o *Opts) { o.Places = p }
}

type phase int

const (
	phaseIdle     phase = iota // not started
	phaseSpeaking              // a prompt is being spoken
	phaseWaiting               // asking state, waiting for an utterance
	phaseAwaiting              // effect in flight
	phaseFinished
)

// Session is the mutable state of one conversation. Only the engine loop
// writes its plain fields; the atomic flags are read by helper goroutines.
type Session struct {
	ID         string
	Flow       models.FlowType
	State      models.StateType
	Data       flow.Data
	AutoListen bool
	CreatedAt  time.Time
	UpdatedAt  time.Time

	turn          uint64
	phase         phase
	pending       *flow.Effect
	listening     bool
	paused        bool
	silentRetries int
	announced     bool

	dispatched atomic.Bool
	cancelled  atomic.Bool
}

type eventKind int

const (
	evUtterance eventKind = iota // pushed by OnUtteranceReceived
	evHeard                      // returned by SpeechInput
	evListenFailed
	evSpeechDone
	evEffectDone
	evListen
)

type event struct {
	kind   eventKind
	turn   uint64
	state  models.StateType
	text   string
	err    error
	effect flow.Effect
	result flow.EffectResult
	reply  chan error
}

// Engine drives one Session through a flow.Definition. All session changes
// happen on a single goroutine fed by an event channel.
type Engine struct {
	def     *flow.Definition
	env     flow.Env
	gateway ActionGateway
	opts    Opts
	session *Session

	events       chan event
	ctx          context.Context
	cancel       context.CancelFunc
	started      atomic.Bool
	done         chan struct{}
	listenCancel context.CancelFunc

	mu       sync.RWMutex
	snapshot models.ConversationState
}

// NewEngine creates an engine for one conversation of def.
func NewEngine(def *flow.Definition, gateway ActionGateway, opts ...Option) *Engine {
	cfg := Opts{MaxSilentRetries: DefaultMaxSilentRetries}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.SessionID == "" {
		cfg.SessionID = util.GenerateSessionID()
	}

	env := flow.Env{Places: cfg.Places}
	if gateway != nil {
		env.Directory = gateway
	}

	now := time.Now()
	ctx, cancel := context.WithCancel(ContextWithSessionID(context.Background(), cfg.SessionID))
	e := &Engine{
		def:     def,
		env:     env,
		gateway: gateway,
		opts:    cfg,
		session: &Session{
			ID:         cfg.SessionID,
			Flow:       def.Type,
			State:      def.Initial,
			Data:       flow.Data{},
			AutoListen: true,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		events: make(chan event, eventBuffer),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	e.publish()
	return e
}

// ID returns the session identifier.
func (e *Engine) ID() string {
	return e.session.ID
}

// Flow returns the flow type the engine runs.
func (e *Engine) Flow() models.FlowType {
	return e.def.Type
}

// Start opens the conversation: it applies the flow's opening turn, speaks the
// first prompt and, once speech finishes, opens the microphone if the state
// asks for input. Cancelling ctx cancels the conversation.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if ctx.Err() != nil {
		e.Cancel()
	}
	if e.session.cancelled.Load() {
		close(e.done)
		return ErrSessionClosed
	}
	stop := context.AfterFunc(ctx, e.Cancel)
	slog.Info("Engine.Start: conversation started", "session", e.session.ID, "flow", e.def.Type)
	go func() {
		defer stop()
		e.run()
	}()
	return nil
}

// OnUtteranceReceived applies text as the user's reply to the current prompt.
func (e *Engine) OnUtteranceReceived(text string) error {
	return e.request(event{kind: evUtterance, text: text})
}

// Listen re-arms the microphone after listening paused, as a user-initiated retry.
func (e *Engine) Listen() error {
	return e.request(event{kind: evListen})
}

// Cancel ends the conversation for good. Pending speech, listening and effect
// results are discarded and no further prompts are emitted.
func (e *Engine) Cancel() {
	if e.session.cancelled.CompareAndSwap(false, true) {
		slog.Info("Engine.Cancel: conversation cancelled", "session", e.session.ID, "flow", e.def.Type)
	}
	e.cancel()
}

// Done is closed when the conversation has finished or was cancelled.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the conversation ends or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a copy of the session state.
func (e *Engine) Snapshot() models.ConversationState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snap := e.snapshot
	snap.StateData = make(map[models.DataKey]string, len(e.snapshot.StateData))
	for k, v := range e.snapshot.StateData {
		snap.StateData[k] = v
	}
	snap.Cancelled = e.session.cancelled.Load()
	return snap
}

// request posts an event that needs an answer from the loop.
func (e *Engine) request(ev event) error {
	if !e.started.Load() {
		return ErrNotStarted
	}
	ev.reply = make(chan error, 1)
	if !e.post(ev) {
		return ErrSessionClosed
	}
	select {
	case err := <-ev.reply:
		return err
	case <-e.done:
		select {
		case err := <-ev.reply:
			return err
		default:
			return ErrSessionClosed
		}
	}
}

// post queues an event for the loop. It reports false once the loop has exited.
func (e *Engine) post(ev event) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.events <- ev:
		return true
	case <-e.done:
		return false
	}
}

func (e *Engine) run() {
	defer close(e.done)
	defer e.cancel()

	e.apply(e.def.Start(e.ctx, e.env))
	e.publish()

	for e.session.phase != phaseFinished {
		select {
		case <-e.ctx.Done():
			e.stopListening()
			e.session.AutoListen = false
			e.session.phase = phaseFinished
			e.publish()
			slog.Debug("Engine.run: loop stopped by cancellation", "session", e.session.ID)
			return
		case ev := <-e.events:
			if e.session.cancelled.Load() {
				replyTo(ev, ErrSessionClosed)
				continue
			}
			err := e.handle(ev)
			e.publish()
			replyTo(ev, err)
		}
	}
	slog.Info("Engine.run: conversation finished", "session", e.session.ID, "flow", e.def.Type, "state", e.session.State)
}

func replyTo(ev event, err error) {
	if ev.reply != nil {
		ev.reply <- err
	}
}

// handle processes one event. The returned error answers request events.
func (e *Engine) handle(ev event) error {
	s := e.session
	switch ev.kind {
	case evUtterance:
		if s.phase != phaseWaiting {
			return ErrNotAwaitingInput
		}
		e.stopListening()
		e.heard(ev.text)

	case evHeard:
		if ev.turn != s.turn || s.phase != phaseWaiting {
			slog.Debug("Engine.handle: dropping stale utterance", "session", s.ID, "turn", ev.turn, "current", s.turn)
			return nil
		}
		s.listening = false
		e.heard(ev.text)

	case evListenFailed:
		if ev.turn != s.turn || s.phase != phaseWaiting {
			return nil
		}
		s.listening = false
		e.listenFailed(ev.err)

	case evSpeechDone:
		if ev.turn != s.turn || s.phase != phaseSpeaking {
			return nil
		}
		if ev.err != nil {
			slog.Warn("Engine.handle: speech output failed, continuing", "session", s.ID, "error", ev.err)
		}
		e.speechFinished()

	case evEffectDone:
		if ev.turn != s.turn || ev.state != s.State || s.phase != phaseAwaiting {
			slog.Debug("Engine.handle: dropping stale effect result", "session", s.ID, "state", ev.state, "current", s.State)
			return nil
		}
		e.apply(e.def.Finish(s.State, ev.effect, ev.result, s.Data))

	case evListen:
		if s.phase != phaseWaiting {
			return ErrNotAwaitingInput
		}
		s.paused = false
		s.silentRetries = 0
		s.AutoListen = true
		e.startListening()
	}
	return nil
}

// heard applies one recognized utterance to the current state.
func (e *Engine) heard(raw string) {
	s := e.session
	text := strings.ToLower(raw)
	slog.Info("Engine.OnUtteranceReceived: utterance", "session", s.ID, "flow", e.def.Type, "state", s.State, "text", text)
	e.record(models.SpeakerUser, text)
	s.silentRetries = 0
	s.paused = false

	turn, err := e.def.Transition(e.ctx, e.env, s.State, text, s.Data)
	if err != nil {
		slog.Error("Engine.OnUtteranceReceived: transition failed", "session", s.ID, "state", s.State, "error", err)
		return
	}
	e.apply(turn)
}

// listenFailed handles silence and recognizer outages.
func (e *Engine) listenFailed(err error) {
	s := e.session
	if errors.Is(err, ErrNoSpeechDetected) {
		s.silentRetries++
		if s.silentRetries > e.opts.MaxSilentRetries {
			slog.Info("Engine.listenFailed: too many silent turns, pausing", "session", s.ID, "state", s.State, "retries", s.silentRetries-1)
			e.pause()
			return
		}
		slog.Debug("Engine.listenFailed: no speech, re-prompting", "session", s.ID, "state", s.State, "attempt", s.silentRetries)
		e.apply(e.def.Reprompt(s.State, s.Data, flow.OutcomeInvalidInput))
		return
	}

	slog.Error("Engine.listenFailed: speech recognition unavailable", "session", s.ID, "state", s.State, "error", err)
	e.pause()
	if !s.announced {
		s.announced = true
		e.apply(flow.Turn{Next: s.State, Prompt: flow.Prompt{Text: recognitionUnavailablePrompt}})
	}
}

func (e *Engine) pause() {
	e.session.paused = true
	e.session.AutoListen = false
}

// apply moves the session to the turn's state and emits its prompt. The
// pending effect starts once the prompt has been spoken.
func (e *Engine) apply(t flow.Turn) {
	s := e.session
	if s.cancelled.Load() {
		return
	}
	e.stopListening()
	s.turn++
	from := s.State
	s.State = t.Next
	if t.Data != nil {
		s.Data = t.Data
	}
	s.pending = t.Effect
	s.UpdatedAt = time.Now()
	if e.def.KindOf(s.State) != flow.KindAsking {
		s.AutoListen = false
	}
	slog.Debug("Engine.apply: transition", "session", s.ID, "flow", e.def.Type, "from", from, "to", s.State, "outcome", t.Outcome, "turn", s.turn)

	if !t.Prompt.IsZero() {
		e.record(models.SpeakerApp, t.Prompt.Text)
		if !t.Prompt.Silent && e.opts.Output != nil {
			s.phase = phaseSpeaking
			e.speak(s.turn, t.Prompt.Spoken())
			return
		}
	}
	e.speechFinished()
}

// speechFinished runs when the current turn's prompt is over: it starts the
// pending effect, re-arms the microphone or finishes the conversation.
func (e *Engine) speechFinished() {
	s := e.session
	if s.pending != nil {
		effect := *s.pending
		s.pending = nil
		s.phase = phaseAwaiting
		e.runEffect(s.turn, s.State, effect)
		return
	}
	switch e.def.KindOf(s.State) {
	case flow.KindAsking:
		s.phase = phaseWaiting
		if !s.paused {
			s.AutoListen = true
		}
		if s.AutoListen {
			e.startListening()
		}
	case flow.KindAwaiting:
		slog.Error("Engine.speechFinished: awaiting state without an effect", "session", s.ID, "state", s.State)
		s.phase = phaseFinished
	default:
		s.phase = phaseFinished
	}
}

func (e *Engine) speak(turn uint64, text string) {
	go func() {
		if e.session.cancelled.Load() {
			return
		}
		err := e.opts.Output.Speak(e.ctx, text)
		e.post(event{kind: evSpeechDone, turn: turn, err: err})
	}()
}

func (e *Engine) startListening() {
	s := e.session
	if e.opts.Input == nil || s.listening {
		return
	}
	ctx, cancel := context.WithCancel(e.ctx)
	e.listenCancel = cancel
	s.listening = true
	turn := s.turn
	go func() {
		defer cancel()
		text, err := e.opts.Input.Listen(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			e.post(event{kind: evListenFailed, turn: turn, err: err})
			return
		}
		e.post(event{kind: evHeard, turn: turn, text: text})
	}()
}

func (e *Engine) stopListening() {
	if e.listenCancel != nil {
		e.listenCancel()
		e.listenCancel = nil
	}
	e.session.listening = false
}

func (e *Engine) runEffect(turn uint64, state models.StateType, effect flow.Effect) {
	slog.Debug("Engine.runEffect: starting", "session", e.session.ID, "effect", effect.Kind, "state", state)
	go func() {
		result := e.perform(e.ctx, effect)
		e.post(event{kind: evEffectDone, turn: turn, state: state, effect: effect, result: result})
	}()
}

func (e *Engine) record(speaker models.Speaker, text string) {
	if e.opts.Sink == nil {
		return
	}
	entry := models.TranscriptEntry{
		SessionID: e.session.ID,
		Flow:      e.def.Type,
		Speaker:   speaker,
		Text:      text,
		Time:      time.Now(),
	}
	if err := e.opts.Sink.Append(e.ctx, entry); err != nil {
		slog.Error("Engine.record: failed to append transcript entry", "session", e.session.ID, "error", err)
	}
}

// publish copies the session into the snapshot read by Snapshot.
func (e *Engine) publish() {
	s := e.session
	snap := models.ConversationState{
		SessionID:    s.ID,
		FlowType:     s.Flow,
		CurrentState: s.State,
		StateData:    map[models.DataKey]string(s.Data.Clone()),
		AutoListen:   s.AutoListen,
		Listening:    s.listening,
		Finished:     s.phase == phaseFinished,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
	e.mu.Lock()
	e.snapshot = snap
	e.mu.Unlock()
}
