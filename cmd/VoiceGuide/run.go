package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/projectech/VoiceGuide/internal/api"
	"github.com/projectech/VoiceGuide/internal/dialogue"
	"github.com/projectech/VoiceGuide/internal/flow"
	"github.com/projectech/VoiceGuide/internal/gateway"
	"github.com/projectech/VoiceGuide/internal/hub"
	"github.com/projectech/VoiceGuide/internal/location"
	"github.com/projectech/VoiceGuide/internal/lockfile"
	"github.com/projectech/VoiceGuide/internal/messaging"
	"github.com/projectech/VoiceGuide/internal/models"
	"github.com/projectech/VoiceGuide/internal/places"
	"github.com/projectech/VoiceGuide/internal/speech"
	"github.com/projectech/VoiceGuide/internal/store"
	"github.com/projectech/VoiceGuide/internal/twilio"
	"github.com/projectech/VoiceGuide/internal/whatsapp"
)

// talkDrainTimeout bounds how long a console conversation may keep running
// after its input is exhausted.
const talkDrainTimeout = 15 * time.Second

// services holds the components shared by the commands. Optional ones are
// nil interfaces when not configured.
type services struct {
	st        store.Store
	places    *places.Store
	tracker   *location.Tracker
	location  location.Provider
	geocoder  *location.Geocoder
	openai    *speech.OpenAI
	caller    gateway.Caller
	messenger messaging.Service
	closers   []func()
}

func (s *services) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func (s *services) transcriber() speech.Transcriber {
	if s.openai == nil {
		return nil
	}
	return s.openai
}

func (s *services) synthesizer() speech.Synthesizer {
	if s.openai == nil {
		return nil
	}
	return s.openai
}

// gatewayOptions wires the configured components into an action gateway.
func (s *services) gatewayOptions() []gateway.Option {
	opts := []gateway.Option{
		gateway.WithContacts(s.st),
		gateway.WithReceipts(s.st),
		gateway.WithLocation(s.location),
		gateway.WithDescriber(s.geocoder),
	}
	if s.caller != nil {
		opts = append(opts, gateway.WithCaller(s.caller))
	}
	if s.messenger != nil {
		opts = append(opts, gateway.WithMessenger(s.messenger))
	}
	return opts
}

// run acquires the state directory, opens the store and dispatches to the
// selected command.
func run(ctx context.Context, flags Flags, stdin io.Reader, stdout io.Writer) error {
	lock, err := lockfile.AcquireLock(flags.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	if err := ensureDirectoriesExist(flags); err != nil {
		return err
	}
	st, err := store.Open(buildStoreOptions(flags)...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()
	pl := places.NewStore(st)

	if flags.command == CommandPlaces {
		return runPlaces(ctx, pl, flags.args, stdout)
	}

	svc, err := buildServices(ctx, flags, st, pl)
	if err != nil {
		return err
	}
	defer svc.close()

	switch flags.command {
	case CommandTalk:
		return runTalk(ctx, flags, svc, stdin, stdout)
	default:
		return runServe(ctx, flags, svc)
	}
}

// buildServices creates the provider clients. Missing credentials disable the
// matching action instead of failing startup.
func buildServices(ctx context.Context, flags Flags, st store.Store, pl *places.Store) (*services, error) {
	svc := &services{
		st:       st,
		places:   pl,
		tracker:  location.NewTracker(location.WithWaitTimeout(flags.LocationTimeout)),
		geocoder: location.NewGeocoder(flags.GeocoderURL),
	}
	svc.location = svc.tracker
	if flags.FixedLocation != "" {
		at, err := places.ParseCoordinates(flags.FixedLocation)
		if err != nil {
			return nil, fmt.Errorf("invalid fixed location: %w", err)
		}
		svc.location = location.Fixed{At: at}
		slog.Info("Using fixed location", "location", at.String())
	}

	if flags.OpenAIKey != "" {
		sp, err := speech.NewOpenAI(buildSpeechOptions(flags)...)
		if err != nil {
			return nil, err
		}
		svc.openai = sp
	} else {
		slog.Warn("No OpenAI API key, speech recognition and synthesis are disabled")
	}

	var tw *twilio.Client
	if flags.TwilioSID != "" {
		c, err := twilio.NewClient(buildTwilioOptions(flags)...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		tw = c
		svc.caller = tw
	} else {
		slog.Warn("No Twilio credentials, phone calls are disabled")
	}

	switch flags.Channel {
	case ChannelWhatsApp:
		wa, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(flags)...)
		if err != nil {
			return nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		ws := messaging.NewWhatsAppService(wa)
		if err := ws.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start WhatsApp service: %w", err)
		}
		svc.messenger = ws
		svc.closers = append(svc.closers, func() { ws.Stop() })
	default:
		if tw != nil {
			svc.messenger = messaging.NewTwilioService(tw)
		} else {
			slog.Warn("No SMS provider configured, messages are disabled")
		}
	}
	return svc, nil
}

// runServe runs the HTTP API with the websocket hub as the device link.
func runServe(ctx context.Context, flags Flags, svc *services) error {
	hubOpts := []hub.Option{
		hub.WithAckTimeout(flags.SpeechTimeout),
		hub.WithLocationHandler(svc.tracker.Update),
	}
	if synth := svc.synthesizer(); synth != nil {
		hubOpts = append(hubOpts, hub.WithSynthesizer(synth))
	}
	h := hub.New(hubOpts...)

	gw := gateway.New(append(svc.gatewayOptions(), gateway.WithNavigator(h))...)
	manager := dialogue.NewManager(gw,
		dialogue.WithSpeechOutput(h),
		dialogue.WithTranscriptSink(dialogue.Sinks(store.TranscriptSink{Store: svc.st}, h)),
		dialogue.WithPlaces(svc.places),
		dialogue.WithMaxSilentRetries(flags.MaxSilentRetries),
	)

	server := api.NewServer(manager, svc.st, svc.places, h, svc.tracker, buildAPIOptions(flags, svc.transcriber())...)
	return server.Run(ctx)
}

// consoleNavigator shows the navigation link in the terminal.
type consoleNavigator struct {
	w io.Writer
}

func (c consoleNavigator) LaunchNavigation(ctx context.Context, target models.Coordinates) error {
	_, err := fmt.Fprintf(c.w, "Navigation: %s\n", target.NavigationURI())
	return err
}

// runTalk runs one conversation in the terminal.
func runTalk(ctx context.Context, flags Flags, svc *services, stdin io.Reader, stdout io.Writer) error {
	if len(flags.args) != 1 {
		usage(stdout)
		return fmt.Errorf("talk needs exactly one flow: %s", flowNames())
	}
	ft := models.FlowType(strings.ToLower(flags.args[0]))
	def, err := flow.Lookup(ft)
	if err != nil {
		return fmt.Errorf("%w (want one of %s)", err, flowNames())
	}

	audioDir := ""
	if svc.openai != nil {
		audioDir = filepath.Join(flags.StateDir, DefaultAudioDirName)
	}
	in := speech.NewConsoleInput(stdin, svc.transcriber())
	out := speech.NewConsoleOutput(stdout, svc.synthesizer(), audioDir)
	if audioDir != "" {
		if err := ensureDir(audioDir); err != nil {
			return err
		}
	}

	gw := gateway.New(append(svc.gatewayOptions(), gateway.WithNavigator(consoleNavigator{w: stdout}))...)
	manager := dialogue.NewManager(gw,
		dialogue.WithSpeechInput(in),
		dialogue.WithSpeechOutput(out),
		dialogue.WithTranscriptSink(store.TranscriptSink{Store: svc.st}),
		dialogue.WithPlaces(svc.places),
		dialogue.WithMaxSilentRetries(flags.MaxSilentRetries),
	)
	e, err := manager.Start(ctx, ft)
	if err != nil {
		return err
	}

	select {
	case <-e.Done():
	case <-ctx.Done():
		e.Cancel()
	case <-in.Closed():
		drainAfterInput(e, def)
	}
	<-e.Done()

	snap := e.Snapshot()
	slog.Info("Conversation ended", "session", snap.SessionID, "state", snap.CurrentState, "cancelled", snap.Cancelled, "dispatched", e.Dispatched())
	return nil
}

// drainAfterInput lets a conversation finish its pending work once the console
// input is gone, and cancels it as soon as it would need another reply.
func drainAfterInput(e *dialogue.Engine, def *flow.Definition) {
	deadline := time.NewTimer(talkDrainTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-e.Done():
			return
		case <-deadline.C:
			slog.Warn("Conversation still running after input closed, cancelling", "session", e.ID())
			e.Cancel()
			return
		case <-ticker.C:
			snap := e.Snapshot()
			if def.KindOf(snap.CurrentState) == flow.KindAsking && !snap.Listening && !snap.AutoListen {
				e.Cancel()
				return
			}
		}
	}
}

func flowNames() string {
	names := make([]string, 0, len(flow.Types()))
	for _, ft := range flow.Types() {
		names = append(names, string(ft))
	}
	return strings.Join(names, ", ")
}

// runPlaces manages saved destinations from the command line.
func runPlaces(ctx context.Context, pl *places.Store, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		args = []string{"list"}
	}
	switch args[0] {
	case "list":
		list, err := pl.List(ctx)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(stdout, "No saved destinations.")
			return nil
		}
		for _, d := range list {
			fmt.Fprintf(stdout, "%s: %v, %v\n", d.Name, d.Latitude, d.Longitude)
		}
		return nil

	case "add":
		if len(args) < 3 {
			return errors.New(`usage: places add <name> "<lat>, <lon>"`)
		}
		at, err := places.ParseCoordinates(strings.Join(args[2:], " "))
		if err != nil {
			return err
		}
		if err := pl.Put(ctx, args[1], at); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Saved %s.\n", strings.ToLower(strings.TrimSpace(args[1])))
		return nil

	case "remove":
		if len(args) != 2 {
			return errors.New("usage: places remove <name>")
		}
		if err := pl.Remove(ctx, args[1]); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Removed %s.\n", strings.ToLower(strings.TrimSpace(args[1])))
		return nil
	}
	return fmt.Errorf("unknown places command %q (want list, add or remove)", args[0])
}
