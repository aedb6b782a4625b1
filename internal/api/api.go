// Package api provides the HTTP server for VoiceGuide.
//
// It exposes RESTful endpoints to run voice conversations, manage saved
// destinations and contacts, push device location fixes and read transcripts
// and receipts, plus a websocket feed for the device.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/projectech/VoiceGuide/internal/dialogue"
	"github.com/projectech/VoiceGuide/internal/hub"
	"github.com/projectech/VoiceGuide/internal/location"
	"github.com/projectech/VoiceGuide/internal/places"
	"github.com/projectech/VoiceGuide/internal/speech"
	"github.com/projectech/VoiceGuide/internal/store"
)

// Server timeouts
const (
	DefaultAddr       = ":8080"
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
	maxAudioBytes     = 25 << 20 // Whisper upload limit
)

// Opts holds optional configuration for the API server.
type Opts struct {
	Addr        string
	Transcriber speech.Transcriber
}

// Option defines a functional option for configuring the Server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithTranscriber enables audio uploads.
func WithTranscriber(t speech.Transcriber) Option {
	return func(o *Opts) { o.Transcriber = t }
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	manager     *dialogue.Manager
	st          store.Store
	places      *places.Store
	hub         *hub.Hub
	tracker     *location.Tracker
	transcriber speech.Transcriber
	addr        string
}

// NewServer creates a Server. Utterances sent over the websocket go to the
// active conversation.
func NewServer(manager *dialogue.Manager, st store.Store, pl *places.Store, h *hub.Hub, tracker *location.Tracker, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{
		manager:     manager,
		st:          st,
		places:      pl,
		hub:         h,
		tracker:     tracker,
		transcriber: cfg.Transcriber,
		addr:        cfg.Addr,
	}
	if h != nil {
		h.SetUtteranceHandler(s.utteranceToActive)
	}
	return s
}

// Routes builds the request router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/health", s.healthHandler)
	r.Get("/receipts", s.receiptsHandler)
	r.Post("/location", s.locationHandler)
	if s.hub != nil {
		r.Get("/ws", s.hub.ServeHTTP)
	}

	r.Route("/destinations", func(r chi.Router) {
		r.Get("/", s.listDestinationsHandler)
		r.Put("/{name}", s.putDestinationHandler)
		r.Delete("/{name}", s.deleteDestinationHandler)
	})

	r.Route("/contacts", func(r chi.Router) {
		r.Get("/", s.listContactsHandler)
		r.Put("/{name}", s.putContactHandler)
	})

	r.Route("/conversations", func(r chi.Router) {
		r.Get("/", s.listConversationsHandler)
		r.Post("/", s.startConversationHandler)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getConversationHandler)
			r.Delete("/", s.cancelConversationHandler)
			r.Post("/utterances", s.utteranceHandler)
			r.Post("/audio", s.audioHandler)
			r.Post("/spoken", s.spokenHandler)
			r.Post("/listen", s.listenHandler)
			r.Get("/transcript", s.transcriptHandler)
		})
	})
	return r
}

// Run serves the API until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           chiMiddleware.Logger(s.Routes()),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		slog.Error("Server.Run: listen failed", "addr", s.addr, "error", err)
		return err
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if s.hub != nil {
		s.hub.Close()
	}
	if err := s.manager.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Server.Run: conversations did not end before shutdown", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server.Run: shutdown failed", "error", err)
		return err
	}
	return nil
}

// utteranceToActive delivers text from the device to the running conversation.
func (s *Server) utteranceToActive(text string) error {
	e, ok := s.manager.Active()
	if !ok {
		return errors.New("no active conversation")
	}
	return e.OnUtteranceReceived(text)
}
