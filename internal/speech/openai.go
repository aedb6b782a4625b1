// Package speech turns audio into utterances and prompts into audio using the
// OpenAI Whisper and text-to-speech APIs, and provides console speech ports
// for running a conversation in a terminal.
package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/projectech/VoiceGuide/internal/dialogue"
)

// Defaults for the OpenAI speech client
const (
	DefaultVoice          = "alloy"
	DefaultRequestTimeout = 30 * time.Second
	// MaxAudioBytes bounds synthesized audio read into memory.
	MaxAudioBytes = 10 << 20
)

// ErrNoAPIKey is returned when no OpenAI API key is configured.
var ErrNoAPIKey = errors.New("OpenAI API key not set")

// transcriptionService is the subset of the OpenAI audio API used for Whisper.
type transcriptionService interface {
	New(ctx context.Context, body openai.AudioTranscriptionNewParams, opts ...option.RequestOption) (*openai.Transcription, error)
}

// synthesisService is the subset of the OpenAI audio API used for TTS.
type synthesisService interface {
	New(ctx context.Context, body openai.AudioSpeechNewParams, opts ...option.RequestOption) (*http.Response, error)
}

// Opts holds configuration options for the OpenAI speech client.
type Opts struct {
	APIKey  string
	Voice   string
	Timeout time.Duration
}

// Option defines a configuration option for the OpenAI speech client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithVoice sets the text-to-speech voice name.
func WithVoice(voice string) Option {
	return func(o *Opts) { o.Voice = voice }
}

// WithTimeout bounds each OpenAI request.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// OpenAI transcribes and synthesizes speech with the OpenAI API.
type OpenAI struct {
	transcriptions transcriptionService
	synthesis      synthesisService
	voice          string
	timeout        time.Duration
}

// NewOpenAI creates a speech client. The key falls back to OPENAI_API_KEY.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	slog.Debug("speech.NewOpenAI: client configured", "voice", cfg.Voice, "timeout", cfg.Timeout)

	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &OpenAI{
		transcriptions: &cli.Audio.Transcriptions,
		synthesis:      &cli.Audio.Speech,
		voice:          cfg.Voice,
		timeout:        cfg.Timeout,
	}, nil
}

// Transcribe converts recorded audio into lower-case text. Silence yields
// dialogue.ErrNoSpeechDetected; API failures yield
// dialogue.ErrRecognitionUnavailable wrapping the cause.
func (c *OpenAI) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(audio, filename, contentTypeFor(filename)),
		Model: openai.AudioModelWhisper1,
	}
	res, err := c.transcriptions.New(ctx, params)
	if err != nil {
		slog.Error("OpenAI.Transcribe: transcription failed", "error", err, "file", filename)
		return "", fmt.Errorf("%w: %v", dialogue.ErrRecognitionUnavailable, err)
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return "", dialogue.ErrNoSpeechDetected
	}
	slog.Debug("OpenAI.Transcribe: transcribed audio", "file", filename, "length", len(text))
	return text, nil
}

// Synthesize renders text as MP3 audio.
func (c *OpenAI) Synthesize(ctx context.Context, text string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.synthesis.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModelTTS1,
		Voice:          openai.AudioSpeechNewParamsVoice(c.voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		slog.Error("OpenAI.Synthesize: speech request failed", "error", err)
		return nil, fmt.Errorf("speech synthesis failed: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(io.LimitReader(resp.Body, MaxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read synthesized audio: %w", err)
	}
	return audio, nil
}

func contentTypeFor(filename string) string {
	switch {
	case strings.HasSuffix(filename, ".mp3"):
		return "audio/mpeg"
	case strings.HasSuffix(filename, ".m4a"):
		return "audio/mp4"
	case strings.HasSuffix(filename, ".ogg"):
		return "audio/ogg"
	case strings.HasSuffix(filename, ".webm"):
		return "audio/webm"
	}
	return "audio/wav"
}
