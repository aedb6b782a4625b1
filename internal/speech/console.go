package speech

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/projectech/VoiceGuide/internal/dialogue"
)

// Transcriber converts recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}

// Synthesizer renders text as audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// AudioFilePrefix marks a console line naming an audio file to transcribe.
const AudioFilePrefix = "@"

type consoleLine struct {
	text string
	err  error
}

// ConsoleInput is a dialogue.SpeechInput reading typed replies. An empty line
// counts as silence; a line starting with AudioFilePrefix names an audio file
// that is transcribed instead. End of input makes recognition unavailable.
type ConsoleInput struct {
	r           io.Reader
	transcriber Transcriber
	once        sync.Once
	lines       chan consoleLine
	closed      chan struct{}
}

// NewConsoleInput reads replies from r. transcriber may be nil, in which case
// audio file lines are rejected.
func NewConsoleInput(r io.Reader, transcriber Transcriber) *ConsoleInput {
	return &ConsoleInput{r: r, transcriber: transcriber, lines: make(chan consoleLine), closed: make(chan struct{})}
}

func (c *ConsoleInput) scan() {
	scanner := bufio.NewScanner(c.r)
	for scanner.Scan() {
		c.lines <- consoleLine{text: scanner.Text()}
	}
	if err := scanner.Err(); err != nil {
		slog.Error("ConsoleInput.scan: read failed", "error", err)
	}
	close(c.lines)
	close(c.closed)
}

// Closed is closed once the reader is exhausted.
func (c *ConsoleInput) Closed() <-chan struct{} {
	return c.closed
}

// Listen waits for the next line.
func (c *ConsoleInput) Listen(ctx context.Context) (string, error) {
	c.once.Do(func() { go c.scan() })

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-c.lines:
		if !ok {
			return "", fmt.Errorf("%w: console input closed", dialogue.ErrRecognitionUnavailable)
		}
		text := strings.TrimSpace(line.text)
		if text == "" {
			return "", dialogue.ErrNoSpeechDetected
		}
		if path, isFile := strings.CutPrefix(text, AudioFilePrefix); isFile {
			return c.transcribeFile(ctx, strings.TrimSpace(path))
		}
		return text, nil
	}
}

func (c *ConsoleInput) transcribeFile(ctx context.Context, path string) (string, error) {
	if c.transcriber == nil {
		return "", fmt.Errorf("%w: no transcriber configured", dialogue.ErrRecognitionUnavailable)
	}
	f, err := os.Open(path)
	if err != nil {
		slog.Warn("ConsoleInput.transcribeFile: cannot open audio", "path", path, "error", err)
		return "", dialogue.ErrNoSpeechDetected
	}
	defer f.Close()
	return c.transcriber.Transcribe(ctx, f, filepath.Base(path))
}

// ConsoleOutput is a dialogue.SpeechOutput printing prompts. With a
// synthesizer and an audio directory it also saves each prompt as an MP3.
type ConsoleOutput struct {
	w           io.Writer
	synthesizer Synthesizer
	audioDir    string
	mu          sync.Mutex
	count       atomic.Int64
}

// NewConsoleOutput prints to w. synthesizer and audioDir are optional.
func NewConsoleOutput(w io.Writer, synthesizer Synthesizer, audioDir string) *ConsoleOutput {
	return &ConsoleOutput{w: w, synthesizer: synthesizer, audioDir: audioDir}
}

// Speak prints text and, when configured, writes its audio rendering.
func (c *ConsoleOutput) Speak(ctx context.Context, text string) error {
	c.mu.Lock()
	_, err := fmt.Fprintf(c.w, "VoiceGuide: %s\n", text)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if c.synthesizer == nil || c.audioDir == "" {
		return nil
	}

	audio, err := c.synthesizer.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	n := c.count.Add(1)
	path := filepath.Join(c.audioDir, fmt.Sprintf("prompt_%03d.mp3", n))
	if err := os.WriteFile(path, audio, 0644); err != nil {
		return fmt.Errorf("failed to write prompt audio: %w", err)
	}
	slog.Debug("ConsoleOutput.Speak: prompt audio written", "path", path)
	return nil
}
