package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/projectech/VoiceGuide/internal/api"
	"github.com/projectech/VoiceGuide/internal/dialogue"
	"github.com/projectech/VoiceGuide/internal/hub"
	"github.com/projectech/VoiceGuide/internal/location"
	"github.com/projectech/VoiceGuide/internal/speech"
	"github.com/projectech/VoiceGuide/internal/store"
	"github.com/projectech/VoiceGuide/internal/twilio"
	"github.com/projectech/VoiceGuide/internal/util"
	"github.com/projectech/VoiceGuide/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for VoiceGuide state data
	DefaultStateDir = "/var/lib/voiceguide"
	// DefaultAppDBFileName is the default SQLite database filename for application data
	DefaultAppDBFileName = "voiceguide.db"
	// DefaultWhatsAppDBFileName is the default SQLite database filename for the WhatsApp session
	DefaultWhatsAppDBFileName = "whatsapp.db"
	// DefaultAudioDirName holds synthesized prompts written by the console driver
	DefaultAudioDirName = "audio"

	ChannelSMS      = "sms"
	ChannelWhatsApp = "whatsapp"
)

// Commands
const (
	CommandServe  = "serve"
	CommandTalk   = "talk"
	CommandPlaces = "places"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags, err := parseCommandLineFlags(config, os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("Invalid command line", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping VoiceGuide", "command", flags.command, "state_dir", flags.StateDir)
	if err := run(ctx, flags, os.Stdin, os.Stdout); err != nil {
		slog.Error("VoiceGuide failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("VoiceGuide exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir         string
	ApplicationDBDSN string
	WhatsAppDBDSN    string
	APIAddr          string
	OpenAIKey        string
	OpenAIVoice      string
	TwilioSID        string
	TwilioToken      string
	TwilioFrom       string
	UserPhone        string
	Channel          string
	SpeechTimeout    time.Duration
	LocationTimeout  time.Duration
	MaxSilentRetries int
	GeocoderURL      string
	FixedLocation    string
	WhatsAppNumeric  bool
}

// Flags holds command line flag values and the selected command
type Flags struct {
	Config
	qrOutput string
	numeric  bool
	command  string
	args     []string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:         os.Getenv("VOICEGUIDE_STATE_DIR"),
		APIAddr:          os.Getenv("API_ADDR"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIVoice:      os.Getenv("OPENAI_TTS_VOICE"),
		TwilioSID:        os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:      os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_FROM_NUMBER"),
		UserPhone:        os.Getenv("VOICEGUIDE_USER_PHONE"),
		Channel:          os.Getenv("VOICEGUIDE_MESSAGE_CHANNEL"),
		SpeechTimeout:    envDuration("VOICEGUIDE_SPEECH_TIMEOUT", hub.DefaultAckTimeout),
		LocationTimeout:  envDuration("VOICEGUIDE_LOCATION_TIMEOUT", location.DefaultWaitTimeout),
		MaxSilentRetries: envInt("VOICEGUIDE_MAX_SILENT_RETRIES", dialogue.DefaultMaxSilentRetries),
		GeocoderURL:      os.Getenv("VOICEGUIDE_GEOCODER_URL"),
		FixedLocation:    os.Getenv("VOICEGUIDE_FIXED_LOCATION"),
		WhatsAppNumeric:  util.ParseBoolEnv("WHATSAPP_NUMERIC_CODE", false),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No VOICEGUIDE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.Channel == "" {
		config.Channel = ChannelSMS
	}

	// DATABASE_DSN takes precedence over DATABASE_URL
	config.ApplicationDBDSN = os.Getenv("DATABASE_DSN")
	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = os.Getenv("DATABASE_URL")
	}
	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = defaultAppDSN(config.StateDir)
		slog.Debug("No application database DSN provided, defaulting to SQLite", "sqlite_path", config.ApplicationDBDSN)
	}

	config.WhatsAppDBDSN = os.Getenv("WHATSAPP_DB_DSN")
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = defaultWhatsAppDSN(config.StateDir)
	}

	slog.Debug("environment variables loaded",
		"VOICEGUIDE_STATE_DIR", config.StateDir,
		"DATABASE_DSN_SET", config.ApplicationDBDSN != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDBDSN != "",
		"API_ADDR", config.APIAddr,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"TWILIO_ACCOUNT_SID_SET", config.TwilioSID != "",
		"VOICEGUIDE_MESSAGE_CHANNEL", config.Channel,
		"VOICEGUIDE_FIXED_LOCATION", config.FixedLocation)

	return config
}

func defaultAppDSN(stateDir string) string {
	return filepath.Join(stateDir, DefaultAppDBFileName)
}

func defaultWhatsAppDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("ignoring invalid duration", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		slog.Warn("ignoring invalid number", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

// parseCommandLineFlags parses args with environment defaults. The first
// positional argument selects the command, serve by default.
func parseCommandLineFlags(config Config, args []string) (Flags, error) {
	fs := flag.NewFlagSet("VoiceGuide", flag.ContinueOnError)
	f := Flags{Config: config}
	c := &f.Config

	fs.StringVar(&c.StateDir, "state-dir", config.StateDir, "state directory for VoiceGuide data (overrides $VOICEGUIDE_STATE_DIR)")
	fs.StringVar(&c.ApplicationDBDSN, "db-dsn", config.ApplicationDBDSN, "application database DSN (overrides $DATABASE_DSN or $DATABASE_URL)")
	fs.StringVar(&c.WhatsAppDBDSN, "whatsapp-db-dsn", config.WhatsAppDBDSN, "WhatsApp session database DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&c.APIAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&c.OpenAIKey, "openai-api-key", config.OpenAIKey, "OpenAI API key for speech (overrides $OPENAI_API_KEY)")
	fs.StringVar(&c.OpenAIVoice, "voice", config.OpenAIVoice, "OpenAI TTS voice (overrides $OPENAI_TTS_VOICE)")
	fs.StringVar(&c.Channel, "channel", config.Channel, "message channel, sms or whatsapp (overrides $VOICEGUIDE_MESSAGE_CHANNEL)")
	fs.StringVar(&c.UserPhone, "user-phone", config.UserPhone, "the user's own phone, rung first for calls (overrides $VOICEGUIDE_USER_PHONE)")
	fs.DurationVar(&c.SpeechTimeout, "speech-timeout", config.SpeechTimeout, "how long to wait for a device to finish speaking a prompt")
	fs.DurationVar(&c.LocationTimeout, "location-timeout", config.LocationTimeout, "how long to wait for a location fix")
	fs.IntVar(&c.MaxSilentRetries, "max-silent-retries", config.MaxSilentRetries, "silent turns re-prompted before listening pauses")
	fs.StringVar(&c.GeocoderURL, "geocoder-url", config.GeocoderURL, "Nominatim-compatible reverse geocoder (overrides $VOICEGUIDE_GEOCODER_URL)")
	fs.StringVar(&c.FixedLocation, "fixed-location", config.FixedLocation, `report this "lat, lon" instead of device fixes`)
	fs.StringVar(&f.qrOutput, "qr-output", "", "path to write the WhatsApp login QR code")
	fs.BoolVar(&f.numeric, "numeric-code", config.WhatsAppNumeric, "use numeric WhatsApp login code instead of QR code (overrides $WHATSAPP_NUMERIC_CODE)")

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	// Follow a changed state directory unless a DSN was given explicitly.
	if c.StateDir != config.StateDir {
		if c.ApplicationDBDSN == defaultAppDSN(config.StateDir) {
			c.ApplicationDBDSN = defaultAppDSN(c.StateDir)
		}
		if c.WhatsAppDBDSN == defaultWhatsAppDSN(config.StateDir) {
			c.WhatsAppDBDSN = defaultWhatsAppDSN(c.StateDir)
		}
		slog.Debug("Updated database DSNs based on state directory", "state_dir", c.StateDir)
	}

	switch c.Channel {
	case ChannelSMS, ChannelWhatsApp:
	default:
		return Flags{}, fmt.Errorf("unknown message channel %q", c.Channel)
	}

	rest := fs.Args()
	f.command = CommandServe
	if len(rest) > 0 {
		f.command, f.args = rest[0], rest[1:]
	}
	switch f.command {
	case CommandServe, CommandTalk, CommandPlaces:
	default:
		return Flags{}, fmt.Errorf("unknown command %q (want serve, talk or places)", f.command)
	}

	slog.Debug("flags parsed",
		"command", f.command,
		"stateDir", c.StateDir,
		"dbDSN_set", c.ApplicationDBDSN != "",
		"apiAddr", c.APIAddr,
		"channel", c.Channel,
		"openaiKeySet", c.OpenAIKey != "")
	return f, nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	dsn := flags.ApplicationDBDSN
	if dsn == "" {
		slog.Debug("No database DSN provided, will use in-memory store")
		return storeOpts
	}
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
		storeOpts = append(storeOpts, store.WithPostgresDSN(dsn))
	} else {
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", dsn)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(dsn))
	}
	return storeOpts
}

// ensureDirectoriesExist creates the directory of a file-based application database
func ensureDirectoriesExist(flags Flags) error {
	dsn := flags.ApplicationDBDSN
	if dsn == "" || store.DetectDSNType(dsn) == "postgres" {
		return nil
	}
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return ensureDir(filepath.Dir(path))
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Error("Failed to create directory", "error", err, "dir", dir)
		return err
	}
	return nil
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(flags.qrOutput))
	}
	if flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if flags.WhatsAppDBDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(flags.WhatsAppDBDSN))
	}
	return waOpts
}

// buildTwilioOptions constructs Twilio configuration options
func buildTwilioOptions(flags Flags) []twilio.Option {
	var twOpts []twilio.Option
	if flags.TwilioSID != "" {
		twOpts = append(twOpts, twilio.WithAccountSID(flags.TwilioSID))
	}
	if flags.TwilioToken != "" {
		twOpts = append(twOpts, twilio.WithAuthToken(flags.TwilioToken))
	}
	if flags.TwilioFrom != "" {
		twOpts = append(twOpts, twilio.WithFromNumber(flags.TwilioFrom))
	}
	if flags.UserPhone != "" {
		twOpts = append(twOpts, twilio.WithUserPhone(flags.UserPhone))
	}
	return twOpts
}

// buildSpeechOptions constructs OpenAI speech configuration options
func buildSpeechOptions(flags Flags) []speech.Option {
	var spOpts []speech.Option
	if flags.OpenAIKey != "" {
		spOpts = append(spOpts, speech.WithAPIKey(flags.OpenAIKey))
	}
	if flags.OpenAIVoice != "" {
		spOpts = append(spOpts, speech.WithVoice(flags.OpenAIVoice))
	}
	return spOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, transcriber speech.Transcriber) []api.Option {
	var apiOpts []api.Option
	if flags.APIAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(flags.APIAddr))
	}
	if transcriber != nil {
		apiOpts = append(apiOpts, api.WithTranscriber(transcriber))
	}
	return apiOpts
}

// usage prints the command summary.
func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: VoiceGuide [flags] [serve | talk <call|sms|location|navigation> | places <list|add|remove> ...]")
}
