package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/chadiek/sahayak/internal/agent"
)

const (
	CaptureBrowser    = "browser"
	CaptureAssemblyAI = "assemblyai"

	OutputBrowser    = "browser"
	OutputDeepgram   = "deepgram"
	OutputElevenLabs = "elevenlabs"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress    string        `yaml:"http_address"`
	AssistantURL   string        `yaml:"assistant_url"`
	GatewayTimeout time.Duration `yaml:"gateway_timeout"`
	PublicBaseURL  string        `yaml:"public_base_url"`
	ICEServersJSON string        `yaml:"ice_servers_json"`

	Greeting      string   `yaml:"greeting"`
	DefaultLocale string   `yaml:"default_locale"`
	Locales       []string `yaml:"locales"`
	FontScale     float64  `yaml:"font_scale"`
	FontStep      float64  `yaml:"font_step"`

	CaptureProvider string `yaml:"capture_provider"`
	OutputProvider  string `yaml:"output_provider"`

	AssemblyAIKey string `yaml:"-"`
	DeepgramKey   string `yaml:"-"`
	ElevenLabsKey string `yaml:"-"`
	CerebrasKey   string `yaml:"-"`

	// Locale tag -> synthesizer voice or model.
	DeepgramModels   map[string]string `yaml:"deepgram_models"`
	ElevenLabsVoices map[string]string `yaml:"elevenlabs_voices"`
	SpeechCommand    string            `yaml:"speech_command"`

	CerebrasModelID string `yaml:"cerebras_model_id"`
	AssistantAddr   string `yaml:"assistant_address"`

	TwilioAuthToken string `yaml:"-"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		HTTPAddress:     ":8080",
		AssistantURL:    "http://localhost:5000/chat",
		GatewayTimeout:  20 * time.Second,
		ICEServersJSON:  `[{"urls":["stun:stun.l.google.com:19302"]}]`,
		Greeting:        "Hello! I am your Sahayak Assistant. How may I guide you today?",
		DefaultLocale:   "en-IN",
		Locales:         []string{"en-IN", "hi-IN"},
		FontScale:       16,
		FontStep:        2,
		CaptureProvider: CaptureBrowser,
		OutputProvider:  OutputBrowser,
		SpeechCommand:   "espeak-ng",
		CerebrasModelID: "gpt-oss-120b",
		AssistantAddr:   ":5000",
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// Load reads .env, the optional YAML file named by SAHAYAK_CONFIG and the
// environment, in that order of increasing precedence.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("config: reading .env failed", "error", err)
	}

	cfg := Defaults()
	if path := os.Getenv("SAHAYAK_CONFIG"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	cfg.warnMissing()
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("HTTP_ADDRESS", &cfg.HTTPAddress)
	str("ASSISTANT_URL", &cfg.AssistantURL)
	str("PUBLIC_BASE_URL", &cfg.PublicBaseURL)
	str("ICE_SERVERS_JSON", &cfg.ICEServersJSON)
	str("GREETING", &cfg.Greeting)
	str("DEFAULT_LOCALE", &cfg.DefaultLocale)
	str("CAPTURE_PROVIDER", &cfg.CaptureProvider)
	str("OUTPUT_PROVIDER", &cfg.OutputProvider)
	str("ASSEMBLYAI_API_KEY", &cfg.AssemblyAIKey)
	str("DEEPGRAM_API_KEY", &cfg.DeepgramKey)
	str("ELEVENLABS_API_KEY", &cfg.ElevenLabsKey)
	str("CEREBRAS_API_KEY", &cfg.CerebrasKey)
	str("CEREBRAS_MODEL_ID", &cfg.CerebrasModelID)
	str("ASSISTANT_ADDRESS", &cfg.AssistantAddr)
	str("SPEECH_COMMAND", &cfg.SpeechCommand)
	str("TWILIO_AUTH_TOKEN", &cfg.TwilioAuthToken)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)

	if v := os.Getenv("LOCALES"); v != "" {
		cfg.Locales = splitList(v)
	}
	if v := os.Getenv("GATEWAY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: GATEWAY_TIMEOUT: %w", err)
		}
		cfg.GatewayTimeout = d
	}
	for key, dst := range map[string]*float64{"FONT_SCALE": &cfg.FontScale, "FONT_STEP": &cfg.FontStep} {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("config: %s: %w", key, err)
			}
			*dst = f
		}
	}
	// A bare voice id applies to every locale without its own entry.
	if v := os.Getenv("ELEVENLABS_VOICE_ID"); v != "" {
		cfg.ElevenLabsVoices = withFallback(cfg.ElevenLabsVoices, cfg.Locales, v)
	}
	if v := os.Getenv("DEEPGRAM_MODEL"); v != "" {
		cfg.DeepgramModels = withFallback(cfg.DeepgramModels, cfg.Locales, v)
	}
	return nil
}

func (c Config) validate() error {
	switch c.CaptureProvider {
	case CaptureBrowser, CaptureAssemblyAI:
	default:
		return fmt.Errorf("config: unknown capture provider %q", c.CaptureProvider)
	}
	switch c.OutputProvider {
	case OutputBrowser, OutputDeepgram, OutputElevenLabs:
	default:
		return fmt.Errorf("config: unknown output provider %q", c.OutputProvider)
	}
	if len(c.Locales) == 0 {
		return errors.New("config: at least one locale is required")
	}
	if _, err := c.ParsedLocales(); err != nil {
		return err
	}
	if _, err := agent.ParseLocale(c.DefaultLocale); err != nil {
		return fmt.Errorf("config: default locale %q: %w", c.DefaultLocale, err)
	}
	if c.GatewayTimeout <= 0 {
		return errors.New("config: gateway timeout must be positive")
	}
	return nil
}

func (c Config) warnMissing() {
	if c.CaptureProvider == CaptureAssemblyAI && c.AssemblyAIKey == "" {
		slog.Warn("config: ASSEMBLYAI_API_KEY not set - server-side capture will report unavailable")
	}
	if c.OutputProvider == OutputDeepgram && c.DeepgramKey == "" {
		slog.Warn("config: DEEPGRAM_API_KEY not set - speech output will fail")
	}
	if c.OutputProvider == OutputElevenLabs && c.ElevenLabsKey == "" {
		slog.Warn("config: ELEVENLABS_API_KEY not set - speech output will fail")
	}
}

// SlogLevel maps LogLevel onto slog; unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// NewLogger builds the process logger from LogLevel and LogFormat.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParsedLocales returns Locales in canonical form, failing on the first bad tag.
func (c Config) ParsedLocales() ([]agent.Locale, error) {
	out := make([]agent.Locale, 0, len(c.Locales))
	for _, l := range c.Locales {
		loc, err := agent.ParseLocale(l)
		if err != nil {
			return nil, fmt.Errorf("config: locale %q: %w", l, err)
		}
		out = append(out, loc)
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func withFallback(m map[string]string, locales []string, v string) map[string]string {
	out := make(map[string]string, len(locales))
	for k, val := range m {
		out[k] = val
	}
	for _, l := range locales {
		if _, ok := out[l]; !ok {
			out[l] = v
		}
	}
	return out
}
