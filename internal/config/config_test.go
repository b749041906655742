package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"SAHAYAK_CONFIG", "HTTP_ADDRESS", "ASSISTANT_URL", "GATEWAY_TIMEOUT", "LOCALES", "CAPTURE_PROVIDER",
		"OUTPUT_PROVIDER", "ELEVENLABS_VOICE_ID", "DEEPGRAM_MODEL", "FONT_SCALE", "FONT_STEP", "LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddress)
	assert.Equal(t, "http://localhost:5000/chat", cfg.AssistantURL)
	assert.Equal(t, 20*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, []string{"en-IN", "hi-IN"}, cfg.Locales)
	assert.Equal(t, 16.0, cfg.FontScale)
	assert.Equal(t, CaptureBrowser, cfg.CaptureProvider)
	assert.NotEmpty(t, cfg.ICEServersJSON)
	assert.NotEmpty(t, cfg.CerebrasModelID)
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "sahayak.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
greeting: Namaste
locales: [en-IN, hi-IN, ta-IN]
output_provider: elevenlabs
gateway_timeout: 5s
elevenlabs_voices:
  hi-IN: hindi-voice
`), 0o600))
	t.Setenv("SAHAYAK_CONFIG", path)
	t.Setenv("ELEVENLABS_VOICE_ID", "default-voice")
	t.Setenv("FONT_STEP", "4")
	t.Setenv("HTTP_ADDRESS", ":9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "Namaste", cfg.Greeting)
	assert.Equal(t, []string{"en-IN", "hi-IN", "ta-IN"}, cfg.Locales)
	assert.Equal(t, 5*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, 4.0, cfg.FontStep)
	assert.Equal(t, ":9090", cfg.HTTPAddress)
	assert.Equal(t, map[string]string{
		"en-IN": "default-voice",
		"hi-IN": "hindi-voice",
		"ta-IN": "default-voice",
	}, cfg.ElevenLabsVoices)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"capture":  {"CAPTURE_PROVIDER": "carrier-pigeon"},
		"output":   {"OUTPUT_PROVIDER": "smoke-signals"},
		"timeout":  {"GATEWAY_TIMEOUT": "soon"},
		"font":     {"FONT_SCALE": "big"},
		"negative": {"GATEWAY_TIMEOUT": "-1s"},
		"missing":  {"SAHAYAK_CONFIG": "/nonexistent/sahayak.yaml"},
		"locale":   {"LOCALES": "en-IN,not a tag"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestParsedLocales(t *testing.T) {
	locales, err := Config{Locales: []string{"en-in", "hi-IN"}}.ParsedLocales()
	require.NoError(t, err)
	assert.Equal(t, "en-IN", string(locales[0]))
	assert.Equal(t, "hi-IN", string(locales[1]))
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	Config{LogFormat: "json", LogLevel: "debug"}.NewLogger(&buf).Debug("hello", "k", 1)
	assert.Contains(t, buf.String(), `"msg":"hello"`)
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", Config{LogLevel: "debug"}.SlogLevel().String())
	assert.Equal(t, "WARN", Config{LogLevel: "Warning"}.SlogLevel().String())
	assert.Equal(t, "INFO", Config{LogLevel: "chatty"}.SlogLevel().String())
}
