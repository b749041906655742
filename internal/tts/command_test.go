package tts

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/sahayak/internal/agent"
)

const fakeSpeaker = `#!/bin/sh
if [ "$1" = "--voices" ]; then
  echo "Pty Language Age/Gender VoiceName File Other Languages"
  echo " 5  en-gb --/M English_(Great_Britain) gmw/en"
  echo " 5  hi --/M Hindi inc/hi"
  exit 0
fi
echo "$@" >> "$(dirname "$0")/spoken.log"
exec sleep 5
`

func TestCommandSpeaker_SpeakAndCancel(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	dir := t.TempDir()
	bin := filepath.Join(dir, "speak")
	require.NoError(t, os.WriteFile(bin, []byte(fakeSpeaker), 0o755))

	c := NewCommandSpeaker(bin, nil)
	assert.True(t, c.Supported())
	assert.Len(t, c.Voices(context.Background()), 2)

	require.NoError(t, c.Speak(context.Background(), "namaste", agent.LocaleHindi))
	assert.True(t, c.Speaking())
	assert.Eventually(t, func() bool {
		b, err := os.ReadFile(filepath.Join(dir, "spoken.log"))
		return err == nil && strings.TrimSpace(string(b)) == "-v hi -- namaste"
	}, 2*time.Second, 10*time.Millisecond)

	start := time.Now()
	c.CancelAll()
	assert.False(t, c.Speaking())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCommandSpeaker_Unsupported(t *testing.T) {
	c := NewCommandSpeaker("definitely-not-a-speech-binary", nil)
	assert.False(t, c.Supported())
	assert.Error(t, c.Speak(context.Background(), "hi", agent.LocaleEnglish))
}
