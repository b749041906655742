package tts

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chadiek/sahayak/internal/agent"
)

func TestSelectVoice(t *testing.T) {
	voices := []Voice{
		{Name: "en-gb", Locale: "en-GB"},
		{Name: "en-in", Locale: "en_IN"},
		{Name: "hindi", Locale: "hi"},
	}
	cases := []struct {
		locale agent.Locale
		want   string
		ok     bool
	}{
		{agent.LocaleEnglish, "en-in", true},
		{agent.LocaleHindi, "hindi", true},
		{"en-US", "en-gb", true},
		{"ta-IN", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		v, ok := SelectVoice(voices, tc.locale)
		assert.Equal(t, tc.ok, ok, tc.locale)
		assert.Equal(t, tc.want, v.Name, tc.locale)
	}
}

func TestSelectVoice_NoVoices(t *testing.T) {
	_, ok := SelectVoice(nil, agent.LocaleEnglish)
	assert.False(t, ok)
}

func TestVoicesFromMap(t *testing.T) {
	got := VoicesFromMap(map[string]string{"hi-IN": "aura-hi", "en-IN": "aura-en", "ta-IN": ""})
	assert.Equal(t, []Voice{{Name: "aura-en", Locale: "en-IN"}, {Name: "aura-hi", Locale: "hi-IN"}}, got)
}

func TestParseVoiceList(t *testing.T) {
	out := []byte("Pty Language       Age/Gender VoiceName          File                 Other Languages\n" +
		" 5  en-gb           --/M      English_(Great_Britain) gmw/en          (en 2)\n" +
		" 5  hi              --/M      Hindi              inc/hi\n" +
		"\n")
	assert.Equal(t, []Voice{{Name: "en-gb", Locale: "en-gb"}, {Name: "hi", Locale: "hi"}}, parseVoiceList(out))
}
