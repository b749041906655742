package tts

import (
	"sort"
	"strings"

	"github.com/chadiek/sahayak/internal/agent"
)

// Voice is one synthesizer voice and the locale it speaks.
type Voice struct {
	Name   string `json:"name"`
	Locale string `json:"lang"`
}

// SelectVoice picks the voice for locale: an exact tag match first, then a
// voice of the same base language. ok is false when the platform default
// should be used.
func SelectVoice(voices []Voice, locale agent.Locale) (Voice, bool) {
	want := normalizeTag(string(locale))
	if want == "" {
		return Voice{}, false
	}
	for _, v := range voices {
		if normalizeTag(v.Locale) == want {
			return v, true
		}
	}
	lang := locale.Language()
	for _, v := range voices {
		if agent.Locale(v.Locale).Language() == lang {
			return v, true
		}
	}
	return Voice{}, false
}

// VoicesFromMap turns a locale->voice map from configuration into a stable list.
func VoicesFromMap(m map[string]string) []Voice {
	out := make([]Voice, 0, len(m))
	for loc, name := range m {
		if name == "" {
			continue
		}
		out = append(out, Voice{Name: name, Locale: loc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Locale < out[j].Locale })
	return out
}

func normalizeTag(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "-"))
}
