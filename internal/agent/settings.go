package agent

// Settings holds the accessibility preferences of one widget session.
// FontScale is not clamped here; renderers clamp it to what they can display.
type Settings struct {
	FontScale    float64 `json:"font_scale"`
	VoiceEnabled bool    `json:"voice_enabled"`
	Locale       Locale  `json:"locale"`
}

// DefaultSettings mirrors the widget's initial state.
func DefaultSettings() Settings {
	return Settings{FontScale: 16, VoiceEnabled: true, Locale: LocaleEnglish}
}
