package agent

import (
	"context"
	"strings"

	"golang.org/x/text/language"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one immutable entry of the conversation history.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Locale is a language-REGION tag such as en-IN or hi-IN.
type Locale string

const (
	LocaleEnglish Locale = "en-IN"
	LocaleHindi   Locale = "hi-IN"
)

// ParseLocale validates a BCP 47 tag and returns it in canonical form.
func ParseLocale(s string) (Locale, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrInvalidLocale
	}
	tag, err := language.Parse(s)
	if err != nil {
		return "", ErrInvalidLocale
	}
	return Locale(tag.String()), nil
}

// Language returns the base language subtag ("en" for "en-IN").
func (l Locale) Language() string {
	s := string(l)
	if i := strings.IndexAny(s, "-_"); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(s)
}

// VoiceState is the lifecycle state of speech capture for one session.
type VoiceState string

const (
	VoiceIdle      VoiceState = "idle"
	VoiceCapturing VoiceState = "capturing"
)

// Gateway sends one message to the remote assistant and returns its reply.
type Gateway interface {
	Send(ctx context.Context, message string, locale Locale) (string, error)
}

// CaptureOptions configures one recognition session.
type CaptureOptions struct {
	Locale         Locale
	InterimResults bool
	Continuous     bool
}

// CaptureEvents receives the events of one capture session. OnResult carries the
// cumulative transcript so far; OnEnd is delivered exactly once, last.
type CaptureEvents interface {
	OnResult(transcript string)
	OnEnd()
}

// SpeechCaptureProvider adapts a platform speech-to-text capability.
// Callers must not start a second capture while one is active.
type SpeechCaptureProvider interface {
	Supported() bool
	Start(ctx context.Context, opts CaptureOptions, events CaptureEvents) error
}

// SpeechOutputProvider adapts a platform text-to-speech capability.
// Speak replaces any utterance in progress; CancelAll is a no-op when idle.
type SpeechOutputProvider interface {
	Speak(ctx context.Context, text string, locale Locale) error
	CancelAll()
}

// EventSink is notified of every state change the presentation layer renders.
// Calls are made without the session lock held and may arrive from any goroutine.
type EventSink interface {
	HistoryAppended(msg Message)
	InputChanged(text string)
	BusyChanged(busy bool)
	VoiceStateChanged(state VoiceState)
	SettingsChanged(settings Settings)
	Failed(err error)
}

type nopSink struct{}

func (nopSink) HistoryAppended(Message)      {}
func (nopSink) InputChanged(string)          {}
func (nopSink) BusyChanged(bool)             {}
func (nopSink) VoiceStateChanged(VoiceState) {}
func (nopSink) SettingsChanged(Settings)     {}
func (nopSink) Failed(error)                 {}

type unsupportedCapture struct{}

func (unsupportedCapture) Supported() bool { return false }
func (unsupportedCapture) Start(context.Context, CaptureOptions, CaptureEvents) error {
	return ErrCapabilityUnavailable
}

type silentOutput struct{}

func (silentOutput) Speak(context.Context, string, Locale) error { return nil }
func (silentOutput) CancelAll()                                  {}
