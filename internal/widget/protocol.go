// Package widget serves the embeddable assistant widget over a websocket.
// Each connection owns one agent.Session; JSON text frames carry UI actions
// and state updates, binary frames carry microphone and speech audio.
package widget

import (
	"errors"

	"github.com/chadiek/sahayak/internal/agent"
	"github.com/chadiek/sahayak/internal/tts"
)

// Client frame types.
const (
	TypeHello         = "hello"
	TypeInput         = "input"
	TypeSubmit        = "submit"
	TypeVoiceBegin    = "voice.begin"
	TypeVoiceToggle   = "voice.toggle"
	TypeLocaleSet     = "locale.set"
	TypeFontAdjust    = "font.adjust"
	TypeCaptureResult = "capture.result"
	TypeCaptureEnd    = "capture.end"
	TypeSpeechDone    = "speech.done"
	TypeWidget        = "widget"
)

// Server frame types.
const (
	TypeReady        = "ready"
	TypeMessage      = "message"
	TypeBusy         = "busy"
	TypeVoice        = "voice"
	TypeSettings     = "settings"
	TypeError        = "error"
	TypeCaptureStart = "capture.start"
	TypeSpeechSpeak  = "speech.speak"
	TypeSpeechCancel = "speech.cancel"
)

// Capabilities are the speech features the browser offers.
type Capabilities struct {
	Capture bool `json:"capture"`
	Output  bool `json:"output"`
}

// ClientFrame is any frame sent by the widget.
type ClientFrame struct {
	Type         string        `json:"type"`
	Text         *string       `json:"text,omitempty"`
	Transcript   string        `json:"transcript,omitempty"`
	Locale       string        `json:"locale,omitempty"`
	Delta        float64       `json:"delta,omitempty"`
	Capabilities *Capabilities `json:"capabilities,omitempty"`
	Voices       []tts.Voice   `json:"voices,omitempty"`
	Open         *bool         `json:"open,omitempty"`
	Maximized    *bool         `json:"maximized,omitempty"`
}

type ReadyFrame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	History   []agent.Message `json:"history"`
	Settings  agent.Settings  `json:"settings"`
	Locales   []agent.Locale  `json:"locales"`
	FontStep  float64         `json:"font_step"`
}

type MessageFrame struct {
	Type string     `json:"type"`
	Role agent.Role `json:"role"`
	Text string     `json:"text"`
}

type InputFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type BusyFrame struct {
	Type string `json:"type"`
	Busy bool   `json:"busy"`
}

type VoiceFrame struct {
	Type  string           `json:"type"`
	State agent.VoiceState `json:"state"`
}

type SettingsFrame struct {
	Type     string         `json:"type"`
	Settings agent.Settings `json:"settings"`
}

type ErrorFrame struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type CaptureStartFrame struct {
	Type       string       `json:"type"`
	Locale     agent.Locale `json:"locale"`
	Interim    bool         `json:"interim"`
	Continuous bool         `json:"continuous"`
}

type SpeechSpeakFrame struct {
	Type   string       `json:"type"`
	Text   string       `json:"text"`
	Locale agent.Locale `json:"locale"`
	Voice  string       `json:"voice,omitempty"`
}

type SpeechCancelFrame struct {
	Type string `json:"type"`
}

var errUnknownFrame = errors.New("unknown frame type")

// Error codes carried by ErrorFrame.
const (
	CodeBadRequest            = "bad_request"
	CodeBusy                  = "busy"
	CodeCapabilityUnavailable = "capability_unavailable"
	CodeGatewayFailure        = "gateway_failure"
	CodeInvalidLocale         = "invalid_locale"
	CodeSessionClosed         = "session_closed"
	CodeInternal              = "internal"
)

// errorFrame maps err to what the widget shows. Gateway failures are the only
// retryable condition.
func errorFrame(err error) ErrorFrame {
	f := ErrorFrame{Type: TypeError, Code: CodeInternal, Message: "Something went wrong."}
	var ge *agent.GatewayError
	switch {
	case errors.As(err, &ge):
		f.Code = CodeGatewayFailure
		f.Message = "The assistant could not be reached. Please try again."
		f.Retryable = ge.Retryable()
	case errors.Is(err, agent.ErrGatewayFailure):
		f.Code = CodeGatewayFailure
		f.Message = "The assistant could not be reached. Please try again."
		f.Retryable = true
	case errors.Is(err, agent.ErrCapabilityUnavailable):
		f.Code = CodeCapabilityUnavailable
		f.Message = "Voice input is not available on this device."
	case errors.Is(err, agent.ErrBusy):
		f.Code = CodeBusy
		f.Message = "Please wait for the current reply."
	case errors.Is(err, agent.ErrInvalidLocale):
		f.Code = CodeInvalidLocale
		f.Message = "That language is not supported."
	case errors.Is(err, agent.ErrSessionClosed):
		f.Code = CodeSessionClosed
		f.Message = "This conversation has ended."
	case errors.Is(err, errUnknownFrame), errors.Is(err, errBadFrame):
		f.Code = CodeBadRequest
		f.Message = err.Error()
	}
	return f
}
