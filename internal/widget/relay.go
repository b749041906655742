package widget

import (
	"context"
	"sync"

	"github.com/chadiek/sahayak/internal/agent"
	"github.com/chadiek/sahayak/internal/metrics"
	"github.com/chadiek/sahayak/internal/tts"
)

// relayCapture drives the browser's speech recognizer: Start asks the widget
// to begin recognition and capture.result / capture.end frames flow back.
type relayCapture struct {
	conn      *Conn
	supported bool

	mu     sync.Mutex
	events agent.CaptureEvents
}

func (r *relayCapture) Supported() bool { return r.supported }

func (r *relayCapture) Start(_ context.Context, opts agent.CaptureOptions, events agent.CaptureEvents) error {
	if !r.supported {
		return agent.ErrCapabilityUnavailable
	}
	r.mu.Lock()
	r.events = events
	r.mu.Unlock()
	if err := r.conn.send(CaptureStartFrame{
		Type:       TypeCaptureStart,
		Locale:     opts.Locale,
		Interim:    opts.InterimResults,
		Continuous: opts.Continuous,
	}); err != nil {
		r.mu.Lock()
		r.events = nil
		r.mu.Unlock()
		return err
	}
	metrics.VoiceSessions.WithLabelValues("browser").Inc()
	return nil
}

func (r *relayCapture) result(transcript string) {
	r.mu.Lock()
	ev := r.events
	r.mu.Unlock()
	if ev != nil {
		ev.OnResult(transcript)
	}
}

func (r *relayCapture) end() {
	r.mu.Lock()
	ev := r.events
	r.events = nil
	r.mu.Unlock()
	if ev != nil {
		ev.OnEnd()
	}
}

// relayOutput asks the browser to speak with one of the voices it reported.
type relayOutput struct {
	conn   *Conn
	voices []tts.Voice
}

func (r *relayOutput) Speak(_ context.Context, text string, locale agent.Locale) error {
	f := SpeechSpeakFrame{Type: TypeSpeechSpeak, Text: text, Locale: locale}
	if v, ok := tts.SelectVoice(r.voices, locale); ok {
		f.Voice = v.Name
	}
	return r.conn.send(f)
}

func (r *relayOutput) CancelAll() {
	_ = r.conn.send(SpeechCancelFrame{Type: TypeSpeechCancel})
}

// audioSink streams server-synthesized PCM to the widget as binary frames.
type audioSink struct{ conn *Conn }

func (a audioSink) WritePCM(pcm []byte) { _ = a.conn.sendBinary(pcm) }
func (a audioSink) FlushTail()          {}
func (a audioSink) Reset()              { _ = a.conn.send(SpeechCancelFrame{Type: TypeSpeechCancel}) }
