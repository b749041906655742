package telephony

import (
	"context"
	"sync"

	"github.com/chadiek/sahayak/internal/agent"
	"github.com/chadiek/sahayak/internal/metrics"
)

// reply is what the caller hears next: an assistant answer or a failure.
type reply struct {
	text   string
	locale agent.Locale
	err    error
}

// call binds one CallSid to a Session. Twilio's <Gather> is the capture
// port and <Say> the output port.
type call struct {
	sid     string
	session *agent.Session
	replies chan reply

	mu     sync.Mutex
	events agent.CaptureEvents
}

func (c *call) push(r reply) {
	for {
		select {
		case c.replies <- r:
			return
		default:
		}
		// keep the newest
		select {
		case <-c.replies:
		default:
		}
	}
}

// gatherCapture starts a capture run each time the call listens.
type gatherCapture struct{ c *call }

func (g gatherCapture) Supported() bool { return true }

func (g gatherCapture) Start(_ context.Context, _ agent.CaptureOptions, events agent.CaptureEvents) error {
	g.c.mu.Lock()
	g.c.events = events
	g.c.mu.Unlock()
	metrics.VoiceSessions.WithLabelValues("twilio").Inc()
	return nil
}

func (c *call) result(transcript string) {
	c.mu.Lock()
	ev := c.events
	c.mu.Unlock()
	if ev != nil {
		ev.OnResult(transcript)
	}
}

func (c *call) end() {
	c.mu.Lock()
	ev := c.events
	c.events = nil
	c.mu.Unlock()
	if ev != nil {
		ev.OnEnd()
	}
}

// sayOutput queues replies for the next TwiML response.
type sayOutput struct{ c *call }

func (o sayOutput) Speak(_ context.Context, text string, locale agent.Locale) error {
	o.c.push(reply{text: text, locale: locale})
	return nil
}

func (o sayOutput) CancelAll() {
	for {
		select {
		case <-o.c.replies:
		default:
			return
		}
	}
}

// callSink surfaces failures to the caller; every other change is only
// visible in the next TwiML response.
type callSink struct{ c *call }

func (callSink) HistoryAppended(agent.Message)      {}
func (callSink) InputChanged(string)                {}
func (callSink) BusyChanged(bool)                   {}
func (callSink) VoiceStateChanged(agent.VoiceState) {}
func (callSink) SettingsChanged(agent.Settings)     {}
func (s callSink) Failed(err error)                 { s.c.push(reply{err: err}) }
