package widget

import (
	"github.com/chadiek/sahayak/internal/agent"
)

// eventSink turns session notifications into frames. It must never call back
// into the session: Close waits for round-trips that are notifying it.
type eventSink struct{ conn *Conn }

func (s eventSink) HistoryAppended(msg agent.Message) {
	if b := s.conn.barge; b != nil && msg.Role == agent.RoleAssistant {
		b.NotifySpoken(msg.Text)
	}
	_ = s.conn.send(MessageFrame{Type: TypeMessage, Role: msg.Role, Text: msg.Text})
}

func (s eventSink) InputChanged(text string) {
	if b := s.conn.barge; b != nil {
		b.NotifyPartial(text)
	}
	_ = s.conn.send(InputFrame{Type: TypeInput, Text: text})
}

func (s eventSink) BusyChanged(busy bool) {
	_ = s.conn.send(BusyFrame{Type: TypeBusy, Busy: busy})
}

func (s eventSink) VoiceStateChanged(state agent.VoiceState) {
	_ = s.conn.send(VoiceFrame{Type: TypeVoice, State: state})
}

func (s eventSink) SettingsChanged(settings agent.Settings) {
	_ = s.conn.send(SettingsFrame{Type: TypeSettings, Settings: settings})
}

func (s eventSink) Failed(err error) {
	s.conn.logger.Warn("session error", "error", err)
	_ = s.conn.send(errorFrame(err))
}
