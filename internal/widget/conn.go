package widget

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chadiek/sahayak/internal/agent"
	"github.com/chadiek/sahayak/internal/barge"
	"github.com/chadiek/sahayak/internal/metrics"
	"github.com/chadiek/sahayak/internal/tts"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendQueueSize  = 256
)

var (
	ErrConnClosed    = errors.New("widget: connection closed")
	ErrNoServerAudio = errors.New("widget: session has no server-side speech")
	errBadFrame      = errors.New("malformed frame")
)

// ServerCapture is a recognizer running on the server, fed 16kHz PCM16LE
// from binary widget frames or a media bridge.
type ServerCapture interface {
	agent.SpeechCaptureProvider
	SendPCM16KLE(pcm []byte) error
	Stop()
}

type outbound struct {
	binary bool
	data   []byte
}

// Conn is one widget connection and the session it owns.
type Conn struct {
	id       string
	ws       *websocket.Conn
	session  *agent.Session
	registry *Registry
	locales  []agent.Locale
	logger   *slog.Logger

	out         chan outbound
	done        chan struct{}
	closeOnce   sync.Once
	disposeOnce sync.Once

	relay   *relayCapture
	capture ServerCapture
	output  agent.SpeechOutputProvider
	player  *tts.Player
	barge   *barge.Detector

	mu        sync.Mutex
	open      bool
	maximized bool
}

func (c *Conn) ID() string              { return c.id }
func (c *Conn) Session() *agent.Session { return c.session }

// Visibility reports the widget's last reported open and maximized state.
func (c *Conn) Visibility() (open, maximized bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open, c.maximized
}

// FeedPCM16K routes microphone audio to the server-side recognizer.
func (c *Conn) FeedPCM16K(pcm []byte) error {
	if c.capture == nil {
		return agent.ErrCapabilityUnavailable
	}
	if c.barge != nil {
		c.barge.FeedMic16k(pcm)
	}
	return c.capture.SendPCM16KLE(pcm)
}

// AttachSpeaker sends server-synthesized speech to sink instead of the
// websocket until the returned detach func is called.
func (c *Conn) AttachSpeaker(sink tts.PCMSink) (detach func(), err error) {
	if c.player == nil {
		return nil, ErrNoServerAudio
	}
	c.player.SetSink(sink)
	return func() { c.player.SetSink(audioSink{c}) }, nil
}

// CancelSpeech silences whatever the session is saying.
func (c *Conn) CancelSpeech() {
	if c.output != nil {
		c.output.CancelAll()
	}
}

// Done is closed when the connection has shut down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// listenForBargeIn silences server speech when the user talks over it.
func (c *Conn) listenForBargeIn(cfg barge.Config) {
	c.barge = barge.NewDetector(cfg, c.player.Speaking, func(cues barge.Cues) {
		c.logger.Info("barge-in", "vad", cues.VAD, "asr", cues.ASR)
		c.CancelSpeech()
	})
}

func (c *Conn) send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.enqueue(outbound{data: b})
}

func (c *Conn) sendBinary(pcm []byte) error {
	return c.enqueue(outbound{binary: true, data: pcm})
}

func (c *Conn) enqueue(o outbound) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.out <- o:
		return nil
	case <-c.done:
		return ErrConnClosed
	}
}

func (c *Conn) run(first *ClientFrame, fontStep float64) {
	go c.writeLoop()
	_ = c.send(ReadyFrame{
		Type:      TypeReady,
		SessionID: c.id,
		History:   c.session.History(),
		Settings:  c.session.Settings(),
		Locales:   c.locales,
		FontStep:  fontStep,
	})
	if first != nil {
		c.handle(*first)
	}
	c.readLoop()
	c.close()
}

func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// close disposes the connection and its session. It runs once, either when
// the read loop ends or when the registry is shut down.
func (c *Conn) close() {
	c.disposeOnce.Do(func() {
		c.shutdown()
		c.registry.remove(c)
		if c.capture != nil {
			c.capture.Stop()
		}
		c.session.Close()
		c.logger.Info("widget disconnected")
	})
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case o := <-c.out:
			mt := websocket.TextMessage
			if o.binary {
				mt = websocket.BinaryMessage
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(mt, o.data); err != nil {
				c.logger.Debug("write failed", "error", err)
				c.shutdown()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) readLoop() {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("read failed", "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		switch mt {
		case websocket.BinaryMessage:
			if err := c.FeedPCM16K(data); err != nil {
				c.logger.Debug("audio dropped", "error", err)
			}
		case websocket.TextMessage:
			var f ClientFrame
			if err := json.Unmarshal(data, &f); err != nil {
				_ = c.send(errorFrame(fmt.Errorf("%w: %v", errBadFrame, err)))
				continue
			}
			c.handle(f)
		}
	}
}

func (c *Conn) handle(f ClientFrame) {
	if err := c.dispatch(f); err != nil {
		c.logger.Debug("frame rejected", "type", f.Type, "error", err)
		_ = c.send(errorFrame(err))
	}
}

func (c *Conn) dispatch(f ClientFrame) error {
	switch f.Type {
	case TypeHello:
		// capabilities are fixed when the connection is accepted
	case TypeInput:
		text := ""
		if f.Text != nil {
			text = *f.Text
		}
		c.session.SetInput(text)
	case TypeSubmit:
		var err error
		if f.Text != nil {
			err = c.session.SubmitText(*f.Text)
		} else {
			err = c.session.SubmitInput()
		}
		return rejected(err)
	case TypeVoiceBegin:
		return c.session.BeginVoiceCapture()
	case TypeVoiceToggle:
		c.session.ToggleVoiceOutput()
	case TypeLocaleSet:
		loc, err := agent.ParseLocale(f.Locale)
		if err != nil {
			return fmt.Errorf("%w: %q", err, f.Locale)
		}
		if !c.offers(loc) {
			return fmt.Errorf("%w: %s is not offered", agent.ErrInvalidLocale, loc)
		}
		return c.session.SetLocale(loc)
	case TypeFontAdjust:
		c.session.AdjustFontScale(f.Delta)
	case TypeCaptureResult:
		if c.relay != nil {
			c.relay.result(f.Transcript)
		}
	case TypeCaptureEnd:
		if c.relay != nil {
			c.relay.end()
		}
	case TypeSpeechDone:
		c.logger.Debug("browser finished speaking")
	case TypeWidget:
		c.mu.Lock()
		if f.Open != nil {
			c.open = *f.Open
		}
		if f.Maximized != nil {
			c.maximized = *f.Maximized
		}
		c.mu.Unlock()
	default:
		return fmt.Errorf("%w: %q", errUnknownFrame, f.Type)
	}
	return nil
}

func (c *Conn) offers(loc agent.Locale) bool {
	if len(c.locales) == 0 {
		return true
	}
	for _, l := range c.locales {
		if l == loc {
			return true
		}
	}
	return false
}

// rejected records why a submission was dropped. Blank input is ignored
// without telling the widget.
func rejected(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, agent.ErrEmptyInput):
		metrics.SubmissionsRejected.WithLabelValues("empty").Inc()
		return nil
	case errors.Is(err, agent.ErrBusy):
		metrics.SubmissionsRejected.WithLabelValues("busy").Inc()
	case errors.Is(err, agent.ErrSessionClosed):
		metrics.SubmissionsRejected.WithLabelValues("closed").Inc()
	}
	return err
}
