package widget

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chadiek/sahayak/internal/agent"
	"github.com/chadiek/sahayak/internal/barge"
	"github.com/chadiek/sahayak/internal/tts"
)

const defaultHelloTimeout = 10 * time.Second

// Options configures every session the handler creates.
type Options struct {
	Greeting       string
	Settings       agent.Settings
	Locales        []agent.Locale
	FontStep       float64
	GatewayTimeout time.Duration
	HelloTimeout   time.Duration

	// NewCapture, when set, recognizes speech on the server instead of in the browser.
	NewCapture func() ServerCapture
	// Synth, when set, synthesizes speech on the server instead of in the browser.
	Synth  tts.Synthesizer
	Voices []tts.Voice

	// BargeIn tunes interruption of server speech by server-captured audio.
	BargeIn barge.Config

	CheckOrigin func(r *http.Request) bool
}

// Handler upgrades widget requests and runs one session per connection.
type Handler struct {
	gateway  agent.Gateway
	registry *Registry
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(gateway agent.Gateway, registry *Registry, opts Options, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if opts.HelloTimeout <= 0 {
		opts.HelloTimeout = defaultHelloTimeout
	}
	check := opts.CheckOrigin
	if check == nil {
		check = func(*http.Request) bool { return true }
	}
	return &Handler{
		gateway:  gateway,
		registry: registry,
		opts:     opts,
		logger:   logger.With("component", "widget"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  65536,
			WriteBufferSize: 65536,
			CheckOrigin:     check,
		},
	}
}

func (h *Handler) Registry() *Registry { return h.registry }

// ServeHTTP blocks for the lifetime of the connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	c, first := h.accept(ws)
	c.logger.Info("widget connected", "remote", r.RemoteAddr)
	c.run(first, h.opts.FontStep)
}

// accept waits for the hello frame and builds the session around the
// capabilities it announces. A first frame of another type is returned so
// it can be handled once the session exists.
func (h *Handler) accept(ws *websocket.Conn) (*Conn, *ClientFrame) {
	id := uuid.NewString()
	c := &Conn{
		id:       id,
		ws:       ws,
		registry: h.registry,
		locales:  h.opts.Locales,
		logger:   h.logger.With("session_id", id),
		out:      make(chan outbound, sendQueueSize),
		done:     make(chan struct{}),
	}

	var caps Capabilities
	var voices []tts.Voice
	var first *ClientFrame
	_ = ws.SetReadDeadline(time.Now().Add(h.opts.HelloTimeout))
	if mt, data, err := ws.ReadMessage(); err == nil && mt == websocket.TextMessage {
		var f ClientFrame
		if json.Unmarshal(data, &f) == nil {
			if f.Type == TypeHello {
				if f.Capabilities != nil {
					caps = *f.Capabilities
				}
				voices = f.Voices
			} else {
				first = &f
			}
		}
	}
	_ = ws.SetReadDeadline(time.Time{})

	var capture agent.SpeechCaptureProvider
	if h.opts.NewCapture != nil {
		c.capture = h.opts.NewCapture()
		capture = c.capture
	} else {
		c.relay = &relayCapture{conn: c, supported: caps.Capture}
		capture = c.relay
	}
	switch {
	case h.opts.Synth != nil:
		c.player = tts.NewPlayer(h.opts.Synth, h.opts.Voices, audioSink{c}, c.logger)
		c.output = c.player
	case caps.Output:
		c.output = &relayOutput{conn: c, voices: voices}
	}
	if c.capture != nil && c.player != nil {
		cfg := h.opts.BargeIn
		if cfg == (barge.Config{}) {
			cfg = barge.DefaultConfig()
		}
		c.listenForBargeIn(cfg)
	}

	c.session = agent.NewSession(agent.Deps{
		Gateway: h.gateway,
		Capture: capture,
		Output:  c.output,
		Sink:    eventSink{c},
		Logger:  c.logger,
	}, agent.Options{
		Greeting:       h.opts.Greeting,
		Settings:       h.opts.Settings,
		GatewayTimeout: h.opts.GatewayTimeout,
	})
	h.registry.add(c)
	return c, first
}
