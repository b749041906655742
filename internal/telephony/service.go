// Package telephony runs assistant sessions over Twilio voice calls.
package telephony

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/twilio/twilio-go/twiml"

	"github.com/chadiek/sahayak/internal/agent"
	"github.com/chadiek/sahayak/internal/middleware"
)

const defaultReplyWait = 10 * time.Second

// Phrases spoken by the service itself, per base language.
var phrases = map[string]map[string]string{
	"en": {
		"hold":  "One moment please.",
		"retry": "Sorry, I could not reach the assistant. Please say that again.",
		"busy":  "I am still working on your previous question.",
	},
	"hi": {
		"hold":  "कृपया एक क्षण रुकिए।",
		"retry": "क्षमा करें, सहायक से संपर्क नहीं हो सका। कृपया फिर से कहिए।",
		"busy":  "मैं अभी आपके पिछले प्रश्न पर काम कर रहा हूँ।",
	},
}

type Options struct {
	Greeting       string
	Locale         agent.Locale
	GatewayTimeout time.Duration
	// ReplyWait bounds how long one webhook holds the call waiting for the
	// assistant before answering with a hold message.
	ReplyWait time.Duration
}

// Service handles the /twilio webhooks, one Session per CallSid.
type Service struct {
	gateway agent.Gateway
	opts    Options
	logger  *slog.Logger

	mu    sync.Mutex
	calls map[string]*call
}

func NewService(gateway agent.Gateway, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Locale == "" {
		opts.Locale = agent.LocaleEnglish
	}
	if opts.ReplyWait <= 0 {
		opts.ReplyWait = defaultReplyWait
	}
	return &Service{
		gateway: gateway,
		opts:    opts,
		logger:  logger.With("component", "telephony"),
		calls:   make(map[string]*call),
	}
}

func (s *Service) Register(e *echo.Echo, mw ...echo.MiddlewareFunc) {
	g := e.Group("/twilio", mw...)
	g.POST("/voice", s.voice)
	g.POST("/partial", s.partial)
	g.POST("/gather", s.gather)
	g.POST("/wait", s.wait)
	g.POST("/status", s.status)
}

// Len reports the number of live calls.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// Close hangs up every session.
func (s *Service) Close() {
	s.mu.Lock()
	calls := s.calls
	s.calls = make(map[string]*call)
	s.mu.Unlock()
	for _, c := range calls {
		c.session.Close()
	}
}

// lookup returns the live call for sid. Webhooks other than /twilio/voice
// never create a call, so late callbacks after hang-up cannot revive one.
func (s *Service) lookup(sid string) (*call, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[sid]
	return c, ok
}

// open returns the call for sid, creating its session on first contact.
func (s *Service) open(sid string) *call {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.calls[sid]; ok {
		return c
	}
	c := &call{sid: sid, replies: make(chan reply, 4)}
	c.session = agent.NewSession(agent.Deps{
		Gateway: s.gateway,
		Capture: gatherCapture{c},
		Output:  sayOutput{c},
		Sink:    callSink{c},
		Logger:  s.logger.With("call_sid", sid),
	}, agent.Options{
		Greeting:       s.opts.Greeting,
		Settings:       agent.Settings{FontScale: agent.DefaultSettings().FontScale, VoiceEnabled: true, Locale: s.opts.Locale},
		GatewayTimeout: s.opts.GatewayTimeout,
	})
	s.calls[sid] = c
	return c
}

func (s *Service) voice(c echo.Context) error {
	p := params(c)
	sid := p["CallSid"]
	if sid == "" {
		return c.String(http.StatusBadRequest, "missing CallSid")
	}
	s.logger.Info("call started", "call_sid", sid, "from", p["From"])
	cl := s.open(sid)
	greeting := cl.session.History()[0].Text
	return s.respond(c, cl, &twiml.VoiceSay{Message: greeting, Language: string(cl.session.Settings().Locale)})
}

func (s *Service) partial(c echo.Context) error {
	p := params(c)
	text := p["UnstableSpeechResult"]
	if text == "" {
		text = p["StableSpeechResult"]
	}
	if text == "" {
		return c.NoContent(http.StatusNoContent)
	}
	if cl, ok := s.lookup(p["CallSid"]); ok {
		cl.result(text)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Service) gather(c echo.Context) error {
	p := params(c)
	sid := p["CallSid"]
	if sid == "" {
		return c.String(http.StatusBadRequest, "missing CallSid")
	}
	cl, ok := s.lookup(sid)
	if !ok {
		return s.hangUp(c, sid)
	}
	speech := strings.TrimSpace(p["SpeechResult"])
	if speech != "" {
		cl.result(speech)
	}
	cl.end()
	if speech == "" {
		return s.respond(c, cl)
	}
	s.logger.Debug("caller said", "call_sid", sid, "confidence", p["Confidence"])
	return s.awaitReply(c, cl)
}

func (s *Service) wait(c echo.Context) error {
	sid := params(c)["CallSid"]
	if sid == "" {
		return c.String(http.StatusBadRequest, "missing CallSid")
	}
	cl, ok := s.lookup(sid)
	if !ok {
		return s.hangUp(c, sid)
	}
	return s.awaitReply(c, cl)
}

// hangUp answers a webhook for a call that already ended with an empty
// response.
func (s *Service) hangUp(c echo.Context, sid string) error {
	s.logger.Debug("webhook for unknown call", "call_sid", sid, "path", c.Path())
	return s.xml(c, nil)
}

func (s *Service) status(c echo.Context) error {
	p := params(c)
	switch p["CallStatus"] {
	case "completed", "busy", "failed", "no-answer", "canceled":
		s.mu.Lock()
		cl, ok := s.calls[p["CallSid"]]
		delete(s.calls, p["CallSid"])
		s.mu.Unlock()
		if ok {
			cl.session.Close()
			s.logger.Info("call ended", "call_sid", cl.sid, "status", p["CallStatus"])
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Service) awaitReply(c echo.Context, cl *call) error {
	timer := time.NewTimer(s.opts.ReplyWait)
	defer timer.Stop()
	locale := cl.session.Settings().Locale
	select {
	case r := <-cl.replies:
		if r.err != nil {
			key := "retry"
			if errors.Is(r.err, agent.ErrBusy) {
				key = "busy"
			}
			return s.respond(c, cl, say(key, locale))
		}
		return s.respond(c, cl, &twiml.VoiceSay{Message: r.text, Language: string(r.locale)})
	case <-timer.C:
		return s.xml(c, []twiml.Element{
			say("hold", locale),
			&twiml.VoiceRedirect{Url: "/twilio/wait", Method: http.MethodPost},
		})
	case <-c.Request().Context().Done():
		return c.Request().Context().Err()
	}
}

// respond plays lead and then listens for the caller's next utterance.
func (s *Service) respond(c echo.Context, cl *call, lead ...twiml.Element) error {
	if err := cl.session.BeginVoiceCapture(); err != nil {
		s.logger.Warn("begin capture", "call_sid", cl.sid, "error", err)
	}
	lang := string(cl.session.Settings().Locale)
	return s.xml(c, append(lead, &twiml.VoiceGather{
		Input:                       "speech",
		Language:                    lang,
		Action:                      "/twilio/gather",
		Method:                      http.MethodPost,
		PartialResultCallback:       "/twilio/partial",
		PartialResultCallbackMethod: http.MethodPost,
		SpeechTimeout:               "auto",
		ActionOnEmptyResult:         "true",
	}))
}

func (s *Service) xml(c echo.Context, elems []twiml.Element) error {
	out, err := twiml.Voice(elems)
	if err != nil {
		return c.String(http.StatusInternalServerError, "failed to build TwiML")
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/xml")
	return c.String(http.StatusOK, out)
}

func say(key string, locale agent.Locale) *twiml.VoiceSay {
	set, ok := phrases[locale.Language()]
	if !ok {
		set = phrases["en"]
	}
	return &twiml.VoiceSay{Message: set[key], Language: string(locale)}
}

// params returns the validated webhook form, or the raw form when no
// signature middleware ran.
func params(c echo.Context) map[string]string {
	if p, ok := c.Get(middleware.TwilioParamsKey).(map[string]string); ok {
		return p
	}
	out := map[string]string{}
	if form, err := c.FormParams(); err == nil {
		for k, v := range form {
			if len(v) > 0 {
				out[k] = v[0]
			}
		}
	}
	return out
}
