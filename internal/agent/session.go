package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultGreeting seeds every new conversation.
const DefaultGreeting = "Hello! I am your Sahayak Assistant. How may I guide you today?"

// DefaultGatewayTimeout bounds one assistant round-trip so the busy flag cannot stick.
const DefaultGatewayTimeout = 20 * time.Second

// Deps are the collaborators a Session drives. Nil Capture, Output and Sink
// fall back to an unsupported recognizer, a silent speaker and a no-op sink.
type Deps struct {
	Gateway Gateway
	Capture SpeechCaptureProvider
	Output  SpeechOutputProvider
	Sink    EventSink
	Logger  *slog.Logger
}

// Options tunes a Session.
type Options struct {
	Greeting       string
	Settings       Settings
	GatewayTimeout time.Duration
}

// Session is the interaction controller for one widget: it owns the history,
// the input draft, the voice capture lifecycle and the busy flag.
type Session struct {
	gateway Gateway
	capture SpeechCaptureProvider
	output  SpeechOutputProvider
	sink    EventSink
	logger  *slog.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// notifyMu serializes sink delivery; outputMu orders Speak against
	// turning voice output off.
	notifyMu sync.Mutex
	outputMu sync.Mutex

	mu       sync.Mutex
	history  []Message
	input    string
	busy     bool
	voice    *voiceSession
	settings Settings
	closed   bool
	// sink calls queued in the order their state changes were made
	pending []func(EventSink)
}

// NewSession constructs a Session seeded with the greeting.
func NewSession(deps Deps, opts Options) *Session {
	if deps.Capture == nil {
		deps.Capture = unsupportedCapture{}
	}
	if deps.Output == nil {
		deps.Output = silentOutput{}
	}
	if deps.Sink == nil {
		deps.Sink = nopSink{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if opts.Greeting == "" {
		opts.Greeting = DefaultGreeting
	}
	if opts.Settings == (Settings{}) {
		opts.Settings = DefaultSettings()
	}
	if opts.Settings.Locale == "" {
		opts.Settings.Locale = LocaleEnglish
	}
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = DefaultGatewayTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		gateway:  deps.Gateway,
		capture:  deps.Capture,
		output:   deps.Output,
		sink:     deps.Sink,
		logger:   deps.Logger.With("component", "session"),
		timeout:  opts.GatewayTimeout,
		ctx:      ctx,
		cancel:   cancel,
		history:  []Message{{Role: RoleAssistant, Text: opts.Greeting}},
		settings: opts.Settings,
	}
}

// History returns a copy of the conversation in display order.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

// Input returns the current draft.
func (s *Session) Input() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input
}

// Busy reports whether an assistant round-trip is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// VoiceState reports whether a capture session is active.
func (s *Session) VoiceState() VoiceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.voice != nil {
		return VoiceCapturing
	}
	return VoiceIdle
}

// Settings returns a snapshot of the accessibility settings.
func (s *Session) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// SetInput replaces the draft with manually typed text.
func (s *Session) SetInput(text string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.input = text
	s.emitLocked(func(sink EventSink) { sink.InputChanged(text) })
	s.mu.Unlock()
	s.flush()
}

// SubmitInput sends the current draft.
func (s *Session) SubmitInput() error {
	return s.SubmitText(s.Input())
}

// SubmitText records text as a user message and starts the assistant
// round-trip. The user message is appended before SubmitText returns; the
// reply arrives later through the EventSink. Blank text yields ErrEmptyInput
// and a submission while busy yields ErrBusy; neither changes any state.
func (s *Session) SubmitText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyInput
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	msg := Message{Role: RoleUser, Text: text}
	s.history = append(s.history, msg)
	s.input = ""
	s.busy = true
	locale := s.settings.Locale
	s.wg.Add(1)
	s.emitLocked(func(sink EventSink) {
		sink.HistoryAppended(msg)
		sink.InputChanged("")
		sink.BusyChanged(true)
	})
	s.mu.Unlock()
	s.flush()

	go s.roundTrip(text, locale)
	return nil
}

func (s *Session) roundTrip(text string, locale Locale) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	started := time.Now()
	reply, err := s.send(ctx, text, locale)
	cancel()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.busy = false
	if err != nil {
		s.emitLocked(func(sink EventSink) {
			sink.Failed(err)
			sink.BusyChanged(false)
		})
		s.mu.Unlock()
		s.logger.Warn("assistant round-trip failed", "locale", locale, "error", err)
		s.flush()
		return
	}
	msg := Message{Role: RoleAssistant, Text: reply}
	s.history = append(s.history, msg)
	s.emitLocked(func(sink EventSink) {
		sink.HistoryAppended(msg)
		sink.BusyChanged(false)
	})
	s.mu.Unlock()

	s.logger.Debug("assistant replied", "locale", locale, "elapsed", time.Since(started))
	s.flush()

	if err := s.speak(reply, locale); err != nil {
		s.logger.Warn("speak reply failed", "error", err)
		s.notify(func(sink EventSink) { sink.Failed(fmt.Errorf("speak reply: %w", err)) })
	}
}

// speak reads VoiceEnabled and starts the utterance under outputMu, so a
// concurrent ToggleVoiceOutput either sees the utterance and cancels it or
// turns voice off before it starts.
func (s *Session) speak(text string, locale Locale) error {
	s.outputMu.Lock()
	defer s.outputMu.Unlock()
	s.mu.Lock()
	on := s.settings.VoiceEnabled && !s.closed
	s.mu.Unlock()
	if !on {
		return nil
	}
	return s.output.Speak(s.ctx, text, locale)
}

// emitLocked queues a sink call. s.mu must be held.
func (s *Session) emitLocked(ev func(EventSink)) {
	s.pending = append(s.pending, ev)
}

func (s *Session) notify(ev func(EventSink)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.emitLocked(ev)
	s.mu.Unlock()
	s.flush()
}

// flush delivers queued sink calls in order. When it returns, every call the
// caller queued has been delivered, by this goroutine or by the one that held
// notifyMu before it. The sink runs without s.mu held.
func (s *Session) flush() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	for {
		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		s.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, ev := range batch {
			ev(s.sink)
		}
	}
}

func (s *Session) send(ctx context.Context, text string, locale Locale) (string, error) {
	if s.gateway == nil {
		return "", &GatewayError{Op: "transport", Err: errors.New("no gateway configured")}
	}
	reply, err := s.gateway.Send(ctx, text, locale)
	if err == nil {
		return reply, nil
	}
	var ge *GatewayError
	if errors.As(err, &ge) {
		return "", err
	}
	op := "transport"
	if errors.Is(err, context.DeadlineExceeded) {
		op = "timeout"
	}
	return "", &GatewayError{Op: op, Err: err}
}

// BeginVoiceCapture starts a recognition session with the current locale.
// It is a no-op while one is already active.
func (s *Session) BeginVoiceCapture() error {
	if !s.capture.Supported() {
		return ErrCapabilityUnavailable
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.voice != nil {
		s.mu.Unlock()
		return nil
	}
	vs := &voiceSession{id: uuid.NewString(), session: s}
	s.voice = vs
	opts := CaptureOptions{Locale: s.settings.Locale, InterimResults: true, Continuous: false}
	s.emitLocked(func(sink EventSink) { sink.VoiceStateChanged(VoiceCapturing) })
	s.mu.Unlock()

	s.logger.Debug("voice capture starting", "voice_session", vs.id, "locale", opts.Locale)
	s.flush()

	if err := s.capture.Start(s.ctx, opts, vs); err != nil {
		s.mu.Lock()
		reverted := !vs.ended
		vs.ended = true
		if s.voice == vs {
			s.voice = nil
		}
		if reverted && !s.closed {
			s.emitLocked(func(sink EventSink) { sink.VoiceStateChanged(VoiceIdle) })
		}
		s.mu.Unlock()
		s.flush()
		if errors.Is(err, ErrCapabilityUnavailable) {
			return err
		}
		return fmt.Errorf("start voice capture: %w", err)
	}
	return nil
}

// voiceSession is the handle for one capture run. Its events always route to
// the Session that created it.
type voiceSession struct {
	id      string
	session *Session

	// guarded by session.mu
	last  string
	ended bool
}

func (v *voiceSession) OnResult(transcript string) { v.session.voiceResult(v, transcript) }
func (v *voiceSession) OnEnd()                     { v.session.voiceEnded(v) }

func (s *Session) voiceResult(v *voiceSession, transcript string) {
	s.mu.Lock()
	if s.closed || v.ended {
		s.mu.Unlock()
		return
	}
	v.last = transcript
	s.input = transcript
	s.emitLocked(func(sink EventSink) { sink.InputChanged(transcript) })
	s.mu.Unlock()
	s.flush()
}

func (s *Session) voiceEnded(v *voiceSession) {
	s.mu.Lock()
	if v.ended {
		s.mu.Unlock()
		return
	}
	v.ended = true
	if s.voice == v {
		s.voice = nil
	}
	if s.closed {
		s.mu.Unlock()
		return
	}
	text := v.last
	s.emitLocked(func(sink EventSink) { sink.VoiceStateChanged(VoiceIdle) })
	s.mu.Unlock()
	s.flush()

	if strings.TrimSpace(text) == "" {
		return
	}
	if err := s.SubmitText(text); err != nil {
		s.logger.Info("voice transcript not sent", "voice_session", v.id, "error", err)
		if errors.Is(err, ErrBusy) {
			s.notify(func(sink EventSink) { sink.Failed(err) })
		}
	}
}

// ToggleVoiceOutput flips spoken replies on or off and returns the new value.
// Turning it off silences any utterance in progress, and no reply is spoken
// afterwards until it is turned back on.
func (s *Session) ToggleVoiceOutput() bool {
	s.outputMu.Lock()
	s.mu.Lock()
	if s.closed {
		on := s.settings.VoiceEnabled
		s.mu.Unlock()
		s.outputMu.Unlock()
		return on
	}
	s.settings.VoiceEnabled = !s.settings.VoiceEnabled
	snap := s.settings
	s.emitLocked(func(sink EventSink) { sink.SettingsChanged(snap) })
	s.mu.Unlock()
	if !snap.VoiceEnabled {
		s.output.CancelAll()
	}
	s.outputMu.Unlock()

	s.flush()
	return snap.VoiceEnabled
}

// SetLocale changes the locale used by future captures, round-trips and speech.
func (s *Session) SetLocale(locale Locale) error {
	parsed, err := ParseLocale(string(locale))
	if err != nil {
		return fmt.Errorf("%w: %q", err, locale)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.settings.Locale = parsed
	snap := s.settings
	s.emitLocked(func(sink EventSink) { sink.SettingsChanged(snap) })
	s.mu.Unlock()
	s.flush()
	return nil
}

// AdjustFontScale adds delta to the font scale and returns the new value.
func (s *Session) AdjustFontScale(delta float64) float64 {
	s.mu.Lock()
	if s.closed {
		defer s.mu.Unlock()
		return s.settings.FontScale
	}
	s.settings.FontScale += delta
	snap := s.settings
	s.emitLocked(func(sink EventSink) { sink.SettingsChanged(snap) })
	s.mu.Unlock()
	s.flush()
	return snap.FontScale
}

// Close disposes the session. In-flight round-trips are abandoned, speech is
// cancelled and late capture events are dropped.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.voice = nil
	s.pending = nil
	s.mu.Unlock()

	s.cancel()
	s.outputMu.Lock()
	s.output.CancelAll()
	s.outputMu.Unlock()
	s.wg.Wait()
}
