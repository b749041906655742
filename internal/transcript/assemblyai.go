// Package transcript captures speech on the server by streaming microphone
// PCM to AssemblyAI and reporting cumulative transcripts.
package transcript

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gorilla/websocket"

	"github.com/chadiek/sahayak/internal/agent"
	"github.com/chadiek/sahayak/internal/metrics"
)

// DefaultURL is the AssemblyAI v3 streaming endpoint.
const DefaultURL = "wss://streaming.assemblyai.com/v3/ws"

const (
	// silenceThreshold is the inactivity window before an utterance is complete.
	silenceThreshold = 700 * time.Millisecond
	// continuationExtension is added when the last word suggests more is coming.
	continuationExtension = 1200 * time.Millisecond
	// stabilizationGrace absorbs late transcript updates before ending.
	stabilizationGrace = 250 * time.Millisecond
	noSpeechTimeout    = 8 * time.Second
)

// ErrNotCapturing is returned when audio arrives with no capture in progress.
var ErrNotCapturing = errors.New("transcript: no capture in progress")

// AssemblyAI is an agent.SpeechCaptureProvider. Audio is pushed with
// SendPCM16KLE as 16kHz PCM16LE mono; one capture runs at a time.
type AssemblyAI struct {
	URL      string
	Silence  time.Duration
	Grace    time.Duration
	NoSpeech time.Duration

	apiKey string
	logger *slog.Logger

	mu     sync.Mutex
	active *stream
}

type BeginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type TurnMessage struct {
	Type          string `json:"type"`
	Transcript    string `json:"transcript"`
	EndOfTurn     bool   `json:"end_of_turn"`
	TurnFormatted bool   `json:"turn_is_formatted"`
}

type TerminationMessage struct {
	Type                   string  `json:"type"`
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewAssemblyAI(apiKey string, logger *slog.Logger) *AssemblyAI {
	if logger == nil {
		logger = slog.Default()
	}
	return &AssemblyAI{
		URL:      DefaultURL,
		Silence:  silenceThreshold,
		Grace:    stabilizationGrace,
		NoSpeech: noSpeechTimeout,
		apiKey:   apiKey,
		logger:   logger.With("component", "transcript.assemblyai"),
	}
}

// Supported reports whether an API key is configured.
func (a *AssemblyAI) Supported() bool { return a.apiKey != "" }

// Start dials AssemblyAI and begins a capture. A capture already running is
// ended first. events receive cumulative transcripts and exactly one OnEnd.
func (a *AssemblyAI) Start(ctx context.Context, opts agent.CaptureOptions, events agent.CaptureEvents) error {
	if !a.Supported() {
		return agent.ErrCapabilityUnavailable
	}
	u, err := url.Parse(a.URL)
	if err != nil {
		return fmt.Errorf("assemblyai: url: %w", err)
	}
	q := u.Query()
	q.Set("sample_rate", "16000")
	q.Set("encoding", "pcm_s16le")
	q.Set("format_turns", "false")
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), http.Header{"Authorization": {a.apiKey}})
	if err != nil {
		if resp != nil {
			a.logger.Warn("dial rejected", "status", resp.StatusCode)
		}
		return fmt.Errorf("assemblyai: dial: %w", err)
	}

	now := time.Now()
	s := &stream{
		owner:      a,
		conn:       conn,
		opts:       opts,
		events:     events,
		audio:      make(chan []byte, 1000),
		stopCh:     make(chan struct{}),
		logger:     a.logger.With("locale", opts.Locale),
		lastUpdate: now,
		lastVoice:  now,
	}

	a.mu.Lock()
	prev := a.active
	a.active = s
	a.mu.Unlock()
	if prev != nil {
		prev.end("replaced")
	}
	metrics.VoiceSessions.WithLabelValues("assemblyai").Inc()

	if !opts.Continuous {
		s.mu.Lock()
		s.timer = time.AfterFunc(a.NoSpeech, s.checkSilence)
		s.mu.Unlock()
	}
	go s.readLoop()
	go s.writeLoop()
	go func() {
		select {
		case <-ctx.Done():
			s.end("cancelled")
		case <-s.stopCh:
		}
	}()
	return nil
}

// SendPCM16KLE feeds microphone audio to the running capture.
func (a *AssemblyAI) SendPCM16KLE(pcm []byte) error {
	a.mu.Lock()
	s := a.active
	a.mu.Unlock()
	if s == nil {
		return ErrNotCapturing
	}
	return s.send(pcm)
}

// Stop ends the running capture, if any.
func (a *AssemblyAI) Stop() {
	a.mu.Lock()
	s := a.active
	a.mu.Unlock()
	if s != nil {
		s.end("stopped")
	}
}

func (a *AssemblyAI) release(s *stream) {
	a.mu.Lock()
	if a.active == s {
		a.active = nil
	}
	a.mu.Unlock()
}

type stream struct {
	owner  *AssemblyAI
	conn   *websocket.Conn
	opts   agent.CaptureOptions
	events agent.CaptureEvents
	audio  chan []byte
	stopCh chan struct{}
	logger *slog.Logger

	endOnce sync.Once
	writeMu sync.Mutex
	// eventMu orders OnResult against stopping, so OnEnd is always last.
	eventMu sync.Mutex

	mu         sync.Mutex
	latest     string
	lastUpdate time.Time
	lastVoice  time.Time
	timer      *time.Timer
}

func (s *stream) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

func (s *stream) send(pcm []byte) error {
	if s.stopped() {
		return ErrNotCapturing
	}
	s.detectVoiceActivity(pcm)
	select {
	case s.audio <- pcm:
	case <-s.stopCh:
		return ErrNotCapturing
	default:
		s.logger.Debug("audio buffer full, dropping frame")
	}
	return nil
}

// end terminates the upstream session and reports OnEnd exactly once.
func (s *stream) end(reason string) {
	s.endOnce.Do(func() {
		s.halt()
		s.mu.Lock()
		if s.timer != nil {
			s.timer.Stop()
		}
		final := s.latest
		s.mu.Unlock()

		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = s.conn.WriteJSON(map[string]string{"type": "Terminate"})
		_ = s.conn.Close()
		s.writeMu.Unlock()
		s.owner.release(s)

		s.logger.Debug("capture ended", "reason", reason)
		s.deliverEnd(final)
	})
}

// halt marks the stream stopped once no result is being delivered.
func (s *stream) halt() {
	s.eventMu.Lock()
	close(s.stopCh)
	s.eventMu.Unlock()
}

func (s *stream) deliverResult(text string) {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()
	if s.stopped() {
		return
	}
	s.events.OnResult(text)
}

func (s *stream) deliverEnd(final string) {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()
	if !s.opts.InterimResults && strings.TrimSpace(final) != "" {
		s.events.OnResult(final)
	}
	s.events.OnEnd()
}

func (s *stream) readLoop() {
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if !s.stopped() {
				s.logger.Warn("read failed", "error", err)
			}
			s.end("closed")
			return
		}
		s.handle(msg)
	}
}

func (s *stream) writeLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		case pcm := <-s.audio:
			s.writeMu.Lock()
			err := s.conn.WriteMessage(websocket.BinaryMessage, pcm)
			s.writeMu.Unlock()
			if err != nil {
				if !s.stopped() {
					s.logger.Warn("send audio failed", "error", err)
				}
				s.end("write")
				return
			}
		}
	}
}

func (s *stream) handle(msg []byte) {
	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &base); err != nil {
		s.logger.Warn("bad message", "error", err)
		return
	}
	switch base.Type {
	case "Begin":
		var m BeginMessage
		if err := json.Unmarshal(msg, &m); err == nil {
			s.logger.Debug("session began", "id", m.ID, "expires_at", time.Unix(m.ExpiresAt, 0).Format(time.RFC3339))
		}
	case "Turn":
		var m TurnMessage
		if err := json.Unmarshal(msg, &m); err != nil {
			s.logger.Warn("bad turn", "error", err)
			return
		}
		if m.Transcript == "" {
			return
		}
		s.mu.Lock()
		s.latest = m.Transcript
		s.lastUpdate = time.Now()
		if !s.opts.Continuous {
			if s.timer == nil {
				s.timer = time.AfterFunc(s.owner.Silence, s.checkSilence)
			} else {
				s.timer.Reset(s.owner.Silence)
			}
		}
		s.mu.Unlock()
		if s.opts.InterimResults {
			s.deliverResult(m.Transcript)
		}
	case "Termination":
		var m TerminationMessage
		if err := json.Unmarshal(msg, &m); err == nil {
			s.logger.Debug("session terminated", "audio_seconds", m.AudioDurationSeconds)
		}
		s.end("terminated")
	case "Error":
		var m ErrorMessage
		_ = json.Unmarshal(msg, &m)
		s.logger.Warn("upstream error", "error", m.Error)
		s.end("error")
	default:
		s.logger.Debug("unknown message", "type", base.Type)
	}
}

// checkSilence runs off the inactivity timer and ends the capture once
// neither transcript updates nor voice energy have been seen for long enough.
func (s *stream) checkSilence() {
	if s.stopped() {
		return
	}
	s.mu.Lock()
	if s.latest == "" {
		s.mu.Unlock()
		s.end("no-speech")
		return
	}
	if wait := s.remainingLocked(time.Now()); wait > 0 {
		s.timer.Reset(wait)
		s.mu.Unlock()
		return
	}
	settled := s.lastUpdate
	s.mu.Unlock()

	select {
	case <-s.stopCh:
		return
	case <-time.After(s.owner.Grace):
	}

	s.mu.Lock()
	if s.lastUpdate.After(settled) {
		if wait := s.remainingLocked(time.Now()); wait > 0 {
			s.timer.Reset(wait)
			s.mu.Unlock()
			return
		}
	}
	s.mu.Unlock()
	s.end("silence")
}

func (s *stream) remainingLocked(now time.Time) time.Duration {
	threshold := s.owner.Silence
	if isContinuationLikely(s.latest) {
		threshold += continuationExtension
	}
	var wait time.Duration
	if d := threshold - now.Sub(s.lastUpdate); d > wait {
		wait = d
	}
	if d := threshold - now.Sub(s.lastVoice); d > wait {
		wait = d
	}
	if wait > 0 && wait < 10*time.Millisecond {
		wait = 10 * time.Millisecond
	}
	return wait
}

// detectVoiceActivity marks voice energy in a 16kHz PCM16LE buffer by RMS.
func (s *stream) detectVoiceActivity(pcm []byte) {
	const minSamples = 160
	const voiceRMS = 250.0
	if len(pcm) < minSamples*2 {
		return
	}
	step := 2
	if len(pcm) > 3200 {
		step = 4
	}
	var sum float64
	n := 0
	for i := 0; i+1 < len(pcm); i += 2 * step {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i : i+2])))
		sum += v * v
		n++
	}
	if n == 0 || math.Sqrt(sum/float64(n)) < voiceRMS {
		return
	}
	s.mu.Lock()
	s.lastVoice = time.Now()
	s.mu.Unlock()
}

func isContinuationLikely(text string) bool {
	_, ok := continuationWords[lastWord(text)]
	return ok
}

func lastWord(text string) string {
	fields := strings.FieldsFunc(text, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsMark(r) })
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[len(fields)-1])
}

var continuationWords = map[string]struct{}{
	"and": {}, "or": {}, "but": {}, "nor": {}, "yet": {}, "so": {},
	"if": {}, "when": {}, "while": {}, "though": {}, "although": {},
	"because": {}, "since": {}, "unless": {}, "until": {}, "whereas": {},
	"also": {}, "plus": {}, "um": {}, "uh": {}, "like": {},
	"about": {}, "with": {}, "to": {}, "of": {}, "for": {}, "on": {}, "in": {}, "at": {},
	// Hindi conjunctions and postpositions
	"aur": {}, "ya": {}, "lekin": {}, "agar": {}, "ki": {}, "ke": {}, "ka": {}, "se": {}, "mein": {},
	"और": {}, "या": {}, "लेकिन": {}, "अगर": {}, "कि": {}, "के": {}, "का": {}, "से": {}, "में": {},
}
