package main

import (
	"bufio"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/chadiek/sahayak/internal/agent"
)

const helpText = `commands:
  /voice          speak your message (needs a microphone recognizer)
  /mute           toggle spoken replies
  /locale <tag>   switch language, e.g. /locale hi-IN
  /font <delta>   change the font scale
  /history        show the conversation
  /quit           leave`

var (
	assistantColor = color.New(color.FgCyan)
	userColor      = color.New(color.FgGreen)
	noticeColor    = color.New(color.FgYellow)
	errorColor     = color.New(color.FgRed, color.Bold)
)

// terminal renders session events as lines of text. It is the session's
// EventSink.
type terminal struct {
	mu  sync.Mutex
	out io.Writer
	// signalled when a round-trip finishes
	settled chan struct{}
}

func newTerminal(out io.Writer) *terminal {
	return &terminal{out: out, settled: make(chan struct{}, 1)}
}

func (t *terminal) printf(c *color.Color, format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c.Fprintf(t.out, format, args...)
}

func (t *terminal) HistoryAppended(msg agent.Message) {
	if msg.Role == agent.RoleAssistant {
		t.printf(assistantColor, "sahayak> %s\n", msg.Text)
	}
}

func (t *terminal) InputChanged(string) {}

func (t *terminal) BusyChanged(busy bool) {
	if busy {
		t.printf(noticeColor, "... thinking\n")
		return
	}
	select {
	case t.settled <- struct{}{}:
	default:
	}
}

func (t *terminal) VoiceStateChanged(state agent.VoiceState) {
	t.printf(noticeColor, "voice: %s\n", state)
}

func (t *terminal) SettingsChanged(s agent.Settings) {
	t.printf(noticeColor, "settings: locale=%s voice=%t font=%g\n", s.Locale, s.VoiceEnabled, s.FontScale)
}

func (t *terminal) Failed(err error) {
	var ge *agent.GatewayError
	if errors.As(err, &ge) {
		t.printf(errorColor, "error: could not reach the assistant (%v). Send your message again to retry.\n", err)
		return
	}
	t.printf(errorColor, "error: %v\n", err)
}

// run reads commands and messages until EOF or /quit.
func (t *terminal) run(in io.Reader, s *agent.Session) error {
	for _, m := range s.History() {
		t.HistoryAppended(m)
	}
	sc := bufio.NewScanner(in)
	for {
		t.printf(userColor, "you> ")
		if !sc.Scan() {
			t.printf(userColor, "\n")
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "/") {
			t.submit(s, line)
			continue
		}
		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)
		switch cmd {
		case "/quit", "/exit":
			return nil
		case "/help":
			t.printf(noticeColor, "%s\n", helpText)
		case "/voice":
			if err := s.BeginVoiceCapture(); err != nil {
				if errors.Is(err, agent.ErrCapabilityUnavailable) {
					t.printf(errorColor, "error: speech recognition is not available in the terminal\n")
					continue
				}
				t.Failed(err)
			}
		case "/mute":
			s.ToggleVoiceOutput()
		case "/locale":
			if err := s.SetLocale(agent.Locale(arg)); err != nil {
				t.Failed(err)
			}
		case "/font":
			delta, err := strconv.ParseFloat(arg, 64)
			if err != nil || math.IsNaN(delta) || math.IsInf(delta, 0) {
				t.printf(errorColor, "error: /font needs a number, e.g. /font 2\n")
				continue
			}
			s.AdjustFontScale(delta)
		case "/history":
			for _, m := range s.History() {
				t.printf(noticeColor, "%-9s %s\n", m.Role+":", m.Text)
			}
		default:
			t.printf(errorColor, "unknown command %s, try /help\n", cmd)
		}
	}
}

// submit sends line and waits for the round-trip to settle.
func (t *terminal) submit(s *agent.Session, line string) {
	select {
	case <-t.settled:
	default:
	}
	err := s.SubmitText(line)
	switch {
	case err == nil:
		<-t.settled
	case errors.Is(err, agent.ErrEmptyInput):
	default:
		t.Failed(err)
	}
}

var _ agent.EventSink = (*terminal)(nil)
