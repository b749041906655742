package tts

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/chadiek/sahayak/internal/agent"
)

// DefaultSpeakBinary is the local synthesizer used by CommandSpeaker.
const DefaultSpeakBinary = "espeak-ng"

// CommandSpeaker voices text through a local speech binary that plays audio
// itself. It is used by the terminal client.
type CommandSpeaker struct {
	Binary string
	logger *slog.Logger

	mu         sync.Mutex
	voices     []Voice
	voicesRead bool
	cmd        *exec.Cmd
	cancel     context.CancelFunc
	done       chan struct{}
}

func NewCommandSpeaker(binary string, logger *slog.Logger) *CommandSpeaker {
	if binary == "" {
		binary = DefaultSpeakBinary
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandSpeaker{Binary: binary, logger: logger.With("component", "tts.command")}
}

// Supported reports whether the binary is on PATH.
func (c *CommandSpeaker) Supported() bool {
	_, err := exec.LookPath(c.Binary)
	return err == nil
}

// Voices lists the voices the binary reports. The list is read once.
func (c *CommandSpeaker) Voices(ctx context.Context) []Voice {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.voicesRead {
		return c.voices
	}
	c.voicesRead = true
	out, err := exec.CommandContext(ctx, c.Binary, "--voices").Output()
	if err != nil {
		c.logger.Warn("list voices failed", "error", err)
		return nil
	}
	c.voices = parseVoiceList(out)
	return c.voices
}

// Speak interrupts any current utterance and starts speaking text.
func (c *CommandSpeaker) Speak(ctx context.Context, text string, locale agent.Locale) error {
	args := []string{}
	if v, ok := SelectVoice(c.Voices(ctx), locale); ok {
		args = append(args, "-v", v.Name)
	}
	args = append(args, "--", text)

	c.stop()

	cctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(cctx, c.Binary, args...)
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start %s: %w", c.Binary, err)
	}
	done := make(chan struct{})
	c.mu.Lock()
	prev := c.cancel
	c.cmd, c.cancel, c.done = cmd, cancel, done
	c.mu.Unlock()
	if prev != nil {
		prev()
	}

	go func() {
		defer close(done)
		if err := cmd.Wait(); err != nil && cctx.Err() == nil {
			c.logger.Warn("speech process exited", "error", err)
		}
		cancel()
		c.mu.Lock()
		if c.cmd == cmd {
			c.cmd, c.cancel, c.done = nil, nil, nil
		}
		c.mu.Unlock()
	}()
	return nil
}

// CancelAll kills the running speech process, if any.
func (c *CommandSpeaker) CancelAll() { c.stop() }

// Speaking reports whether a speech process is running.
func (c *CommandSpeaker) Speaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cmd != nil
}

func (c *CommandSpeaker) stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cmd, c.cancel, c.done = nil, nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// parseVoiceList reads `espeak-ng --voices` output:
//
//	Pty Language       Age/Gender VoiceName          File          Other Languages
//	 5  en-gb          --/M       English_(Great_Britain) gmw/en  (en 2)
func parseVoiceList(out []byte) []Voice {
	var voices []Voice
	sc := bufio.NewScanner(bytes.NewReader(out))
	header := true
	for sc.Scan() {
		if header {
			header = false
			continue
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			continue
		}
		voices = append(voices, Voice{Name: fields[1], Locale: fields[1]})
	}
	return voices
}
