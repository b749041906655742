// Package tts implements speech output: streaming synthesizers, the player
// that enforces one audible utterance at a time, and a local command speaker.
package tts

import (
	"context"
	"log/slog"
	"sync"

	"github.com/chadiek/sahayak/internal/agent"
)

// SynthesizeOptions selects how text is voiced.
type SynthesizeOptions struct {
	Voice  string
	Locale agent.Locale
}

// Synthesizer streams 48kHz PCM16LE mono audio for the given text.
type Synthesizer interface {
	StreamPCM48k(ctx context.Context, text string, opts SynthesizeOptions) (<-chan []byte, <-chan error)
}

// PCMSink consumes 48kHz PCM bytes and delivers them to the listener.
type PCMSink interface {
	WritePCM(pcm []byte)
	FlushTail()
	// Reset drops any queued audio immediately.
	Reset()
}

type nopSink struct{}

func (nopSink) WritePCM(_ []byte) {}
func (nopSink) FlushTail()        {}
func (nopSink) Reset()            {}

// Player speaks through a Synthesizer into a PCMSink. A new Speak cancels the
// utterance in progress, so only the latest text is ever audible.
type Player struct {
	synth  Synthesizer
	voices []Voice
	logger *slog.Logger

	// mu is held for writing when the current utterance changes and for
	// reading while audio is handed to the sink, so no chunk of a cancelled
	// utterance reaches the sink after Reset.
	mu       sync.RWMutex
	sink     PCMSink
	gen      uint64
	cancel   context.CancelFunc
	speaking bool
}

// NewPlayer constructs a Player. voices maps locales to synthesizer voices.
func NewPlayer(synth Synthesizer, voices []Voice, sink PCMSink, logger *slog.Logger) *Player {
	if sink == nil {
		sink = nopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{synth: synth, voices: voices, sink: sink, logger: logger.With("component", "tts")}
}

// SetSink redirects future audio, cancelling whatever is playing.
func (p *Player) SetSink(sink PCMSink) {
	if sink == nil {
		sink = nopSink{}
	}
	p.mu.Lock()
	p.stopLocked()
	p.sink = sink
	p.mu.Unlock()
}

// Speak starts voicing text in locale, replacing any current utterance.
func (p *Player) Speak(ctx context.Context, text string, locale agent.Locale) error {
	opts := SynthesizeOptions{Locale: locale}
	if v, ok := SelectVoice(p.voices, locale); ok {
		opts.Voice = v.Name
	}

	p.mu.Lock()
	p.stopLocked()
	uctx, cancel := context.WithCancel(ctx)
	p.gen++
	gen := p.gen
	p.cancel = cancel
	p.speaking = true
	p.mu.Unlock()

	go p.play(uctx, gen, text, opts)
	return nil
}

// CancelAll silences the current utterance. It is safe to call when idle.
func (p *Player) CancelAll() {
	p.mu.Lock()
	p.stopLocked()
	p.mu.Unlock()
}

// Speaking reports whether an utterance is in progress.
func (p *Player) Speaking() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.speaking
}

func (p *Player) stopLocked() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.cancel = nil
	p.gen++
	p.speaking = false
	p.sink.Reset()
}

// write hands a chunk to the sink unless the utterance was superseded.
func (p *Player) write(gen uint64, b []byte) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.gen != gen {
		return false
	}
	p.sink.WritePCM(b)
	return true
}

func (p *Player) play(ctx context.Context, gen uint64, text string, opts SynthesizeOptions) {
	pcmCh, errCh := p.synth.StreamPCM48k(ctx, text, opts)
	openPCM, openErr := true, true
	for openPCM || openErr {
		select {
		case b, ok := <-pcmCh:
			if !ok {
				openPCM = false
				continue
			}
			if len(b) > 0 && !p.write(gen, b) {
				return
			}
		case e, ok := <-errCh:
			if ok && e != nil {
				p.logger.Warn("tts stream error", "error", e, "locale", opts.Locale)
			}
			if !ok {
				openErr = false
			}
		case <-ctx.Done():
			return
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return
	}
	p.cancel()
	p.cancel = nil
	p.speaking = false
	p.sink.FlushTail()
}
