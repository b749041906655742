package barge

import (
	"encoding/binary"
	"math"
	"strings"
	"sync"
	"time"
	"unicode"
)

// Detector watches microphone audio and running transcripts while speech is
// playing and fires once per utterance when the user starts talking.
type Detector struct {
	cfg       Config
	speaking  func() bool
	onTrigger func(Cues)
	now       func() time.Time

	mu          sync.Mutex
	active      bool
	pending     []int16
	votes       []bool
	voicedMs    int
	baseTokens  int
	spoken      map[string]struct{}
	lastTrigger time.Time
}

// NewDetector returns a Detector that only listens while speaking reports true.
func NewDetector(cfg Config, speaking func() bool, onTrigger func(Cues)) *Detector {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.VoteWinMs < 10 {
		cfg.VoteWinMs = 10
	}
	return &Detector{
		cfg:        cfg,
		speaking:   speaking,
		onTrigger:  onTrigger,
		now:        time.Now,
		baseTokens: -1,
		spoken:     map[string]struct{}{},
	}
}

// NotifySpoken registers the words of the utterance being played so their
// echo in the transcript is not mistaken for the user.
func (d *Detector) NotifySpoken(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spoken = map[string]struct{}{}
	for _, w := range words(text) {
		d.spoken[w] = struct{}{}
	}
}

// FeedMic16k feeds PCM16LE at the configured rate, split into 10ms frames.
func (d *Detector) FeedMic16k(pcm []byte) {
	if !d.listening() {
		return
	}
	frame := d.cfg.SampleRate / 100
	d.mu.Lock()
	for i := 0; i+1 < len(pcm); i += 2 {
		d.pending = append(d.pending, int16(binary.LittleEndian.Uint16(pcm[i:])))
	}
	fire := false
	for len(d.pending) >= frame && !fire {
		fire = d.vote(rms(d.pending[:frame]) >= d.cfg.Threshold)
		d.pending = d.pending[frame:]
	}
	if fire {
		fire = d.armLocked()
	}
	d.mu.Unlock()
	if fire {
		d.onTrigger(Cues{VAD: true})
	}
}

// NotifyPartial supplies the running transcript. Growth by Tokens new words
// that were not just spoken by the assistant counts as talking.
func (d *Detector) NotifyPartial(text string) {
	if !d.listening() {
		return
	}
	d.mu.Lock()
	n := 0
	for _, w := range words(text) {
		if _, echo := d.spoken[w]; !echo && !isStopword(w) {
			n++
		}
	}
	fire := false
	if d.baseTokens < 0 {
		d.baseTokens = n
	} else if n-d.baseTokens >= d.cfg.Tokens {
		fire = d.armLocked()
	}
	d.mu.Unlock()
	if fire {
		d.onTrigger(Cues{ASR: true})
	}
}

// listening tracks speaking transitions and resets the windows on each one.
func (d *Detector) listening() bool {
	on := d.speaking()
	d.mu.Lock()
	defer d.mu.Unlock()
	if on != d.active {
		d.active = on
		d.resetLocked()
	}
	return on
}

func (d *Detector) vote(voiced bool) bool {
	d.votes = append(d.votes, voiced)
	if limit := d.cfg.VoteWinMs / 10; len(d.votes) > limit {
		d.votes = d.votes[len(d.votes)-limit:]
	}
	yes := 0
	for _, v := range d.votes {
		if v {
			yes++
		}
	}
	if voiced && yes*2 > len(d.votes) {
		d.voicedMs += 10
	} else if !voiced {
		d.voicedMs = 0
	}
	return d.voicedMs >= d.cfg.VoiceMs
}

// armLocked reports whether a trigger may fire now and records it.
func (d *Detector) armLocked() bool {
	now := d.now()
	if !d.lastTrigger.IsZero() && now.Sub(d.lastTrigger) < time.Duration(d.cfg.HoldOffMs)*time.Millisecond {
		return false
	}
	d.lastTrigger = now
	d.resetLocked()
	return true
}

func (d *Detector) resetLocked() {
	d.pending = d.pending[:0]
	d.votes = d.votes[:0]
	d.voicedMs = 0
	d.baseTokens = -1
}

func rms(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(frame)))
}

func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsMark(r) && !unicode.IsDigit(r)
	})
}

func isStopword(s string) bool {
	switch s {
	case "the", "a", "an", "and", "or", "to", "of", "in", "on", "for", "is", "it", "uh", "um", "hmm",
		"है", "और", "का", "की", "के":
		return true
	}
	return false
}
