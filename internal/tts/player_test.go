package tts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/sahayak/internal/agent"
)

type feed struct {
	text string
	opts SynthesizeOptions
	pcm  chan []byte
	errc chan error
}

type fakeSynth struct{ feeds chan *feed }

func newFakeSynth() *fakeSynth { return &fakeSynth{feeds: make(chan *feed, 8)} }

func (f *fakeSynth) StreamPCM48k(_ context.Context, text string, opts SynthesizeOptions) (<-chan []byte, <-chan error) {
	fd := &feed{text: text, opts: opts, pcm: make(chan []byte, 8), errc: make(chan error, 1)}
	f.feeds <- fd
	return fd.pcm, fd.errc
}

func (f *fakeSynth) next(t *testing.T) *feed {
	t.Helper()
	select {
	case fd := <-f.feeds:
		return fd
	case <-time.After(time.Second):
		t.Fatal("synthesizer was not called")
		return nil
	}
}

func (fd *feed) finish() {
	close(fd.pcm)
	close(fd.errc)
}

type recordingSink struct {
	mu      sync.Mutex
	written []byte
	flushes int
	resets  int
}

func (s *recordingSink) WritePCM(b []byte) {
	s.mu.Lock()
	s.written = append(s.written, b...)
	s.mu.Unlock()
}

func (s *recordingSink) FlushTail() {
	s.mu.Lock()
	s.flushes++
	s.mu.Unlock()
}

func (s *recordingSink) Reset() {
	s.mu.Lock()
	s.resets++
	s.mu.Unlock()
}

func (s *recordingSink) snapshot() ([]byte, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.written...), s.flushes, s.resets
}

func TestPlayer_PlaysAndFlushes(t *testing.T) {
	synth := newFakeSynth()
	sink := &recordingSink{}
	p := NewPlayer(synth, []Voice{{Name: "hi-voice", Locale: "hi-IN"}}, sink, nil)

	require.NoError(t, p.Speak(context.Background(), "namaste", agent.LocaleHindi))
	fd := synth.next(t)
	assert.Equal(t, "namaste", fd.text)
	assert.Equal(t, SynthesizeOptions{Voice: "hi-voice", Locale: agent.LocaleHindi}, fd.opts)
	assert.True(t, p.Speaking())

	fd.pcm <- []byte{1, 2}
	fd.finish()

	assert.Eventually(t, func() bool { return !p.Speaking() }, time.Second, 5*time.Millisecond)
	written, flushes, resets := sink.snapshot()
	assert.Equal(t, []byte{1, 2}, written)
	assert.Equal(t, 1, flushes)
	assert.Equal(t, 0, resets)
}

func TestPlayer_NewSpeakCancelsPrevious(t *testing.T) {
	synth := newFakeSynth()
	sink := &recordingSink{}
	p := NewPlayer(synth, nil, sink, nil)

	require.NoError(t, p.Speak(context.Background(), "first", agent.LocaleEnglish))
	first := synth.next(t)
	first.pcm <- []byte{1}
	assert.Eventually(t, func() bool { w, _, _ := sink.snapshot(); return len(w) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Speak(context.Background(), "second", agent.LocaleEnglish))
	second := synth.next(t)
	first.pcm <- []byte{9}
	second.pcm <- []byte{2}
	second.finish()

	assert.Eventually(t, func() bool { return !p.Speaking() }, time.Second, 5*time.Millisecond)
	written, flushes, resets := sink.snapshot()
	assert.Equal(t, []byte{1, 2}, written)
	assert.Equal(t, 1, flushes)
	assert.Equal(t, 1, resets)
}

func TestPlayer_CancelAll(t *testing.T) {
	synth := newFakeSynth()
	sink := &recordingSink{}
	p := NewPlayer(synth, nil, sink, nil)

	p.CancelAll()
	_, _, resets := sink.snapshot()
	assert.Equal(t, 0, resets, "cancel while idle is a no-op")

	require.NoError(t, p.Speak(context.Background(), "hello", agent.LocaleEnglish))
	fd := synth.next(t)
	p.CancelAll()
	assert.False(t, p.Speaking())
	fd.pcm <- []byte{7}
	fd.finish()

	time.Sleep(20 * time.Millisecond)
	written, flushes, resets := sink.snapshot()
	assert.Empty(t, written)
	assert.Equal(t, 0, flushes)
	assert.Equal(t, 1, resets)
}

func TestPlayer_SetSinkRedirects(t *testing.T) {
	synth := newFakeSynth()
	oldSink, newSink := &recordingSink{}, &recordingSink{}
	p := NewPlayer(synth, nil, oldSink, nil)
	p.SetSink(newSink)

	require.NoError(t, p.Speak(context.Background(), "hello", agent.LocaleEnglish))
	fd := synth.next(t)
	fd.pcm <- []byte{3}
	fd.finish()

	assert.Eventually(t, func() bool { return !p.Speaking() }, time.Second, 5*time.Millisecond)
	w, _, _ := newSink.snapshot()
	assert.Equal(t, []byte{3}, w)
	w, _, _ = oldSink.snapshot()
	assert.Empty(t, w)
}
