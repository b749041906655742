package rtc

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v3/pkg/media"
)

const (
	opusFrameSamples = 960 // 20ms at 48kHz
	opusFrameTime    = 20 * time.Millisecond
	tailFrames       = 10
)

type sampleWriter interface {
	WriteSample(s media.Sample) error
}

type opusFrame struct {
	epoch uint64
	data  []byte
}

// OpusPacedWriter encodes 48kHz PCM mono to Opus and writes the frames to a
// track at real-time pace. It is a tts.PCMSink.
type OpusPacedWriter struct {
	enc    *opus.Encoder
	track  sampleWriter
	frames chan opusFrame
	stopCh chan struct{}
	// epoch advances on Reset; frames from an older epoch are never written.
	epoch atomic.Uint64

	mu      sync.Mutex
	pcmBuf  []int16
	stopped bool
}

func NewOpusPacedWriter(track sampleWriter) (*OpusPacedWriter, error) {
	enc, err := opus.NewEncoder(48000, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	w := newPacedWriter(enc, track, 512)
	go w.pacer()
	return w, nil
}

func newPacedWriter(enc *opus.Encoder, track sampleWriter, queue int) *OpusPacedWriter {
	return &OpusPacedWriter{
		enc:    enc,
		track:  track,
		frames: make(chan opusFrame, queue),
		stopCh: make(chan struct{}),
	}
}

// WritePCM buffers PCM16LE bytes and queues every complete 20ms frame.
func (w *OpusPacedWriter) WritePCM(pcm []byte) {
	if len(pcm) < 2 {
		return
	}
	w.mu.Lock()
	n := len(pcm) / 2
	for i := 0; i < n; i++ {
		w.pcmBuf = append(w.pcmBuf, int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}
	var pkts [][]byte
	for len(w.pcmBuf) >= opusFrameSamples {
		if p := w.encodeLocked(w.pcmBuf[:opusFrameSamples]); p != nil {
			pkts = append(pkts, p)
		}
		w.pcmBuf = append(w.pcmBuf[:0], w.pcmBuf[opusFrameSamples:]...)
	}
	epoch := w.epoch.Load()
	w.mu.Unlock()
	w.push(epoch, pkts)
}

// FlushTail pads the remainder to a full frame and appends ~200ms of silence
// so the end of an utterance is not clipped.
func (w *OpusPacedWriter) FlushTail() {
	w.mu.Lock()
	var pkts [][]byte
	if len(w.pcmBuf) > 0 {
		pad := make([]int16, opusFrameSamples)
		copy(pad, w.pcmBuf)
		if p := w.encodeLocked(pad); p != nil {
			pkts = append(pkts, p)
		}
		w.pcmBuf = w.pcmBuf[:0]
	}
	silence := make([]int16, opusFrameSamples)
	for i := 0; i < tailFrames; i++ {
		if p := w.encodeLocked(silence); p != nil {
			pkts = append(pkts, p)
		}
	}
	epoch := w.epoch.Load()
	w.mu.Unlock()
	w.push(epoch, pkts)
}

// Reset drops buffered PCM and every queued frame.
func (w *OpusPacedWriter) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.epoch.Add(1)
	w.pcmBuf = w.pcmBuf[:0]
	for {
		select {
		case <-w.frames:
		default:
			return
		}
	}
}

// Close stops the pacer.
func (w *OpusPacedWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped {
		w.stopped = true
		close(w.stopCh)
	}
}

func (w *OpusPacedWriter) encodeLocked(frame []int16) []byte {
	if w.enc == nil {
		return nil
	}
	buf := make([]byte, 4000)
	n, err := w.enc.Encode(frame, buf)
	if err != nil || n <= 0 {
		return nil
	}
	return buf[:n]
}

// push queues frames, giving up once a Reset has superseded them.
func (w *OpusPacedWriter) push(epoch uint64, pkts [][]byte) {
	for _, p := range pkts {
		if w.epoch.Load() != epoch {
			return
		}
		select {
		case <-w.stopCh:
			return
		case w.frames <- opusFrame{epoch: epoch, data: p}:
		}
	}
}

func (w *OpusPacedWriter) pacer() {
	ticker := time.NewTicker(opusFrameTime)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.writeNext()
		}
	}
}

// writeNext writes the oldest current-epoch frame, skipping stale ones.
func (w *OpusPacedWriter) writeNext() bool {
	for {
		select {
		case f := <-w.frames:
			if f.epoch != w.epoch.Load() {
				continue
			}
			_ = w.track.WriteSample(media.Sample{Data: f.data, Duration: opusFrameTime})
			return true
		default:
			return false
		}
	}
}
