// Package rtc bridges a browser WebRTC audio connection to a widget session:
// microphone Opus is decoded for the server-side recognizer and synthesized
// speech is Opus-encoded back to the browser.
package rtc

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/hraban/opus"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"

	"github.com/chadiek/sahayak/internal/tts"
)

const pcm16kChunkBytes = 3200 // 100ms at 16kHz

var ErrInvalidOffer = errors.New("rtc: invalid offer")

// SessionDescription keeps webrtc types out of the transport layer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Endpoint is the widget session a peer connection attaches to.
type Endpoint interface {
	ID() string
	FeedPCM16K(pcm []byte) error
	AttachSpeaker(sink tts.PCMSink) (detach func(), err error)
	CancelSpeech()
	Done() <-chan struct{}
}

// Bridge negotiates peer connections for widget sessions.
type Bridge struct {
	iceServers []webrtc.ICEServer
	logger     *slog.Logger
}

// NewBridge parses iceServersJSON (a webrtc.ICEServer list); an empty or
// invalid value falls back to a public STUN server.
func NewBridge(iceServersJSON string, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{iceServers: parseICEServers(iceServersJSON), logger: logger.With("component", "rtc")}
}

// HandleOffer answers offer and wires the resulting media to ep.
func (b *Bridge) HandleOffer(ctx context.Context, ep Endpoint, offer SessionDescription) (SessionDescription, error) {
	if offer.Type != "offer" || offer.SDP == "" {
		return SessionDescription{}, ErrInvalidOffer
	}
	logger := b.logger.With("session_id", ep.ID())

	pc, outTrack, err := b.newPeer()
	if err != nil {
		return SessionDescription{}, err
	}
	paced, err := NewOpusPacedWriter(outTrack)
	if err != nil {
		_ = pc.Close()
		return SessionDescription{}, fmt.Errorf("rtc: opus encoder: %w", err)
	}
	detach, err := ep.AttachSpeaker(paced)
	if err != nil {
		logger.Info("speech stays on the websocket", "reason", err)
		detach = func() {}
	}

	var once sync.Once
	teardown := func() {
		once.Do(func() {
			detach()
			paced.Close()
			_ = pc.Close()
		})
	}
	go func() {
		<-ep.Done()
		teardown()
	}()

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("peer connection state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			teardown()
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != "control" {
			return
		}
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			if isCancelCommand(string(msg.Data)) {
				ep.CancelSpeech()
			}
		})
	})
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		logger.Info("remote audio track", "codec", remote.Codec().MimeType)
		dec, err := opus.NewDecoder(16000, 1)
		if err != nil {
			logger.Warn("opus decoder", "error", err)
			return
		}
		go readMic(remote, dec, ep, logger)
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		teardown()
		return SessionDescription{}, fmt.Errorf("rtc: remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		teardown()
		return SessionDescription{}, fmt.Errorf("rtc: create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		teardown()
		return SessionDescription{}, fmt.Errorf("rtc: local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		teardown()
		return SessionDescription{}, ctx.Err()
	}
	local := pc.LocalDescription()
	if local == nil {
		teardown()
		return SessionDescription{}, errors.New("rtc: no local description")
	}
	return SessionDescription{Type: "answer", SDP: local.SDP}, nil
}

func (b *Bridge) newPeer() (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(me), webrtc.WithInterceptorRegistry(ir))
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: b.iceServers})
	if err != nil {
		return nil, nil, err
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 1},
		"assistant-audio", "sahayak",
	)
	if err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	if _, err := pc.AddTrack(track); err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	return pc, track, nil
}

func readMic(remote *webrtc.TrackRemote, dec *opus.Decoder, ep Endpoint, logger *slog.Logger) {
	samples := make([]int16, 1920)
	var c chunker
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			logger.Debug("rtp read ended", "error", err)
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := dec.Decode(pkt.Payload, samples)
		if err != nil {
			continue
		}
		c.push(samples[:n], func(chunk []byte) {
			if err := ep.FeedPCM16K(chunk); err != nil {
				logger.Debug("mic audio dropped", "error", err)
			}
		})
	}
}

// chunker regroups decoded samples into fixed 100ms PCM16LE chunks.
type chunker struct{ buf []byte }

func (c *chunker) push(samples []int16, emit func([]byte)) {
	for _, s := range samples {
		c.buf = binary.LittleEndian.AppendUint16(c.buf, uint16(s))
	}
	for len(c.buf) >= pcm16kChunkBytes {
		chunk := make([]byte, pcm16kChunkBytes)
		copy(chunk, c.buf)
		emit(chunk)
		c.buf = append(c.buf[:0], c.buf[pcm16kChunkBytes:]...)
	}
}

func isCancelCommand(s string) bool {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "cancel", "stop", "stop-speaking":
		return true
	}
	return false
}

func parseICEServers(iceJSON string) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if err := json.Unmarshal([]byte(iceJSON), &servers); err == nil && len(servers) > 0 {
		return servers
	}
	return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
}
