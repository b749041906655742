package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
)

// DefaultDeepgramModel is used when no voice matches the requested locale.
const DefaultDeepgramModel = "aura-2-thalia-en"

const (
	deepgramIdleWindow = 400 * time.Millisecond
	deepgramMaxSpeech  = 12 * time.Second
)

var errDeepgramKey = errors.New("deepgram: API key missing")

// DeepgramClient synthesizes over the Deepgram speak websocket.
// Voices are Deepgram model names, e.g. aura-2-thalia-en.
type DeepgramClient struct {
	apiKey     string
	model      string
	sampleRate int
	encoding   string
	logger     *slog.Logger
}

func NewDeepgramClient(apiKey, model string, logger *slog.Logger) *DeepgramClient {
	if model == "" {
		model = DefaultDeepgramModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DeepgramClient{
		apiKey:     apiKey,
		model:      model,
		sampleRate: 48000,
		encoding:   "linear16",
		logger:     logger.With("component", "tts.deepgram"),
	}
}

func (d *DeepgramClient) StreamPCM48k(ctx context.Context, text string, opts SynthesizeOptions) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 4096)
	errCh := make(chan error, 1)

	go func() {
		defer close(pcmCh)
		defer close(errCh)

		if d.apiKey == "" {
			errCh <- errDeepgramKey
			return
		}
		if text == "" {
			return
		}
		model := opts.Voice
		if model == "" {
			model = d.model
		}

		var lastRecv int64
		var seenAudio atomic.Bool
		cb := &speakCallback{onBinary: func(data []byte) error {
			if len(data) == 0 {
				return nil
			}
			atomic.StoreInt64(&lastRecv, time.Now().UnixNano())
			seenAudio.Store(true)
			b := make([]byte, len(data))
			copy(b, data)
			select {
			case pcmCh <- b:
			default:
			}
			return nil
		}}

		dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, &clientinterfaces.WSSpeakOptions{
			Model:      model,
			Encoding:   d.encoding,
			SampleRate: d.sampleRate,
		}, cb)
		if err != nil {
			errCh <- fmt.Errorf("deepgram: create ws client: %w", err)
			return
		}
		defer dg.Stop()

		if ok := dg.Connect(); !ok {
			errCh <- errors.New("deepgram: connect failed")
			return
		}
		if err := dg.SpeakWithText(text); err != nil {
			errCh <- fmt.Errorf("deepgram: speak text: %w", err)
			return
		}
		if err := dg.Flush(); err != nil {
			d.logger.Warn("flush failed", "error", err)
		}

		// The socket stays open after the last frame, so the end of an
		// utterance is detected by a quiet period once audio has started.
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		deadline := time.Now().Add(deepgramMaxSpeech)
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if seenAudio.Load() && now.Sub(time.Unix(0, atomic.LoadInt64(&lastRecv))) > deepgramIdleWindow {
					return
				}
				if now.After(deadline) {
					d.logger.Warn("speech cut at deadline", "model", model)
					return
				}
			}
		}
	}()

	return pcmCh, errCh
}

type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) Error(*msginterfaces.ErrorResponse) error       { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }
func (s *speakCallback) Binary(b []byte) error {
	if s.onBinary != nil {
		return s.onBinary(b)
	}
	return nil
}
