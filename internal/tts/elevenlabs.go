package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

const elevenLabsModel = "eleven_flash_v2_5"

// ElevenLabsClient streams pcm_48000 audio from the ElevenLabs HTTP API.
// Voices are ElevenLabs voice IDs.
type ElevenLabsClient struct {
	APIKey  string
	VoiceID string
	BaseURL string

	httpClient *http.Client
	logger     *slog.Logger
}

func NewElevenLabsClient(apiKey, voiceID string, logger *slog.Logger) *ElevenLabsClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &ElevenLabsClient{
		APIKey:     apiKey,
		VoiceID:    voiceID,
		BaseURL:    "https://api.elevenlabs.io",
		httpClient: &http.Client{},
		logger:     logger.With("component", "tts.elevenlabs"),
	}
}

func (e *ElevenLabsClient) StreamPCM48k(ctx context.Context, text string, opts SynthesizeOptions) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 4096)
	errCh := make(chan error, 1)
	go func() {
		defer close(pcmCh)
		defer close(errCh)
		voice := opts.Voice
		if voice == "" {
			voice = e.VoiceID
		}
		if e.APIKey == "" || voice == "" {
			errCh <- errors.New("elevenlabs: api key or voice id missing")
			return
		}
		if err := e.stream(ctx, text, voice, opts, pcmCh); err != nil && ctx.Err() == nil {
			errCh <- err
		}
	}()
	return pcmCh, errCh
}

func (e *ElevenLabsClient) stream(ctx context.Context, text, voice string, opts SynthesizeOptions, pcmCh chan<- []byte) error {
	u, err := url.Parse(e.BaseURL)
	if err != nil {
		return fmt.Errorf("elevenlabs: base url: %w", err)
	}
	u.Path = "/v1/text-to-speech/" + url.PathEscape(voice) + "/stream"
	q := u.Query()
	q.Set("model_id", elevenLabsModel)
	q.Set("output_format", "pcm_48000")
	q.Set("optimize_streaming_latency", "2")
	u.RawQuery = q.Encode()

	body := map[string]any{
		"model_id": elevenLabsModel,
		"text":     text,
		"voice_settings": map[string]any{
			"stability":         0.4,
			"similarity_boost":  0.7,
			"style":             0.0,
			"use_speaker_boost": true,
		},
	}
	if lang := opts.Locale.Language(); lang != "" {
		body["language_code"] = lang
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("elevenlabs: stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("elevenlabs: status=%d body=%s", resp.StatusCode, bytes.TrimSpace(b))
	}

	chunk := make([]byte, 4096)
	first := true
	for {
		n, rerr := resp.Body.Read(chunk)
		if n > 0 {
			if first {
				e.logger.Debug("receiving audio", "voice", voice, "first_chunk", n)
				first = false
			}
			out := make([]byte, n)
			copy(out, chunk[:n])
			select {
			case pcmCh <- out:
			case <-ctx.Done():
				return nil
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return fmt.Errorf("elevenlabs: read: %w", rerr)
		}
	}
}
