package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/sahayak/internal/agent"
)

func drain(t *testing.T, pcm <-chan []byte, errc <-chan error) ([]byte, error) {
	t.Helper()
	var out []byte
	var err error
	timeout := time.After(2 * time.Second)
	for pcm != nil || errc != nil {
		select {
		case b, ok := <-pcm:
			if !ok {
				pcm = nil
				continue
			}
			out = append(out, b...)
		case e, ok := <-errc:
			if !ok {
				errc = nil
				continue
			}
			err = e
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}
	return out, err
}

func TestDeepgram_NoKey(t *testing.T) {
	d := NewDeepgramClient("", "", nil)
	pcm, errc := d.StreamPCM48k(context.Background(), "hello", SynthesizeOptions{})
	_, err := drain(t, pcm, errc)
	assert.ErrorIs(t, err, errDeepgramKey)
}

func TestElevenLabs_StreamsPCM(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/text-to-speech/voice-hi/stream", r.URL.Path)
		assert.Equal(t, "pcm_48000", r.URL.Query().Get("output_format"))
		assert.Equal(t, "key", r.Header.Get("xi-api-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte{1, 2, 3, 4})
	}))
	defer srv.Close()

	e := NewElevenLabsClient("key", "default-voice", nil)
	e.BaseURL = srv.URL
	pcm, errc := e.StreamPCM48k(context.Background(), "namaste", SynthesizeOptions{Voice: "voice-hi", Locale: agent.LocaleHindi})
	out, err := drain(t, pcm, errc)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, out)
	assert.Equal(t, "namaste", body["text"])
	assert.Equal(t, "hi", body["language_code"])
}

func TestElevenLabs_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	e := NewElevenLabsClient("key", "v", nil)
	e.BaseURL = srv.URL
	pcm, errc := e.StreamPCM48k(context.Background(), "hi", SynthesizeOptions{})
	_, err := drain(t, pcm, errc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=429")
}

func TestElevenLabs_MissingVoice(t *testing.T) {
	e := NewElevenLabsClient("key", "", nil)
	pcm, errc := e.StreamPCM48k(context.Background(), "hi", SynthesizeOptions{})
	_, err := drain(t, pcm, errc)
	assert.Error(t, err)
}
