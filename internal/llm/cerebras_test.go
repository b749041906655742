package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCerebras_NoKey(t *testing.T) {
	c := NewCerebrasClient("", "model", nil)
	_, err := c.Generate(context.Background(), "hi", "en-IN")
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestCerebras_Generate(t *testing.T) {
	var got chatCompletionsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"model":"m","choices":[{"index":0,"message":{"role":"assistant","content":"  नमस्ते  "}}]}`))
	}))
	defer srv.Close()

	c := NewCerebrasClient("key", "model", nil)
	c.Endpoint = srv.URL
	reply, err := c.Generate(context.Background(), "hello", "hi-IN")
	require.NoError(t, err)
	assert.Equal(t, "नमस्ते", reply)
	require.Len(t, got.Messages, 2)
	assert.Contains(t, got.Messages[0].Content, "Hindi")
	assert.Equal(t, "hello", got.Messages[1].Content)
	assert.Equal(t, "model", got.Model)
}

func TestCerebras_HTTPFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status_non_2xx", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500); _, _ = w.Write([]byte("oops")) }},
		{"bad_json", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("not-json")) }},
		{"empty_choices", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(200)
			_, _ = w.Write([]byte(`{"choices":[]}`))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			c := NewCerebrasClient("key", "model", nil)
			c.HTTPClient = &http.Client{Timeout: 1 * time.Second, Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
				req.URL.Scheme = "http"
				req.URL.Host = srv.Listener.Addr().String()
				return http.DefaultTransport.RoundTrip(req)
			})}
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_, err := c.Generate(ctx, "hi", "en-IN")
			assert.Error(t, err)
		})
	}
}

func TestSystemPrompt(t *testing.T) {
	assert.Contains(t, systemPrompt("hi-IN"), "reply in Hindi")
	assert.Contains(t, systemPrompt("en-IN"), "reply in English")
	assert.Contains(t, systemPrompt("???"), "reply in English")
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
