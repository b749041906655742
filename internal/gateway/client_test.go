package gateway

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

func TestClient_SendsMessageAndLanguage(t *testing.T) {
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"reply":"  Namaste!  "}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	reply, err := c.Send(context.Background(), "hello", agent.LocaleHindi)
	require.NoError(t, err)
	assert.Equal(t, "  Namaste!  ", reply, "reply must be passed through verbatim")
	assert.Equal(t, ChatRequest{Message: "hello", Language: "hi-IN"}, got)
}

func TestClient_EmptyReplyIsValid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"reply":""}`))
	}))
	defer srv.Close()

	reply, err := New(srv.URL, time.Second).Send(context.Background(), "hi", agent.LocaleEnglish)
	require.NoError(t, err)
	assert.Equal(t, "", reply)
}

func TestClient_Failures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		op      string
		status  int
	}{
		{"status_non_2xx", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500); _, _ = w.Write([]byte("oops")) }, "status", 500},
		{"bad_json", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("not-json")) }, "decode", 0},
		{"missing_reply", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"answer":"hi"}`)) }, "decode", 0},
		{"null_reply", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"reply":null}`)) }, "decode", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			_, err := New(srv.URL, time.Second).Send(context.Background(), "hi", agent.LocaleEnglish)
			require.Error(t, err)
			assert.ErrorIs(t, err, agent.ErrGatewayFailure)
			var ge *agent.GatewayError
			require.ErrorAs(t, err, &ge)
			assert.Equal(t, tc.op, ge.Op)
			assert.Equal(t, tc.status, ge.Status)
		})
	}
}

func TestClient_TransportFailure(t *testing.T) {
	c := New("http://assistant.invalid/chat", time.Second)
	c.HTTPClient.Transport = roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		return nil, context.Canceled
	})
	_, err := c.Send(context.Background(), "hi", agent.LocaleEnglish)
	var ge *agent.GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "transport", ge.Op)
}

func TestClient_HonoursContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := New(srv.URL, 5*time.Second).Send(ctx, "hi", agent.LocaleEnglish)
	var ge *agent.GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "timeout", ge.Op)
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
