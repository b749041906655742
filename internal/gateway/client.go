// Package gateway talks to the remote assistant service.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chadiek/sahayak/internal/agent"
	"github.com/chadiek/sahayak/internal/metrics"
)

// DefaultEndpoint is where the reference assistant service listens.
const DefaultEndpoint = "http://localhost:5000/chat"

// Client posts chat messages to the assistant service. It implements agent.Gateway.
type Client struct {
	HTTPClient *http.Client
	Endpoint   string
}

// ChatRequest is the wire request body.
type ChatRequest struct {
	Message  string `json:"message"`
	Language string `json:"language"`
}

// ChatResponse is the wire response body. Reply is a pointer so a missing
// field can be told apart from an empty answer.
type ChatResponse struct {
	Reply *string `json:"reply"`
}

// New returns a Client with the given per-request timeout.
func New(endpoint string, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		HTTPClient: &http.Client{Timeout: timeout},
		Endpoint:   endpoint,
	}
}

// Send delivers message and returns the assistant's reply verbatim.
func (c *Client) Send(ctx context.Context, message string, locale agent.Locale) (reply string, err error) {
	started := time.Now()
	defer func() {
		metrics.GatewayLatency.Observe(time.Since(started).Seconds())
		metrics.GatewayRequests.WithLabelValues(outcome(err)).Inc()
	}()

	body, err := json.Marshal(ChatRequest{Message: message, Language: string(locale)})
	if err != nil {
		return "", &agent.GatewayError{Op: "encode", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &agent.GatewayError{Op: "transport", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		op := "transport"
		if errors.Is(err, context.DeadlineExceeded) {
			op = "timeout"
		}
		return "", &agent.GatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &agent.GatewayError{Op: "status", Status: resp.StatusCode, Err: fmt.Errorf("body=%s", bytes.TrimSpace(b))}
	}

	var cr ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", &agent.GatewayError{Op: "decode", Err: err}
	}
	if cr.Reply == nil {
		return "", &agent.GatewayError{Op: "decode", Err: errors.New("response has no reply field")}
	}
	return *cr.Reply, nil
}

func outcome(err error) string {
	var ge *agent.GatewayError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &ge):
		return ge.Op
	default:
		return "error"
	}
}
