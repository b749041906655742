// Package llm answers assistant messages with a hosted chat-completions model.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

const DefaultEndpoint = "https://api.cerebras.ai/v1/chat/completions"

var ErrNoAPIKey = errors.New("cerebras api key missing")

type CerebrasClient struct {
	HTTPClient *http.Client
	Endpoint   string
	APIKey     string
	Model      string
	logger     *slog.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionsRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      chatMessage `json:"message"`
}

type chatCompletionsResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

func NewCerebrasClient(apiKey, model string, logger *slog.Logger) *CerebrasClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &CerebrasClient{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		Endpoint:   DefaultEndpoint,
		APIKey:     apiKey,
		Model:      model,
		logger:     logger.With("component", "llm"),
	}
}

// Generate answers prompt in the language of locale (a BCP 47 tag).
func (c *CerebrasClient) Generate(ctx context.Context, prompt, locale string) (string, error) {
	if c.APIKey == "" {
		return "", ErrNoAPIKey
	}
	messages := []chatMessage{
		{Role: "system", Content: systemPrompt(locale)},
		{Role: "user", Content: prompt},
	}
	reqBody, err := json.Marshal(chatCompletionsRequest{Model: c.Model, Messages: messages})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("cerebras: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("cerebras error: status=%d body=%s", resp.StatusCode, string(b))
	}
	var cr chatCompletionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("cerebras: decode: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("cerebras: empty choices")
	}
	c.logger.Debug("completion", "model", cr.Model, "locale", locale, "elapsed", time.Since(started))
	return strings.TrimSpace(cr.Choices[0].Message.Content), nil
}

// systemPrompt asks for short spoken-style answers in the caller's language.
func systemPrompt(locale string) string {
	name := "English"
	if tag, err := language.Parse(locale); err == nil {
		base, _ := tag.Base()
		if n := display.English.Languages().Name(base); n != "" {
			name = n
		}
	}
	return fmt.Sprintf("You are Sahayak, a helpful, concise assistant on a website. "+
		"Answer clearly and briefly, in plain sentences suitable for reading aloud. "+
		"Always reply in %s.", name)
}
