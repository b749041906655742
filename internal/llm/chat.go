package llm

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/chadiek/sahayak/internal/gateway"
)

type Generator interface {
	Generate(ctx context.Context, prompt, locale string) (string, error)
}

// ChatHandler serves the assistant wire contract: POST {message, language}
// answered with {reply}.
func ChatHandler(gen Generator, logger *slog.Logger) echo.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "chat")
	return func(c echo.Context) error {
		var req gateway.ChatRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		}
		if strings.TrimSpace(req.Message) == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "message is required"})
		}
		if req.Language == "" {
			req.Language = "en-IN"
		}
		reply, err := gen.Generate(c.Request().Context(), req.Message, req.Language)
		if err != nil {
			logger.Warn("generate failed", "language", req.Language, "error", err)
			return c.JSON(http.StatusBadGateway, map[string]string{"error": "assistant unavailable"})
		}
		return c.JSON(http.StatusOK, gateway.ChatResponse{Reply: &reply})
	}
}
