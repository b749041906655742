// Command assistant is a development implementation of the assistant
// service the widget backend talks to.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/chadiek/sahayak/internal/config"
	"github.com/chadiek/sahayak/internal/llm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	if cfg.CerebrasKey == "" {
		logger.Warn("CEREBRAS_API_KEY not set - every chat request will fail")
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.POST("/chat", llm.ChatHandler(llm.NewCerebrasClient(cfg.CerebrasKey, cfg.CerebrasModelID, logger), logger))

	go func() {
		logger.Info("assistant listening", "addr", cfg.AssistantAddr, "model", cfg.CerebrasModelID)
		if err := e.Start(cfg.AssistantAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
}
