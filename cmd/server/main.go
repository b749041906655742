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

	"github.com/chadiek/sahayak/internal/agent"
	"github.com/chadiek/sahayak/internal/config"
	"github.com/chadiek/sahayak/internal/gateway"
	"github.com/chadiek/sahayak/internal/httpserver"
	"github.com/chadiek/sahayak/internal/rtc"
	"github.com/chadiek/sahayak/internal/telephony"
	"github.com/chadiek/sahayak/internal/transcript"
	"github.com/chadiek/sahayak/internal/tts"
	"github.com/chadiek/sahayak/internal/widget"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	locales, _ := cfg.ParsedLocales()
	defaultLocale, _ := agent.ParseLocale(cfg.DefaultLocale)
	gw := gateway.New(cfg.AssistantURL, cfg.GatewayTimeout)

	opts := widget.Options{
		Greeting:       cfg.Greeting,
		Settings:       agent.Settings{FontScale: cfg.FontScale, VoiceEnabled: true, Locale: defaultLocale},
		Locales:        locales,
		FontStep:       cfg.FontStep,
		GatewayTimeout: cfg.GatewayTimeout,
	}
	if cfg.CaptureProvider == config.CaptureAssemblyAI {
		opts.NewCapture = func() widget.ServerCapture { return transcript.NewAssemblyAI(cfg.AssemblyAIKey, logger) }
	}
	switch cfg.OutputProvider {
	case config.OutputDeepgram:
		opts.Synth = tts.NewDeepgramClient(cfg.DeepgramKey, "", logger)
		opts.Voices = tts.VoicesFromMap(cfg.DeepgramModels)
	case config.OutputElevenLabs:
		opts.Synth = tts.NewElevenLabsClient(cfg.ElevenLabsKey, "", logger)
		opts.Voices = tts.VoicesFromMap(cfg.ElevenLabsVoices)
	}

	deps := httpserver.Deps{
		Widget:        widget.NewHandler(gw, nil, opts, logger),
		Bridge:        rtc.NewBridge(cfg.ICEServersJSON, logger),
		PublicBaseURL: cfg.PublicBaseURL,
		Logger:        logger,
	}
	if cfg.TwilioAuthToken != "" {
		deps.Telephony = telephony.NewService(gw, telephony.Options{
			Greeting:       cfg.Greeting,
			Locale:         defaultLocale,
			GatewayTimeout: cfg.GatewayTimeout,
		}, logger)
		deps.TwilioAuthToken = cfg.TwilioAuthToken
	} else {
		logger.Info("TWILIO_AUTH_TOKEN not set - phone channel disabled")
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           httpserver.New(deps),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.HTTPAddress,
			"capture", cfg.CaptureProvider, "output", cfg.OutputProvider, "assistant", cfg.AssistantURL)
		serverErrors <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	case sig := <-sigChan:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
		_ = server.Close()
	}
	deps.Widget.Registry().CloseAll()
	if deps.Telephony != nil {
		deps.Telephony.Close()
	}
}
