package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"vital-image-analytics/internal/analysis"
	"vital-image-analytics/internal/config"
	"vital-image-analytics/internal/gemini"
	"vital-image-analytics/internal/httpclient"
	"vital-image-analytics/internal/logging"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel)

	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout,
		Logger:     logger,
	})

	model, err := gemini.Configure(cfg.GeminiOptions(httpClient, logger))
	if err != nil {
		logger.Error("gemini configuration failed", "err", err)
		os.Exit(1)
	}

	s := &server{
		analyzer:       analysis.New(analysis.Options{Model: model, Logger: logger}),
		maxUploadBytes: cfg.MaxUploadBytes,
		requestTimeout: cfg.RequestTimeout,
		logger:         logger,
	}

	handler, err := s.routes()
	if err != nil {
		panic(err)
	}

	srv := &http.Server{
		Addr:              cfg.WebAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 30*time.Second,
		IdleTimeout:       90 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("web started", "addr", cfg.WebAddr, "model", model.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "err", err)
	}
}
