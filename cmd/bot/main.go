package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"vital-image-analytics/internal/analysis"
	"vital-image-analytics/internal/config"
	"vital-image-analytics/internal/gemini"
	"vital-image-analytics/internal/handlers"
	"vital-image-analytics/internal/httpclient"
	"vital-image-analytics/internal/logging"
	"vital-image-analytics/internal/mediagroup"
	"vital-image-analytics/internal/session"
	"vital-image-analytics/internal/telegram"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := cfg.ValidateBot(); err != nil {
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

	tg, err := telegram.New(telegram.Options{
		Token:        cfg.TelegramToken,
		HTTPClient:   httpClient,
		Logger:       logger,
		Debug:        cfg.Debug,
		MaxFileBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		logger.Error("telegram init failed", "err", err)
		os.Exit(1)
	}

	handler := handlers.New(handlers.Options{
		Messenger: tg,
		Analyzer:  analysis.New(analysis.Options{Model: model, Logger: logger}),
		Uploads:   session.NewStore(session.Options{MaxUploads: cfg.MaxPendingUploads}),
		Logger:    logger,
	})

	aggregator := mediagroup.New(mediagroup.Options{
		Debounce: cfg.MediaGroupDebounce,
		OnFlush:  handler.HandleMediaGroup,
	})
	handler.SetMediaGroupAggregator(aggregator)
	defer aggregator.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("bot started", "username", tg.Username(), "model", model.Name())

	updates := tg.Updates(telegram.UpdatesOptions{
		Timeout: 30 * time.Second,
	})
	defer tg.StopUpdates()

	sem := make(chan struct{}, cfg.MaxConcurrent)
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case update, ok := <-updates:
			if !ok {
				logger.Info("updates channel closed")
				return
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}

			go func(update telegram.Update) {
				defer func() { <-sem }()

				reqCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
				defer cancel()

				err := handler.HandleUpdate(reqCtx, update)
				switch {
				case err == nil, errors.Is(err, context.Canceled):
				case gemini.IsConfiguration(err):
					logger.Error("gemini rejected the api key", "err", err)
					stop()
				default:
					logger.Error("handle update failed", "err", err)
				}
			}(update)
		}
	}
}
