package main

import (
	"github.com/noah-isme/checkout-settlement/internal/app"
	"github.com/noah-isme/checkout-settlement/internal/config"
	"github.com/noah-isme/checkout-settlement/internal/obs"
)

func main() {
	cfg := config.MustLoad()
	logger := obs.WithComponent(obs.NewLogger(cfg.LogFormat, cfg.LogLevel), "worker")

	w, err := app.NewWorker(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise worker")
	}

	logger.Info().Str("queue", cfg.WebhookQueue).Int("concurrency", cfg.WorkerConcurrency).Msg("worker starting")
	// Run blocks until SIGTERM or SIGINT and drains in-flight deliveries.
	if err := w.Server.Run(w.Mux); err != nil {
		logger.Error().Err(err).Msg("worker stopped with error")
		return
	}
	logger.Info().Msg("worker shutdown complete")
}
