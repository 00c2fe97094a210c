package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/checkout-settlement/internal/config"
	"github.com/noah-isme/checkout-settlement/internal/events"
	"github.com/noah-isme/checkout-settlement/internal/resilience"
)

// Worker delivers queued webhook events.
type Worker struct {
	Server *asynq.Server
	Mux    *asynq.ServeMux
}

// NewWorker requires REDIS_URL and WEBHOOK_URL.
func NewWorker(cfg *config.Config, logger zerolog.Logger) (*Worker, error) {
	if cfg.RedisURL == "" {
		return nil, errors.New("worker: REDIS_URL is required")
	}
	if cfg.WebhookURL == "" {
		return nil, errors.New("worker: WEBHOOK_URL is required")
	}
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("worker: parse redis uri: %w", err)
	}
	if cfg.MetricsEnabled {
		resilience.MustRegisterMetrics(cfg.MetricsNamespace, nil)
	}

	onError := asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
		logger.Error().Err(err).Str("task", task.Type()).Msg("task_failed")
	})
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency:  cfg.WorkerConcurrency,
		Queues:       map[string]int{cfg.WebhookQueue: 1},
		Logger:       asynqLogger{logger: logger},
		ErrorHandler: onError,
	})
	mux := asynq.NewServeMux()
	mux.Handle(events.TaskWebhookDelivery, events.DeliveryHandler(NewWebhookNotifier(cfg, &logger), logger))
	return &Worker{Server: srv, Mux: mux}, nil
}

// asynqLogger adapts zerolog to asynq.Logger.
type asynqLogger struct {
	logger zerolog.Logger
}

func (l asynqLogger) Debug(args ...any) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }
