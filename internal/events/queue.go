package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// TaskWebhookDelivery is the asynq task type carrying one event for webhook delivery.
const TaskWebhookDelivery = "event:webhook_delivery"

// DefaultQueue is the asynq queue webhook tasks are placed on.
const DefaultQueue = "webhooks"

// Enqueuer is the subset of *asynq.Client used to publish tasks.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueNotifier hands subscribed events to a worker through asynq, so delivery
// retries survive restarts of the API process.
type QueueNotifier struct {
	Client Enqueuer
	Queue  string
	// MaxRetry bounds delivery attempts; zero keeps the asynq default.
	MaxRetry int
	// Topics restricts delivery; empty means DefaultTopics.
	Topics []string
}

// Notify implements Notifier. The event id doubles as the task id, so a
// re-emitted event is enqueued once.
func (n QueueNotifier) Notify(ctx context.Context, ev Event) error {
	if n.Client == nil || !subscribed(n.Topics, ev.Topic) {
		return nil
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: encode task: %w", err)
	}
	queue := n.Queue
	if queue == "" {
		queue = DefaultQueue
	}
	opts := []asynq.Option{asynq.Queue(queue), asynq.TaskID(ev.ID)}
	if n.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(n.MaxRetry))
	}
	_, err = n.Client.EnqueueContext(ctx, asynq.NewTask(TaskWebhookDelivery, body), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("events: enqueue %s: %w", ev.Topic, err)
	}
	return nil
}

// DeliveryHandler returns the worker side of QueueNotifier: it decodes the
// task and posts it through notifier. Undecodable payloads are not retried.
func DeliveryHandler(notifier Notifier, logger zerolog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var ev Event
		if err := json.Unmarshal(task.Payload(), &ev); err != nil {
			logger.Error().Err(err).Msg("webhook_task_malformed")
			return fmt.Errorf("events: decode task: %v: %w", err, asynq.SkipRetry)
		}
		if err := notifier.Notify(ctx, ev); err != nil {
			logger.Warn().Err(err).Str("event_id", ev.ID).Str("topic", ev.Topic).Msg("webhook_delivery_failed")
			return err
		}
		logger.Info().Str("event_id", ev.ID).Str("topic", ev.Topic).Msg("webhook_delivered")
		return nil
	}
}
