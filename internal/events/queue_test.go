package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/checkout-settlement/internal/events"
)

type capturedTask struct {
	task *asynq.Task
	opts []asynq.Option
}

type fakeEnqueuer struct {
	tasks []capturedTask
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, capturedTask{task: task, opts: opts})
	return &asynq.TaskInfo{ID: "t", Type: task.Type()}, nil
}

func sampleEvent(topic string) events.Event {
	return events.Event{
		ID:          "evt-1",
		Topic:       topic,
		AggregateID: "sess-1",
		Payload:     json.RawMessage(`{"orderId":"501"}`),
		OccurredAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestQueueNotifierEnqueuesSubscribedTopics(t *testing.T) {
	enq := &fakeEnqueuer{}
	n := events.QueueNotifier{Client: enq, MaxRetry: 5}

	require.NoError(t, n.Notify(context.Background(), sampleEvent(events.TopicCouponApplied)))
	require.Empty(t, enq.tasks)

	require.NoError(t, n.Notify(context.Background(), sampleEvent(events.TopicOrderSubmitted)))
	require.Len(t, enq.tasks, 1)
	require.Equal(t, events.TaskWebhookDelivery, enq.tasks[0].task.Type())
	require.Len(t, enq.tasks[0].opts, 3)

	var ev events.Event
	require.NoError(t, json.Unmarshal(enq.tasks[0].task.Payload(), &ev))
	require.Equal(t, "evt-1", ev.ID)
	require.JSONEq(t, `{"orderId":"501"}`, string(ev.Payload))
}

func TestQueueNotifierTreatsDuplicateTaskAsDelivered(t *testing.T) {
	n := events.QueueNotifier{Client: &fakeEnqueuer{err: asynq.ErrTaskIDConflict}}
	require.NoError(t, n.Notify(context.Background(), sampleEvent(events.TopicOrderSubmitted)))

	n = events.QueueNotifier{Client: &fakeEnqueuer{err: errors.New("redis down")}}
	require.ErrorContains(t, n.Notify(context.Background(), sampleEvent(events.TopicOrderSubmitted)), "redis down")
}

func TestDeliveryHandler(t *testing.T) {
	var got []events.Event
	notifier := events.NotifierFunc(func(_ context.Context, ev events.Event) error {
		got = append(got, ev)
		if ev.Topic == events.TopicPaymentNotAccepted {
			return errors.New("endpoint 503")
		}
		return nil
	})
	handler := events.DeliveryHandler(notifier, zerolog.Nop())

	body, err := json.Marshal(sampleEvent(events.TopicPaymentConfirmed))
	require.NoError(t, err)
	require.NoError(t, handler(context.Background(), asynq.NewTask(events.TaskWebhookDelivery, body)))
	require.Len(t, got, 1)
	require.Equal(t, "sess-1", got[0].AggregateID)

	body, err = json.Marshal(sampleEvent(events.TopicPaymentNotAccepted))
	require.NoError(t, err)
	err = handler(context.Background(), asynq.NewTask(events.TaskWebhookDelivery, body))
	require.Error(t, err)
	require.False(t, errors.Is(err, asynq.SkipRetry))

	err = handler(context.Background(), asynq.NewTask(events.TaskWebhookDelivery, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
