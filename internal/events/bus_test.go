package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/checkout-settlement/internal/events"
	"github.com/noah-isme/checkout-settlement/internal/resilience"
)

type captureNotifier struct {
	events []events.Event
}

func (c *captureNotifier) Notify(_ context.Context, ev events.Event) error {
	c.events = append(c.events, ev)
	return nil
}

func TestEmitFansOut(t *testing.T) {
	first := &captureNotifier{}
	failing := events.NotifierFunc(func(context.Context, events.Event) error { return errors.New("down") })
	second := &captureNotifier{}
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	bus := events.Bus{Notifiers: []events.Notifier{first, failing, nil, second}, Now: func() time.Time { return fixed }}

	ev, err := bus.Emit(context.Background(), events.TopicOrderSubmitted, "sess-1", map[string]any{"orderId": "501"})
	require.Error(t, err)
	require.Len(t, first.events, 1)
	require.Len(t, second.events, 1, "a failing notifier does not stop the rest")
	require.Equal(t, ev.ID, second.events[0].ID)
	require.Equal(t, fixed, ev.OccurredAt)
	require.JSONEq(t, `{"orderId":"501"}`, string(ev.Payload))
}

func TestEmitValidates(t *testing.T) {
	var bus events.Bus
	_, err := bus.Emit(context.Background(), " ", "sess", nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), events.TopicCouponApplied, "", nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), events.TopicCouponApplied, "sess", []byte("{nope"))
	require.Error(t, err)

	ev, err := bus.Emit(context.Background(), events.TopicCouponApplied, "sess", nil)
	require.NoError(t, err)
	require.JSONEq(t, `{}`, string(ev.Payload))

	var nilBus *events.Bus
	_, err = nilBus.Emit(context.Background(), events.TopicCouponApplied, "sess", nil)
	require.NoError(t, err)
}

func TestWebhookSignatureAndFiltering(t *testing.T) {
	type recorded struct {
		req  *http.Request
		body []byte
	}
	received := make(chan recorded, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- recorded{req: r, body: body}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	hook := &events.WebhookNotifier{
		URL:    srv.URL,
		Secret: "secret",
		HTTP: &resilience.HTTPClient{
			Client:      srv.Client(),
			Breaker:     resilience.NewBreaker(resilience.BreakerConfig{MinRequests: 1, FailureRatio: 1, OpenFor: time.Second}),
			MaxAttempts: 1,
			Timeout:     time.Second,
		},
	}
	bus := events.Bus{Notifiers: []events.Notifier{hook}}

	_, err := bus.Emit(context.Background(), events.TopicCouponApplied, "sess", nil)
	require.NoError(t, err)
	require.Len(t, received, 0, "topic outside the default subscription is skipped")

	ev, err := bus.Emit(context.Background(), events.TopicOrderSubmitted, "sess", map[string]string{"orderId": "501"})
	require.NoError(t, err)
	rec := <-received
	require.Equal(t, "application/json", rec.req.Header.Get("Content-Type"))
	require.Equal(t, ev.ID, rec.req.Header.Get("X-Event-ID"))
	ts, err := strconv.ParseInt(rec.req.Header.Get("X-Timestamp"), 10, 64)
	require.NoError(t, err)
	require.Equal(t, events.ComputeSignature("secret", ts, ev.ID, rec.body), rec.req.Header.Get("X-Signature"))

	var decoded events.Event
	require.NoError(t, json.Unmarshal(rec.body, &decoded))
	require.Equal(t, events.TopicOrderSubmitted, decoded.Topic)
}

func TestWebhookRejectsPlainHTTPRemote(t *testing.T) {
	hook := &events.WebhookNotifier{URL: "http://hooks.example.com/x", HTTP: &resilience.HTTPClient{Client: http.DefaultClient}}
	err := hook.Notify(context.Background(), events.Event{Topic: events.TopicOrderSubmitted})
	require.Error(t, err)
}
