package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/checkout-settlement/internal/resilience"
)

// WebhookNotifier posts signed events to a single endpoint.
type WebhookNotifier struct {
	URL    string
	Secret string
	// Topics restricts delivery; empty means DefaultTopics.
	Topics []string
	HTTP   *resilience.HTTPClient
	Now    func() time.Time
}

// Notify implements Notifier. Topics outside the subscription are skipped.
func (n *WebhookNotifier) Notify(ctx context.Context, ev Event) error {
	if n == nil || n.URL == "" || !n.subscribed(ev.Topic) {
		return nil
	}
	if n.HTTP == nil {
		return errors.New("events: webhook http client not configured")
	}
	ctx, span := otel.Tracer("events.WebhookNotifier").Start(ctx, "WebhookNotifier.Notify")
	defer span.End()
	span.SetAttributes(attribute.String("webhook.topic", ev.Topic), attribute.String("webhook.event_id", ev.ID))

	if err := validateURL(n.URL); err != nil {
		span.RecordError(err)
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	ts := now().Unix()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "checkout-settlement-webhooks/1.0")
	req.Header.Set("X-Event-ID", ev.ID)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Signature", ComputeSignature(n.Secret, ts, ev.ID, body))

	resp, err := n.HTTP.Do(ctx, req)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("events: deliver %s: %w", ev.Topic, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("events: deliver %s: status %d", ev.Topic, resp.StatusCode)
	}
	return nil
}

func (n *WebhookNotifier) subscribed(topic string) bool {
	return subscribed(n.Topics, topic)
}

func subscribed(topics []string, topic string) bool {
	if len(topics) == 0 {
		topics = DefaultTopics()
	}
	for _, t := range topics {
		if t == topic {
			return true
		}
	}
	return false
}

// ComputeSignature is HMAC-SHA256 over "<ts>.<eventID>.<body>" keyed by secret.
func ComputeSignature(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(eventID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if parsed.Host == "" {
		return errors.New("webhook url must include host")
	}
	switch parsed.Scheme {
	case "https":
		return nil
	case "http":
		if host := parsed.Hostname(); host == "localhost" || host == "127.0.0.1" {
			return nil
		}
		return errors.New("http webhook only allowed for localhost")
	default:
		return errors.New("webhook url must be http or https")
	}
}
