package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/checkout-settlement/internal/resilience"
)

// ErrUpstream wraps non-2xx answers from the storefront backend.
var ErrUpstream = errors.New("storefront: upstream error")

// APIError carries the status and a trimmed body of a failed call.
type APIError struct {
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("storefront: %s returned %d: %s", e.Path, e.Status, e.Body)
}

// Unwrap lets errors.Is match ErrUpstream.
func (e *APIError) Unwrap() error { return ErrUpstream }

// Options configures a Client.
type Options struct {
	BaseURL string
	// Token is sent as a bearer credential when set.
	Token  string
	HTTP   *resilience.HTTPClient
	Logger zerolog.Logger
}

// Client talks to the storefront order, payment and settings APIs.
type Client struct {
	base   *url.URL
	token  string
	http   *resilience.HTTPClient
	logger zerolog.Logger
}

// New validates the base URL and returns a client.
func New(opts Options) (*Client, error) {
	if opts.HTTP == nil {
		return nil, errors.New("storefront: http client is required")
	}
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("storefront: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("storefront: base url %q must be absolute", opts.BaseURL)
	}
	return &Client{base: base, token: opts.Token, http: opts.HTTP, logger: opts.Logger}, nil
}

// NewHTTPClient builds a traced, retrying client for one storefront target.
func NewHTTPClient(target string, timeout time.Duration, attempts int, breaker resilience.BreakerConfig) *resilience.HTTPClient {
	breaker.Target = target
	return &resilience.HTTPClient{
		Client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		Breaker:     resilience.NewBreaker(breaker),
		BaseBackoff: 200 * time.Millisecond,
		MaxAttempts: attempts,
		Jitter:      0.2,
		Timeout:     timeout,
	}
}

type call struct {
	method string
	path   string
	query  url.Values
	in     any
	out    any
	// replayable adds an idempotency key so the transport may retry.
	replayable bool
}

func (c *Client) do(ctx context.Context, cl call) error {
	u := *c.base
	u.Path = c.base.Path + cl.path
	if len(cl.query) > 0 {
		u.RawQuery = cl.query.Encode()
	}
	var body io.Reader
	if cl.in != nil {
		data, err := json.Marshal(cl.in)
		if err != nil {
			return fmt.Errorf("storefront: encode %s: %w", cl.path, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, u.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if cl.in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if cl.replayable {
		req.Header.Set(resilience.IdempotencyHeader, uuid.NewString())
	}

	start := time.Now()
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		c.logger.Warn().Err(err).Str("path", cl.path).Dur("elapsed", time.Since(start)).Msg("storefront_call_failed")
		return fmt.Errorf("storefront: %s %s: %w", cl.method, cl.path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("storefront: read %s: %w", cl.path, err)
	}
	c.logger.Debug().Str("path", cl.path).Int("status", resp.StatusCode).Dur("elapsed", time.Since(start)).Msg("storefront_call")
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return &APIError{Path: cl.path, Status: resp.StatusCode, Body: msg}
	}
	if cl.out == nil {
		return nil
	}
	if err := json.Unmarshal(data, cl.out); err != nil {
		return fmt.Errorf("storefront: decode %s: %w", cl.path, err)
	}
	return nil
}
