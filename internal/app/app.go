package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/checkout-settlement/internal/cache"
	"github.com/noah-isme/checkout-settlement/internal/checkout"
	"github.com/noah-isme/checkout-settlement/internal/config"
	"github.com/noah-isme/checkout-settlement/internal/countries"
	"github.com/noah-isme/checkout-settlement/internal/coupon"
	"github.com/noah-isme/checkout-settlement/internal/events"
	"github.com/noah-isme/checkout-settlement/internal/obs"
	"github.com/noah-isme/checkout-settlement/internal/policy"
	"github.com/noah-isme/checkout-settlement/internal/ratelimit"
	"github.com/noah-isme/checkout-settlement/internal/resilience"
	"github.com/noah-isme/checkout-settlement/internal/storefront"
	"github.com/noah-isme/checkout-settlement/internal/submission"
)

// App holds the wired dependencies of the API process.
type App struct {
	Config     *config.Config
	Logger     zerolog.Logger
	Redis      redis.UniversalClient
	Storefront *storefront.Client
	Countries  *countries.Directory
	Events     *events.Bus
	Service    *checkout.Service
	Handler    *checkout.Handler
	Limiter    ratelimit.Allower

	queue   *asynq.Client
	closers []func() error
}

// New wires the API dependencies. Redis is optional; without it the country
// cache, idempotency guard and webhook queue are disabled and rate limiting
// stays in process.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	if cfg.MetricsEnabled {
		obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)
		resilience.MustRegisterMetrics(cfg.MetricsNamespace, nil)
		ratelimit.MustRegisterMetrics(cfg.MetricsNamespace, nil)
	}

	if cfg.RedisURL != "" {
		rdb, err := NewRedis(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		a.Redis = rdb
		a.closers = append(a.closers, rdb.Close)
	}

	sf, err := storefront.New(storefront.Options{
		BaseURL: cfg.StorefrontBaseURL,
		Token:   cfg.StorefrontToken,
		HTTP:    storefront.NewHTTPClient("storefront", cfg.UpstreamTimeout, cfg.UpstreamAttempts, breakerConfig(cfg, &a.Logger)),
		Logger:  obs.WithComponent(logger, "storefront"),
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Storefront = sf
	a.Countries = countries.New(sf, cache.NewJSON(a.Redis, "checkout", cfg.CountryCacheTTL), cfg.CountryCacheTTL, obs.WithComponent(logger, "countries"))

	registry, err := policy.NewRegistry(a.Countries, obs.WithComponent(logger, "policy"), policy.DefaultMethods()...)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	catalog, err := coupon.NewStaticCatalog(coupon.DefaultCoupons()...)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Events = &events.Bus{Notifiers: []events.Notifier{events.LogNotifier{Logger: obs.WithComponent(logger, "events")}}}
	if err := a.wireWebhooks(cfg); err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Service = &checkout.Service{
		Store:             checkout.NewStore(),
		Registry:          registry,
		Catalog:           catalog,
		Converter:         sf,
		Quotes:            sf,
		Submitter:         &submission.Submitter{Orders: sf, Payments: sf, Logger: obs.WithComponent(logger, "submission")},
		Events:            a.Events,
		ConversionTimeout: cfg.ConversionTimeout,
		Logger:            obs.WithComponent(logger, "checkout"),
	}

	limiter, err := a.newLimiter(cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Limiter = limiter
	convertLimit := ratelimit.Handler{
		Limiter: limiter,
		Config: ratelimit.Config{
			Name:   "convert",
			Key:    ratelimit.SessionKey,
			Window: cfg.RateLimitWindow,
			Max:    cfg.RateLimitMax,
		},
		OnError: func(err error) { logger.Warn().Err(err).Msg("ratelimit_error") },
	}
	idem := checkoutIdem(a.Redis, cfg.IdempotencyTTL, logger)

	a.Handler = &checkout.Handler{
		Svc:             a.Service,
		Validate:        validator.New(validator.WithRequiredStructEnabled()),
		Locale:          cfg.DisplayLocale,
		ConversionLimit: convertLimit.Middleware,
		SubmitGuard:     idem.Middleware,
	}
	return a, nil
}

// NewRedis connects and instruments a client for cfg.RedisURL.
func NewRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(rdb); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// NewWebhookNotifier builds the signed webhook sender used inline or by the worker.
func NewWebhookNotifier(cfg *config.Config, logger *zerolog.Logger) *events.WebhookNotifier {
	breaker := breakerConfig(cfg, logger)
	breaker.Target = "webhook"
	return &events.WebhookNotifier{
		URL:    cfg.WebhookURL,
		Secret: cfg.WebhookSecret,
		HTTP: &resilience.HTTPClient{
			Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
			Breaker:     resilience.NewBreaker(breaker),
			BaseBackoff: 200 * time.Millisecond,
			MaxAttempts: 1,
			Timeout:     cfg.UpstreamTimeout,
		},
	}
}

func (a *App) wireWebhooks(cfg *config.Config) error {
	if cfg.WebhookURL == "" {
		return nil
	}
	if cfg.RedisURL == "" {
		a.Logger.Warn().Msg("webhook_delivery_inline")
		a.Events.Notifiers = append(a.Events.Notifiers, NewWebhookNotifier(cfg, &a.Logger))
		return nil
	}
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis uri for queue: %w", err)
	}
	a.queue = asynq.NewClient(opt)
	a.closers = append(a.closers, a.queue.Close)
	a.Events.Notifiers = append(a.Events.Notifiers, events.QueueNotifier{
		Client:   a.queue,
		Queue:    cfg.WebhookQueue,
		MaxRetry: cfg.WebhookMaxRetry,
	})
	return nil
}

func (a *App) newLimiter(cfg *config.Config) (ratelimit.Allower, error) {
	if a.Redis == nil {
		return ratelimit.NewMemory("checkout"), nil
	}
	if cfg.RateLimitStrategy == "fixed" {
		return ratelimit.NewRedisFixed(a.Redis, "checkout:ratelimit")
	}
	return ratelimit.SlidingWindow{Client: a.Redis, Prefix: "checkout:"}, nil
}

// Close releases connections in reverse order of creation.
func (a *App) Close() error {
	var errs error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = errors.Join(errs, a.closers[i]())
	}
	a.closers = nil
	return errs
}

func breakerConfig(cfg *config.Config, logger *zerolog.Logger) resilience.BreakerConfig {
	return resilience.BreakerConfig{
		MinRequests:  cfg.BreakerMinReqs,
		FailureRatio: cfg.BreakerRatio,
		OpenFor:      cfg.BreakerOpenFor,
		Logger:       logger,
	}
}
