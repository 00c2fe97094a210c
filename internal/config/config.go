package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	CORSAllowedOrigins []string
	MaxBodyBytes       int64
	EnableHSTS         bool

	LogFormat        string
	LogLevel         string
	MetricsEnabled   bool
	MetricsNamespace string
	MetricsBuckets   string
	TracingEnabled   bool
	TracingSampling  float64
	OTLPEndpoint     string
	ServiceName      string
	ServiceVersion   string
	PprofEnabled     bool
	PprofUser        string
	PprofPass        string
	ProbeTimeout     time.Duration

	StorefrontBaseURL string
	StorefrontToken   string
	UpstreamTimeout   time.Duration
	UpstreamAttempts  int
	BreakerMinReqs    int
	BreakerRatio      float64
	BreakerOpenFor    time.Duration

	RedisURL        string
	CountryCacheTTL time.Duration

	ConversionTimeout time.Duration
	SessionTTL        time.Duration
	SweepInterval     time.Duration
	DisplayLocale     string
	IdempotencyTTL    time.Duration

	RateLimitStrategy string
	RateLimitWindow   time.Duration
	RateLimitMax      int

	WebhookURL        string
	WebhookSecret     string
	WebhookQueue      string
	WebhookMaxRetry   int
	WorkerConcurrency int
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		MaxBodyBytes:       int64(parseInt(k.String("HTTP_MAX_BODY_BYTES"), 64<<10)),

		LogFormat:        valueOrDefault(k.String("LOG_FORMAT"), "json"),
		LogLevel:         valueOrDefault(k.String("LOG_LEVEL"), "info"),
		MetricsEnabled:   parseBool(k.String("OBS_ENABLE_METRICS"), true),
		MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "checkout"),
		MetricsBuckets:   k.String("OBS_METRICS_BUCKETS_MS"),
		TracingEnabled:   parseBool(k.String("OBS_ENABLE_TRACING"), false),
		TracingSampling:  parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),
		OTLPEndpoint:     k.String("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ServiceName:      valueOrDefault(k.String("OTEL_SERVICE_NAME"), "checkout-settlement"),
		ServiceVersion:   strings.TrimSpace(k.String("OTEL_SERVICE_VERSION")),
		PprofEnabled:     parseBool(k.String("OBS_ENABLE_PPROF"), false),
		PprofUser:        strings.TrimSpace(k.String("PPROF_BASIC_AUTH_USER")),
		PprofPass:        strings.TrimSpace(k.String("PPROF_BASIC_AUTH_PASS")),
		ProbeTimeout:     parseDuration(k.String("HEALTH_PROBE_TIMEOUT"), "500ms"),

		StorefrontBaseURL: strings.TrimSpace(k.String("STOREFRONT_BASE_URL")),
		StorefrontToken:   k.String("STOREFRONT_TOKEN"),
		UpstreamTimeout:   parseDuration(k.String("UPSTREAM_TIMEOUT"), "5s"),
		UpstreamAttempts:  parseInt(k.String("UPSTREAM_MAX_ATTEMPTS"), 3),
		BreakerMinReqs:    parseInt(k.String("BREAKER_MIN_REQUESTS"), 10),
		BreakerRatio:      parseFloat(k.String("BREAKER_FAILURE_RATIO"), 0.5),
		BreakerOpenFor:    parseDuration(k.String("BREAKER_OPEN_FOR"), "30s"),

		RedisURL:        strings.TrimSpace(k.String("REDIS_URL")),
		CountryCacheTTL: parseDuration(k.String("COUNTRY_CACHE_TTL"), "1h"),

		ConversionTimeout: parseDuration(k.String("CONVERSION_TIMEOUT"), "8s"),
		SessionTTL:        parseDuration(k.String("SESSION_TTL"), "30m"),
		SweepInterval:     parseDuration(k.String("SESSION_SWEEP_INTERVAL"), "1m"),
		DisplayLocale:     valueOrDefault(k.String("DISPLAY_LOCALE"), "en"),
		IdempotencyTTL:    parseDuration(k.String("IDEMPOTENCY_TTL"), "10m"),

		RateLimitStrategy: strings.ToLower(valueOrDefault(k.String("RATE_LIMIT_STRATEGY"), "sliding")),
		RateLimitWindow:   parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitMax:      parseInt(k.String("RATE_LIMIT_MAX"), 30),

		WebhookURL:        strings.TrimSpace(k.String("WEBHOOK_URL")),
		WebhookSecret:     k.String("WEBHOOK_SECRET"),
		WebhookQueue:      valueOrDefault(k.String("WEBHOOK_QUEUE"), "webhooks"),
		WebhookMaxRetry:   parseInt(k.String("WEBHOOK_MAX_RETRY"), 8),
		WorkerConcurrency: parseInt(k.String("WORKER_CONCURRENCY"), 4),
	}

	cfg.EnableHSTS = parseBool(k.String("SECURITY_ENABLE_HSTS"), cfg.IsProduction())

	if cfg.StorefrontBaseURL == "" {
		return nil, errors.New("STOREFRONT_BASE_URL is required")
	}
	if u, err := url.Parse(cfg.StorefrontBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("STOREFRONT_BASE_URL %q is not an absolute URL", cfg.StorefrontBaseURL)
	}
	if cfg.WebhookURL != "" && cfg.WebhookSecret == "" {
		return nil, errors.New("WEBHOOK_SECRET is required when WEBHOOK_URL is set")
	}
	switch cfg.RateLimitStrategy {
	case "sliding", "fixed":
	default:
		return nil, fmt.Errorf("RATE_LIMIT_STRATEGY must be sliding or fixed, got %q", cfg.RateLimitStrategy)
	}
	if cfg.BreakerRatio <= 0 || cfg.BreakerRatio > 1 {
		return nil, fmt.Errorf("BREAKER_FAILURE_RATIO must be in (0, 1], got %v", cfg.BreakerRatio)
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// IsProduction reports whether APP_ENV names a production deployment.
func (c *Config) IsProduction() bool {
	switch strings.ToLower(c.AppEnv) {
	case "production", "prod":
		return true
	default:
		return false
	}
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// MustLoad behaves like Load but panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
