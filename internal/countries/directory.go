package countries

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/checkout-settlement/internal/cache"
	"github.com/noah-isme/checkout-settlement/internal/money"
	"github.com/noah-isme/checkout-settlement/internal/storefront"
)

// ErrCountryNotFound is returned for countries missing from the directory.
var ErrCountryNotFound = errors.New("countries: country not found")

const cacheKey = "countries:v1"

// Lister fetches the full country list from the backend.
type Lister interface {
	ListCountries(ctx context.Context) ([]storefront.Country, error)
}

// Directory resolves buyer countries to local currencies. The list is held in
// memory for TTL, shared through Redis between replicas, and concurrent
// refreshes collapse into one backend call.
type Directory struct {
	source Lister
	cache  *cache.JSON
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time

	group    singleflight.Group
	mu       sync.RWMutex
	byCode   map[string]storefront.Country
	list     []storefront.Country
	loadedAt time.Time
}

// New returns a directory. A nil cache keeps the list in memory only.
func New(source Lister, c *cache.JSON, ttl time.Duration, logger zerolog.Logger) *Directory {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Directory{source: source, cache: c, ttl: ttl, logger: logger, now: time.Now}
}

// LocalCurrency implements policy.CountryDirectory.
func (d *Directory) LocalCurrency(ctx context.Context, country string) (money.Code, error) {
	if _, err := d.Countries(ctx); err != nil {
		return "", err
	}
	key := normalise(country)
	d.mu.RLock()
	c, ok := d.byCode[key]
	d.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrCountryNotFound, country)
	}
	if c.Currency.IsZero() {
		return "", fmt.Errorf("%w: %s has no currency", ErrCountryNotFound, country)
	}
	return c.Currency, nil
}

// Countries returns the directory, refreshing it when the in-memory copy expired.
// A failed refresh serves the previous copy when there is one.
func (d *Directory) Countries(ctx context.Context) ([]storefront.Country, error) {
	d.mu.RLock()
	fresh := d.list != nil && d.now().Sub(d.loadedAt) < d.ttl
	list := d.list
	d.mu.RUnlock()
	if fresh {
		return list, nil
	}

	v, err, _ := d.group.Do(cacheKey, func() (any, error) {
		return d.refresh(ctx)
	})
	if err != nil {
		if list != nil {
			d.logger.Warn().Err(err).Int("countries", len(list)).Msg("country_directory_stale")
			return list, nil
		}
		return nil, err
	}
	return v.([]storefront.Country), nil
}

func (d *Directory) refresh(ctx context.Context) ([]storefront.Country, error) {
	var list []storefront.Country
	hit, err := d.cache.Get(ctx, cacheKey, &list)
	if err != nil {
		d.logger.Warn().Err(err).Msg("country_cache_read_failed")
	}
	if !hit || len(list) == 0 {
		if d.source == nil {
			return nil, errors.New("countries: source not configured")
		}
		list, err = d.source.ListCountries(ctx)
		if err != nil {
			return nil, fmt.Errorf("countries: list: %w", err)
		}
		if err := d.cache.Set(ctx, cacheKey, list); err != nil {
			d.logger.Warn().Err(err).Msg("country_cache_write_failed")
		}
		d.logger.Debug().Int("countries", len(list)).Msg("country_directory_fetched")
	}
	d.store(list)
	return list, nil
}

func (d *Directory) store(list []storefront.Country) {
	byCode := make(map[string]storefront.Country, len(list))
	for _, c := range list {
		byCode[normalise(c.Code)] = c
	}
	d.mu.Lock()
	d.list = list
	d.byCode = byCode
	d.loadedAt = d.now()
	d.mu.Unlock()
}

// Invalidate drops both the memory and Redis copies.
func (d *Directory) Invalidate(ctx context.Context) error {
	d.mu.Lock()
	d.list, d.byCode, d.loadedAt = nil, nil, time.Time{}
	d.mu.Unlock()
	return d.cache.Delete(ctx, cacheKey)
}

func normalise(code string) string {
	return strings.TrimLeft(strings.TrimSpace(code), "+")
}
