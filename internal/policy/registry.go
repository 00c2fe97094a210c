package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/checkout-settlement/internal/money"
	"github.com/noah-isme/checkout-settlement/internal/obs"
)

// CountryDirectory resolves a buyer country into its local currency.
type CountryDirectory interface {
	LocalCurrency(ctx context.Context, country string) (money.Code, error)
}

// Registry resolves payment method keys into settlement policies.
type Registry struct {
	methods   map[string]Method
	keys      []string
	directory CountryDirectory
	logger    zerolog.Logger
}

// NewRegistry indexes methods by key and alias. Duplicate names are rejected.
func NewRegistry(directory CountryDirectory, logger zerolog.Logger, methods ...Method) (*Registry, error) {
	r := &Registry{
		methods:   make(map[string]Method, len(methods)),
		directory: directory,
		logger:    logger,
	}
	for _, m := range methods {
		if strings.TrimSpace(m.Key) == "" {
			return nil, errors.New("policy: method key is required")
		}
		if m.Policy == nil {
			return nil, fmt.Errorf("policy: method %s has no policy", m.Key)
		}
		if uc, ok := m.Policy.(UserChoice); ok && len(uc.Codes) == 0 {
			return nil, fmt.Errorf("policy: method %s offers no currencies", m.Key)
		}
		if fc, ok := m.Policy.(FixedCurrency); ok && fc.Code.IsZero() {
			return nil, fmt.Errorf("policy: method %s has no fixed currency", m.Key)
		}
		for _, name := range append([]string{m.Key}, m.Aliases...) {
			k := normaliseKey(name)
			if _, exists := r.methods[k]; exists {
				return nil, fmt.Errorf("policy: duplicate method name %q", name)
			}
			r.methods[k] = m
		}
		r.keys = append(r.keys, m.Key)
	}
	return r, nil
}

// Keys lists the canonical method keys in registration order.
func (r *Registry) Keys() []string {
	return append([]string(nil), r.keys...)
}

// Lookup finds a method by key or alias, case-insensitively.
func (r *Registry) Lookup(key string) (Method, bool) {
	m, ok := r.methods[normaliseKey(key)]
	return m, ok
}

// Resolve determines whether the method needs a conversion and into which currency.
func (r *Registry) Resolve(ctx context.Context, key string, base money.Code, buyer Buyer) (Resolution, error) {
	m, ok := r.Lookup(key)
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %q", ErrUnknownMethod, key)
	}
	res := Resolution{Method: m}
	switch p := m.Policy.(type) {
	case BaseCurrency:
		res.Currency = base
	case FixedCurrency:
		res.NeedsConversion = true
		res.Currency = p.Code
	case UserChoice:
		res.NeedsConversion = true
		res.UserSelectable = true
		res.Choices = append([]money.Code(nil), p.Codes...)
		res.Currency = p.Codes[0]
	case LocalByCountry:
		res.NeedsConversion = true
		code, err := r.localCurrency(ctx, buyer.Country)
		if err != nil {
			if buyer.AccountCurrency.IsZero() {
				return Resolution{}, fmt.Errorf("%w: no account currency for buyer %s: %v", ErrPolicyResolutionFailed, buyer.ID, err)
			}
			r.logger.Warn().Err(err).
				Str("method", m.Key).
				Str("country", buyer.Country).
				Str("fallback_currency", buyer.AccountCurrency.String()).
				Msg("policy_resolution_fallback")
			if obs.PolicyFallbackTotal != nil {
				obs.PolicyFallbackTotal.WithLabelValues(m.Key).Inc()
			}
			code = buyer.AccountCurrency
			res.FellBack = true
		}
		res.Currency = code
	default:
		return Resolution{}, fmt.Errorf("policy: method %s has unsupported policy %T", m.Key, p)
	}
	return res, nil
}

func (r *Registry) localCurrency(ctx context.Context, country string) (money.Code, error) {
	if r.directory == nil {
		return "", fmt.Errorf("%w: country directory not configured", ErrPolicyResolutionFailed)
	}
	if strings.TrimSpace(country) == "" {
		return "", fmt.Errorf("%w: buyer country unknown", ErrPolicyResolutionFailed)
	}
	code, err := r.directory.LocalCurrency(ctx, country)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPolicyResolutionFailed, err)
	}
	if code.IsZero() {
		return "", fmt.Errorf("%w: country %s has no currency", ErrPolicyResolutionFailed, country)
	}
	return code, nil
}

func normaliseKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
