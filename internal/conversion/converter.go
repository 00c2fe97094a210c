package conversion

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/checkout-settlement/internal/money"
	"github.com/noah-isme/checkout-settlement/internal/obs"
)

// Item keys used by the conversion backend.
const (
	ItemSubtotal            = "total_amount"
	ItemDomesticShippingFee = "domestic_shipping_fee"
	ItemShippingFee         = "shipping_fee"
)

// Converter performs the remote currency conversion for a request.
type Converter interface {
	Convert(ctx context.Context, req Request) (Result, error)
}

// ConverterFunc adapts a function to Converter.
type ConverterFunc func(ctx context.Context, req Request) (Result, error)

// Convert calls f.
func (f ConverterFunc) Convert(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// Item is one converted figure as returned by the backend.
type Item struct {
	Key       string
	Original  decimal.Decimal
	Converted decimal.Decimal
}

// AmountsFromItems maps the backend list onto Amounts in currency to. Every
// item key must be present exactly once.
func AmountsFromItems(items []Item, to money.Code) (Amounts, error) {
	byKey := make(map[string]decimal.Decimal, len(items))
	for _, it := range items {
		if _, dup := byKey[it.Key]; dup {
			return Amounts{}, fmt.Errorf("%w: duplicate item %q", ErrMalformedResult, it.Key)
		}
		byKey[it.Key] = it.Converted
	}
	get := func(key string) (money.Money, error) {
		v, ok := byKey[key]
		if !ok {
			return money.Money{}, fmt.Errorf("%w: missing item %q", ErrMalformedResult, key)
		}
		return money.New(v, to), nil
	}
	var (
		out Amounts
		err error
	)
	if out.Subtotal, err = get(ItemSubtotal); err != nil {
		return Amounts{}, err
	}
	if out.DomesticShippingFee, err = get(ItemDomesticShippingFee); err != nil {
		return Amounts{}, err
	}
	if out.ShippingFee, err = get(ItemShippingFee); err != nil {
		return Amounts{}, err
	}
	return out, nil
}

// Items flattens the amounts into the backend's keyed form.
func (a Amounts) Items() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		ItemSubtotal:            a.Subtotal.Amount,
		ItemDomesticShippingFee: a.DomesticShippingFee.Amount,
		ItemShippingFee:         a.ShippingFee.Amount,
	}
}

// Execute runs req through conv, stamping the result with the request token.
// Failures are wrapped with ErrConversionFailed.
func Execute(ctx context.Context, conv Converter, req Request) (Result, error) {
	if conv == nil {
		return Result{}, fmt.Errorf("%w: converter not configured", ErrConversionFailed)
	}
	start := time.Now()
	res, err := conv.Convert(ctx, req)
	if obs.ConversionLatency != nil {
		obs.ConversionLatency.Observe(obs.DurationMillis(time.Since(start)))
	}
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s->%s: %w", ErrConversionFailed, req.From, req.To, err)
	}
	res.Token = req.Token
	if res.From == "" {
		res.From = req.From
	}
	if res.To == "" {
		res.To = req.To
	}
	return res, nil
}
