package settlement_test

import (
	"context"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/checkout-settlement/internal/conversion"
	"github.com/noah-isme/checkout-settlement/internal/coupon"
	"github.com/noah-isme/checkout-settlement/internal/money"
	"github.com/noah-isme/checkout-settlement/internal/policy"
	"github.com/noah-isme/checkout-settlement/internal/pricing"
	"github.com/noah-isme/checkout-settlement/internal/settlement"
)

func sampleQuote() pricing.Quote {
	return pricing.Quote{
		Currency:                 "USD",
		Subtotal:                 money.MustParse("96.47", "USD"),
		DomesticShippingFee:      money.MustParse("25.50", "USD"),
		InternationalShippingFee: money.MustParse("45.00", "USD"),
	}
}

func discounted(t *testing.T, q pricing.Quote, codes ...string) pricing.Breakdown {
	t.Helper()
	catalog, err := coupon.NewStaticCatalog(coupon.DefaultCoupons()...)
	require.NoError(t, err)
	var applied coupon.Applied
	for _, code := range codes {
		c, err := catalog.Lookup(context.Background(), code)
		require.NoError(t, err)
		applied, err = applied.Apply(c)
		require.NoError(t, err)
	}
	return pricing.Apply(q, coupon.ComputeDiscount(q.Subtotal, q.DomesticShippingFee, applied))
}

func baseResolution() *policy.Resolution {
	return &policy.Resolution{Method: policy.Method{Key: "balance", Policy: policy.BaseCurrency{}}, Currency: "USD"}
}

func TestBaseCurrencyMethodWithWelcomeCoupon(t *testing.T) {
	b := discounted(t, sampleQuote(), "WELCOME10")
	require.True(t, b.Discounted().Equal(money.MustParse("112.323", "USD")))

	prepaid, err := settlement.Calculate(settlement.Input{Breakdown: b, Resolution: baseResolution()})
	require.NoError(t, err)
	require.Equal(t, money.Code("USD"), prepaid.Currency)
	require.True(t, prepaid.Total.Equal(money.MustParse("157.323", "USD")), prepaid.Total.String())
	require.True(t, prepaid.InternationalShipping.Equal(money.MustParse("45", "USD")))
	require.False(t, prepaid.Converted)

	cod, err := settlement.Calculate(settlement.Input{Breakdown: b, Resolution: baseResolution(), COD: true})
	require.NoError(t, err)
	require.True(t, cod.Total.Equal(money.MustParse("112.323", "USD")), cod.Total.String())
	require.True(t, cod.InternationalShipping.Equal(prepaid.InternationalShipping))
}

func TestIdleConversionIsNotMissingDataForBaseMethods(t *testing.T) {
	b := discounted(t, sampleQuote(), "WELCOME10", "SAVE20")
	require.True(t, b.Discounted().Equal(money.MustParse("92.323", "USD")))

	out, err := settlement.Calculate(settlement.Input{
		Breakdown:  b,
		Resolution: baseResolution(),
		Conversion: conversion.State{Status: conversion.Idle},
		COD:        true,
	})
	require.NoError(t, err)
	require.True(t, out.Total.Equal(money.MustParse("92.323", "USD")))
}

func TestCappedDiscountFloorsTotals(t *testing.T) {
	q := sampleQuote()
	b := pricing.Apply(q, money.MustParse("130", "USD"))
	require.True(t, b.Discount.Equal(money.MustParse("121.97", "USD")))

	prepaid, err := settlement.Calculate(settlement.Input{Breakdown: b})
	require.NoError(t, err)
	require.True(t, prepaid.Subtotal.IsZero())
	require.True(t, prepaid.DomesticShipping.IsZero())
	require.True(t, prepaid.Total.Equal(money.MustParse("45", "USD")))

	cod, err := settlement.Calculate(settlement.Input{Breakdown: b, COD: true})
	require.NoError(t, err)
	require.True(t, cod.Total.IsZero())
	require.False(t, cod.Total.IsNegative())
}

func TestConversionMethodUsesAcceptedResult(t *testing.T) {
	b := discounted(t, sampleQuote(), "WELCOME10")
	res := &policy.Resolution{Method: policy.Method{Key: "paypal"}, NeedsConversion: true, Currency: "EUR", UserSelectable: true, Choices: []money.Code{"USD", "EUR"}}

	_, err := settlement.Calculate(settlement.Input{Breakdown: b, Resolution: res, Conversion: conversion.State{Status: conversion.Loading, Token: 1}})
	require.ErrorIs(t, err, settlement.ErrAmountsUnavailable)

	c := conversion.NewCoordinator(zerolog.Nop())
	req := c.Begin("USD", "EUR", conversion.Amounts{Subtotal: b.Subtotal, DomesticShippingFee: b.DomesticShippingFee, ShippingFee: b.InternationalShippingFee})
	require.NoError(t, c.Accept(conversion.Result{Token: req.Token, From: "USD", To: "EUR", Converted: conversion.Amounts{
		Subtotal:            money.MustParse("78.14", "EUR"),
		DomesticShippingFee: money.MustParse("22.95", "EUR"),
		ShippingFee:         money.MustParse("40.50", "EUR"),
	}}))

	out, err := settlement.Calculate(settlement.Input{Breakdown: b, Resolution: res, Conversion: c.State()})
	require.NoError(t, err)
	require.Equal(t, money.Code("EUR"), out.Currency)
	require.True(t, out.Converted)
	require.False(t, out.Stale)
	require.True(t, out.Total.Equal(money.MustParse("141.59", "EUR")))

	// Switch currency: the old figures remain visible but flagged.
	usd, err := res.WithCurrency("USD")
	require.NoError(t, err)
	c.Begin("USD", "USD", req.Amounts)
	out, err = settlement.Calculate(settlement.Input{Breakdown: b, Resolution: &usd, Conversion: c.State(), COD: true})
	require.NoError(t, err)
	require.True(t, out.Stale)
	require.Equal(t, money.Code("EUR"), out.Currency)
	require.True(t, out.Total.Equal(money.MustParse("101.09", "EUR")))
}

func TestCODExclusionProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	amount := func() money.Money {
		return money.New(decimal.New(rng.Int63n(100000), -2), "USD")
	}
	for i := 0; i < 200; i++ {
		q := pricing.Quote{Currency: "USD", Subtotal: amount(), DomesticShippingFee: amount(), InternationalShippingFee: amount()}
		b := pricing.Apply(q, amount())

		on, err := settlement.Calculate(settlement.Input{Breakdown: b, COD: true})
		require.NoError(t, err)
		off, err := settlement.Calculate(settlement.Input{Breakdown: b})
		require.NoError(t, err)

		require.True(t, on.InternationalShipping.Equal(off.InternationalShipping))
		require.True(t, off.Total.Equal(on.Total.Add(off.InternationalShipping)), "iteration %d", i)
		require.False(t, on.Total.IsNegative())
	}
}
