package conversion_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/checkout-settlement/internal/conversion"
	"github.com/noah-isme/checkout-settlement/internal/money"
)

func amounts(code money.Code, subtotal, domestic, shipping string) conversion.Amounts {
	return conversion.Amounts{
		Subtotal:            money.MustParse(subtotal, code),
		DomesticShippingFee: money.MustParse(domestic, code),
		ShippingFee:         money.MustParse(shipping, code),
	}
}

func resultFor(req conversion.Request, rate string) conversion.Result {
	r := decimal.RequireFromString(rate)
	return conversion.Result{
		Token: req.Token,
		From:  req.From,
		To:    req.To,
		Converted: conversion.Amounts{
			Subtotal:            money.New(req.Amounts.Subtotal.Amount.Mul(r), req.To),
			DomesticShippingFee: money.New(req.Amounts.DomesticShippingFee.Amount.Mul(r), req.To),
			ShippingFee:         money.New(req.Amounts.ShippingFee.Amount.Mul(r), req.To),
		},
	}
}

var base = amounts("USD", "86.823", "25.50", "45.00")

func TestBeginAcceptReady(t *testing.T) {
	c := conversion.NewCoordinator(zerolog.Nop())
	require.Equal(t, conversion.Idle, c.State().Status)

	req := c.Begin("USD", "EUR", base)
	require.Equal(t, uint64(1), req.Token)
	st := c.State()
	require.Equal(t, conversion.Loading, st.Status)
	require.False(t, st.ReadyFor("EUR"))

	require.NoError(t, c.Accept(resultFor(req, "0.9")))
	st = c.State()
	require.Equal(t, conversion.Ready, st.Status)
	require.True(t, st.ReadyFor("EUR"))
	require.False(t, st.ReadyFor("USD"))
	require.True(t, st.Result.Converted.ShippingFee.Equal(money.MustParse("40.5", "EUR")))
}

func TestStaleResponsesAreDiscarded(t *testing.T) {
	c := conversion.NewCoordinator(zerolog.Nop())
	first := c.Begin("USD", "USD", base)
	second := c.Begin("USD", "EUR", base)
	require.Greater(t, second.Token, first.Token)

	require.ErrorIs(t, c.Accept(resultFor(first, "1")), conversion.ErrStaleConversion)
	require.Equal(t, conversion.Loading, c.State().Status, "stale result does not transition")

	require.ErrorIs(t, c.Fail(first.Token, errors.New("boom")), conversion.ErrStaleConversion)
	require.Equal(t, conversion.Loading, c.State().Status, "stale failure does not transition")

	require.NoError(t, c.Accept(resultFor(second, "0.9")))
	require.True(t, c.State().ReadyFor("EUR"))

	// A late duplicate of an accepted token is stale as well.
	require.ErrorIs(t, c.Accept(resultFor(second, "0.8")), conversion.ErrStaleConversion)
	require.True(t, c.State().Result.Converted.Subtotal.Equal(money.New(base.Subtotal.Amount.Mul(decimal.RequireFromString("0.9")), "EUR")))
}

func TestLastIssuedTokenWinsRegardlessOfArrivalOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	targets := []money.Code{"USD", "EUR", "FCFA", "XOF"}
	for round := 0; round < 50; round++ {
		c := conversion.NewCoordinator(zerolog.Nop())
		n := 2 + rng.Intn(8)
		reqs := make([]conversion.Request, 0, n)
		for i := 0; i < n; i++ {
			reqs = append(reqs, c.Begin("USD", targets[rng.Intn(len(targets))], base))
		}
		last := reqs[len(reqs)-1]
		rng.Shuffle(len(reqs), func(i, j int) { reqs[i], reqs[j] = reqs[j], reqs[i] })
		for _, req := range reqs {
			err := c.Accept(resultFor(req, "2"))
			if req.Token == last.Token {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, conversion.ErrStaleConversion)
			}
		}
		st := c.State()
		require.Equal(t, conversion.Ready, st.Status)
		require.Equal(t, last.Token, st.Result.Token)
		require.True(t, st.ReadyFor(last.To))
	}
}

func TestFailKeepsRetainedResultAndRetryIssuesNewToken(t *testing.T) {
	c := conversion.NewCoordinator(zerolog.Nop())
	first := c.Begin("USD", "USD", base)
	require.NoError(t, c.Accept(resultFor(first, "1")))

	second := c.Begin("USD", "EUR", base)
	st := c.State()
	require.Equal(t, conversion.Loading, st.Status)
	require.NotNil(t, st.Result, "previous result is retained for display")
	require.Equal(t, first.Token, st.Result.Token)

	require.NoError(t, c.Fail(second.Token, errors.New("gateway timeout")))
	st = c.State()
	require.Equal(t, conversion.Failed, st.Status)
	require.ErrorIs(t, st.Err, conversion.ErrConversionFailed)
	require.False(t, st.ReadyFor("EUR"))

	retry := c.Begin("USD", "EUR", base)
	require.Equal(t, second.Token+1, retry.Token)
	require.NoError(t, c.Accept(resultFor(retry, "0.9")))
	require.True(t, c.State().ReadyFor("EUR"))
}

func TestResetMakesOutstandingRequestsStale(t *testing.T) {
	c := conversion.NewCoordinator(zerolog.Nop())
	req := c.Begin("USD", "EUR", base)
	c.Reset()
	st := c.State()
	require.Equal(t, conversion.Idle, st.Status)
	require.Nil(t, st.Result)
	require.ErrorIs(t, c.Accept(resultFor(req, "0.9")), conversion.ErrStaleConversion)
	require.Equal(t, conversion.Idle, c.State().Status)
}

func TestMalformedResultFailsCurrentToken(t *testing.T) {
	c := conversion.NewCoordinator(zerolog.Nop())
	req := c.Begin("USD", "EUR", base)
	bad := resultFor(req, "0.9")
	bad.Converted.ShippingFee = money.MustParse("1", "USD")
	err := c.Accept(bad)
	require.ErrorIs(t, err, conversion.ErrMalformedResult)
	require.Equal(t, conversion.Failed, c.State().Status)

	req = c.Begin("USD", "EUR", base)
	wrongTarget := resultFor(req, "0.9")
	wrongTarget.To = "GBP"
	require.ErrorIs(t, c.Accept(wrongTarget), conversion.ErrMalformedResult)
}

func TestAmountsFromItems(t *testing.T) {
	items := []conversion.Item{
		{Key: conversion.ItemSubtotal, Original: decimal.RequireFromString("86.823"), Converted: decimal.RequireFromString("78.14")},
		{Key: conversion.ItemDomesticShippingFee, Original: decimal.RequireFromString("25.5"), Converted: decimal.RequireFromString("22.95")},
		{Key: conversion.ItemShippingFee, Original: decimal.RequireFromString("45"), Converted: decimal.RequireFromString("40.5")},
	}
	got, err := conversion.AmountsFromItems(items, "EUR")
	require.NoError(t, err)
	require.True(t, got.Subtotal.Equal(money.MustParse("78.14", "EUR")))
	require.True(t, got.ShippingFee.Equal(money.MustParse("40.5", "EUR")))

	_, err = conversion.AmountsFromItems(items[:2], "EUR")
	require.ErrorIs(t, err, conversion.ErrMalformedResult)

	_, err = conversion.AmountsFromItems(append(items, items[0]), "EUR")
	require.ErrorIs(t, err, conversion.ErrMalformedResult)

	flat := base.Items()
	require.Len(t, flat, 3)
	require.True(t, flat[conversion.ItemSubtotal].Equal(decimal.RequireFromString("86.823")))
}

func TestExecuteStampsTokenAndWrapsErrors(t *testing.T) {
	req := conversion.Request{Token: 9, From: "USD", To: "EUR", Amounts: base}
	conv := conversion.ConverterFunc(func(_ context.Context, r conversion.Request) (conversion.Result, error) {
		out := resultFor(r, "0.9")
		out.Token = 0
		out.From, out.To = "", ""
		return out, nil
	})
	res, err := conversion.Execute(context.Background(), conv, req)
	require.NoError(t, err)
	require.Equal(t, uint64(9), res.Token)
	require.Equal(t, money.Code("EUR"), res.To)
	require.Equal(t, money.Code("USD"), res.From)

	failing := conversion.ConverterFunc(func(context.Context, conversion.Request) (conversion.Result, error) {
		return conversion.Result{}, errors.New("503")
	})
	_, err = conversion.Execute(context.Background(), failing, req)
	require.ErrorIs(t, err, conversion.ErrConversionFailed)

	_, err = conversion.Execute(context.Background(), nil, req)
	require.ErrorIs(t, err, conversion.ErrConversionFailed)
}
