package submission_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/checkout-settlement/internal/conversion"
	"github.com/noah-isme/checkout-settlement/internal/money"
	"github.com/noah-isme/checkout-settlement/internal/policy"
	"github.com/noah-isme/checkout-settlement/internal/pricing"
	"github.com/noah-isme/checkout-settlement/internal/submission"
)

func breakdown() pricing.Breakdown {
	q := pricing.Quote{
		Currency:                 "USD",
		Subtotal:                 money.MustParse("96.47", "USD"),
		DomesticShippingFee:      money.MustParse("25.50", "USD"),
		InternationalShippingFee: money.MustParse("45.00", "USD"),
	}
	return pricing.Apply(q, money.MustParse("9.647", "USD"))
}

func balanceInput(balance string) submission.Input {
	in := submission.Input{
		Resolution:  &policy.Resolution{Method: policy.Method{Key: "balance", Policy: policy.BaseCurrency{}, DebitsBalance: true}, Currency: "USD"},
		Breakdown:   breakdown(),
		CouponCodes: []string{"WELCOME10"},
		Order: submission.Order{
			AddressID:       12,
			ReceiverAddress: "Abidjan warehouse",
			Items: []pricing.LineItem{{
				OfferID:     "6623",
				SKUID:       "sku-1",
				ProductName: "Sneakers",
				Quantity:    2,
				UnitPrice:   money.MustParse("48.235", "USD"),
				TotalPrice:  money.MustParse("96.47", "USD"),
			}},
		},
	}
	if balance != "" {
		b := money.MustParse(balance, "USD")
		in.Buyer.Balance = &b
	}
	return in
}

func TestAssembleBaseMethod(t *testing.T) {
	p, err := submission.Assemble(balanceInput(""))
	require.NoError(t, err)
	require.Equal(t, "balance", p.PaymentMethod)
	require.Equal(t, money.Code("USD"), p.Currency)
	require.Equal(t, "157.323", p.TotalAmount.String())
	require.True(t, p.TotalAmount.Equal(p.ActualAmount))
	require.Equal(t, "45", p.ShippingFee.String())
	require.Equal(t, "25.5", p.DomesticShippingFee.String())
	require.Equal(t, "9.647", p.DiscountAmount.String())
	require.Len(t, p.Items, 1)
	require.Equal(t, "6623", p.Items[0].OfferID)

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	for _, key := range []string{"payment_method", "currency", "total_amount", "actual_amount", "shipping_fee", "domestic_shipping_fee", "is_cod"} {
		require.Contains(t, fields, key)
	}
}

func TestAssembleCODExcludesInternationalShipping(t *testing.T) {
	in := balanceInput("")
	in.COD = true
	p, err := submission.Assemble(in)
	require.NoError(t, err)
	require.Equal(t, "112.323", p.TotalAmount.String())
	require.Equal(t, "45", p.ShippingFee.String())
	require.True(t, p.IsCOD)
}

func TestPreconditions(t *testing.T) {
	_, err := submission.Assemble(submission.Input{Breakdown: breakdown()})
	require.ErrorIs(t, err, submission.ErrSubmissionPrecondition)

	wave := &policy.Resolution{Method: policy.Method{Key: "wave"}, NeedsConversion: true, Currency: "FCFA"}
	in := submission.Input{Resolution: wave, Breakdown: breakdown(), Conversion: conversion.State{Status: conversion.Loading, Token: 3}}
	_, err = submission.Assemble(in)
	require.ErrorIs(t, err, submission.ErrSubmissionPrecondition)

	in.Conversion = conversion.State{Status: conversion.Failed, Token: 3}
	require.ErrorIs(t, submission.Check(in), submission.ErrSubmissionPrecondition)

	pending := balanceInput("")
	pending.PendingCoupons = 1
	_, err = submission.Assemble(pending)
	require.ErrorIs(t, err, submission.ErrSubmissionPrecondition)
}

func TestAssembleConvertedMethod(t *testing.T) {
	b := breakdown()
	c := conversion.NewCoordinator(zerolog.Nop())
	req := c.Begin("USD", "FCFA", conversion.Amounts{Subtotal: b.Subtotal, DomesticShippingFee: b.DomesticShippingFee, ShippingFee: b.InternationalShippingFee})
	require.NoError(t, c.Accept(conversion.Result{Token: req.Token, To: "FCFA", Converted: conversion.Amounts{
		Subtotal:            money.MustParse("50000", "FCFA"),
		DomesticShippingFee: money.MustParse("15000", "FCFA"),
		ShippingFee:         money.MustParse("26000", "FCFA"),
	}}))
	in := submission.Input{
		Resolution: &policy.Resolution{Method: policy.Method{Key: "wave"}, NeedsConversion: true, Currency: "FCFA"},
		Breakdown:  b,
		Conversion: c.State(),
	}
	p, err := submission.Assemble(in)
	require.NoError(t, err)
	require.Equal(t, money.Code("FCFA"), p.Currency)
	require.Equal(t, "91000", p.TotalAmount.String())
	require.Equal(t, "26000", p.ShippingFee.String())
	require.Equal(t, "9.647", p.DiscountAmount.String(), "discount stays in the base currency")
}

func TestBalanceMustCoverTotal(t *testing.T) {
	_, err := submission.Assemble(balanceInput("100"))
	require.ErrorIs(t, err, submission.ErrInsufficientBalance)

	_, err = submission.Assemble(balanceInput("157.323"))
	require.NoError(t, err)
}

type fakeOrders struct {
	got submission.Payload
	err error
}

func (f *fakeOrders) CreateOrder(_ context.Context, p submission.Payload) (submission.OrderRecord, error) {
	f.got = p
	if f.err != nil {
		return submission.OrderRecord{}, f.err
	}
	return submission.OrderRecord{OrderID: "501", OrderNo: "BR-501", Status: "pending"}, nil
}

type fakePayments struct {
	got     submission.Confirmation
	outcome submission.PaymentOutcome
	err     error
}

func (f *fakePayments) ConfirmPayment(_ context.Context, c submission.Confirmation) (submission.PaymentOutcome, error) {
	f.got = c
	return f.outcome, f.err
}

func TestSubmitterCreatesAndConfirms(t *testing.T) {
	orders := &fakeOrders{}
	payments := &fakePayments{outcome: submission.PaymentOutcome{Success: true, PaymentURL: "https://pay.example/501"}}
	s := &submission.Submitter{Orders: orders, Payments: payments, Logger: zerolog.Nop()}

	receipt, err := s.Submit(context.Background(), balanceInput(""), " +2250700000000 ")
	require.NoError(t, err)
	require.Equal(t, "501", receipt.Order.OrderID)
	require.Equal(t, "https://pay.example/501", receipt.Payment.PaymentURL)
	require.Equal(t, "157.323", orders.got.TotalAmount.String())
	require.Equal(t, "501", payments.got.OrderID)
	require.Equal(t, "balance", payments.got.Method)
	require.Equal(t, "157.323", payments.got.Amount.String())
	require.Equal(t, "+2250700000000", payments.got.PhoneNumber)
}

func TestSubmitterRejectsLocallyWithoutCalls(t *testing.T) {
	orders := &fakeOrders{}
	s := &submission.Submitter{Orders: orders, Logger: zerolog.Nop()}
	_, err := s.Submit(context.Background(), submission.Input{Breakdown: breakdown()}, "")
	require.ErrorIs(t, err, submission.ErrSubmissionPrecondition)
	require.Empty(t, orders.got.PaymentMethod, "no network call on local rejection")
}

func TestSubmitterSurfacesBackendErrors(t *testing.T) {
	s := &submission.Submitter{Orders: &fakeOrders{err: errors.New("502")}, Logger: zerolog.Nop()}
	_, err := s.Submit(context.Background(), balanceInput(""), "")
	require.ErrorContains(t, err, "create order")

	payments := &fakePayments{err: errors.New("timeout")}
	s = &submission.Submitter{Orders: &fakeOrders{}, Payments: payments, Logger: zerolog.Nop()}
	receipt, err := s.Submit(context.Background(), balanceInput(""), "")
	require.Error(t, err)
	require.Equal(t, "501", receipt.Order.OrderID, "order id is returned so the client can retry payment")
}
