package settlement

import (
	"errors"

	"github.com/noah-isme/checkout-settlement/internal/conversion"
	"github.com/noah-isme/checkout-settlement/internal/money"
	"github.com/noah-isme/checkout-settlement/internal/policy"
	"github.com/noah-isme/checkout-settlement/internal/pricing"
)

// ErrAmountsUnavailable is returned when a conversion method has no result to show yet.
var ErrAmountsUnavailable = errors.New("settlement: converted amounts unavailable")

// Input gathers everything the calculator reads.
type Input struct {
	// Breakdown is the discounted quote in the base currency.
	Breakdown pricing.Breakdown
	// Resolution is nil until a payment method is selected.
	Resolution *policy.Resolution
	Conversion conversion.State
	COD        bool
}

// Amounts are the figures displayed to the buyer and submitted with the order.
type Amounts struct {
	Currency              money.Code
	Subtotal              money.Money
	DomesticShipping      money.Money
	InternationalShipping money.Money
	Total                 money.Money
	// Converted is set when the figures come from a conversion result.
	Converted bool
	// Stale marks figures taken from a superseded result while a newer one loads.
	Stale bool
}

// Calculate produces settlement amounts. International shipping is always
// reported but only counted in Total when the order is not cash on delivery.
func Calculate(in Input) (Amounts, error) {
	if in.Resolution == nil || !in.Resolution.NeedsConversion {
		b := in.Breakdown
		return assemble(b.Currency, b.Subtotal, b.DomesticShippingFee, b.InternationalShippingFee, in.COD), nil
	}

	res := in.Conversion.Result
	if res == nil {
		return Amounts{}, ErrAmountsUnavailable
	}
	c := res.Converted
	out := assemble(res.To, c.Subtotal, c.DomesticShippingFee, c.ShippingFee, in.COD)
	out.Converted = true
	out.Stale = !in.Conversion.ReadyFor(in.Resolution.Currency)
	return out, nil
}

func assemble(currency money.Code, subtotal, domestic, international money.Money, cod bool) Amounts {
	total := subtotal.Add(domestic)
	if !cod {
		total = total.Add(international)
	}
	return Amounts{
		Currency:              currency,
		Subtotal:              subtotal,
		DomesticShipping:      domestic,
		InternationalShipping: international,
		Total:                 total,
	}
}
