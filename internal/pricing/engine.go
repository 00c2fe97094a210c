package pricing

import (
	"errors"
	"fmt"

	"github.com/noah-isme/checkout-settlement/internal/money"
)

// LineItem describes a quoted cart line.
type LineItem struct {
	OfferID     string
	CartItemID  int64
	SKUID       string
	ProductName string
	ImageURL    string
	Attributes  []SKUAttribute
	Quantity    int
	UnitPrice   money.Money
	TotalPrice  money.Money
}

// SKUAttribute is a single variant attribute of a line item.
type SKUAttribute struct {
	Name  string
	Value string
}

// Quote is the order preview for a checkout session. It is immutable once fetched.
type Quote struct {
	Currency                 money.Code
	Subtotal                 money.Money
	DomesticShippingFee      money.Money
	InternationalShippingFee money.Money
	Items                    []LineItem
}

// Validate ensures every amount shares the base currency and is non-negative.
func (q Quote) Validate() error {
	if q.Currency.IsZero() {
		return errors.New("pricing: quote currency is required")
	}
	fields := []struct {
		name string
		m    money.Money
	}{
		{"subtotal", q.Subtotal},
		{"domestic_shipping_fee", q.DomesticShippingFee},
		{"international_shipping_fee", q.InternationalShippingFee},
	}
	for _, f := range fields {
		name, m := f.name, f.m
		if m.Currency != q.Currency {
			return fmt.Errorf("pricing: %s currency %s differs from quote currency %s: %w", name, m.Currency, q.Currency, money.ErrCurrencyMismatch)
		}
		if err := m.Validate(); err != nil {
			return fmt.Errorf("pricing: %s: %w", name, err)
		}
	}
	return nil
}

// DiscountBase is the amount coupons may consume: subtotal plus domestic shipping.
func (q Quote) DiscountBase() money.Money {
	return q.Subtotal.Add(q.DomesticShippingFee)
}

// Breakdown is a quote after a capped discount has been applied.
type Breakdown struct {
	Currency                 money.Code
	Subtotal                 money.Money
	DomesticShippingFee      money.Money
	InternationalShippingFee money.Money
	Discount                 money.Money
}

// Apply consumes the discount from the subtotal first, then from domestic
// shipping. International shipping is never discounted.
func Apply(q Quote, discount money.Money) Breakdown {
	discount = discount.Min(q.DiscountBase())
	subtotal := q.Subtotal.Sub(discount)
	overflow := discount.Sub(q.Subtotal)
	return Breakdown{
		Currency:                 q.Currency,
		Subtotal:                 subtotal,
		DomesticShippingFee:      q.DomesticShippingFee.Sub(overflow),
		InternationalShippingFee: q.InternationalShippingFee,
		Discount:                 discount,
	}
}

// Discounted returns subtotal plus domestic shipping after the discount.
func (b Breakdown) Discounted() money.Money {
	return b.Subtotal.Add(b.DomesticShippingFee)
}
