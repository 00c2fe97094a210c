package coupon

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/checkout-settlement/internal/money"
)

var (
	// ErrInvalidCoupon is returned for unknown or malformed coupon codes.
	ErrInvalidCoupon = errors.New("coupon: invalid coupon")
	// ErrAlreadyApplied signals that the code is already in the applied set. The set is unchanged.
	ErrAlreadyApplied = errors.New("coupon: already applied")
)

var hundred = decimal.NewFromInt(100)

// Kind selects how a coupon value is interpreted.
type Kind string

const (
	// Percent takes Value percent (0-100) of the subtotal.
	Percent Kind = "percent"
	// Fixed takes Value in the base currency.
	Fixed Kind = "fixed"
)

// ParseKind normalises a raw kind label.
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "percent", "percentage":
		return Percent, nil
	case "fixed", "fixed_amount":
		return Fixed, nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidCoupon, raw)
	}
}

// Coupon is a server-issued discount the buyer can stack on a checkout.
type Coupon struct {
	Code  string
	Name  string
	Kind  Kind
	Value decimal.Decimal
}

// NormaliseCode upper-cases and trims a coupon code.
func NormaliseCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks the coupon definition.
func (c Coupon) Validate() error {
	if NormaliseCode(c.Code) == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidCoupon)
	}
	switch c.Kind {
	case Percent:
		if c.Value.IsNegative() || c.Value.GreaterThan(hundred) {
			return fmt.Errorf("%w: percent value %s out of range", ErrInvalidCoupon, c.Value)
		}
	case Fixed:
		if c.Value.IsNegative() {
			return fmt.Errorf("%w: fixed value %s is negative", ErrInvalidCoupon, c.Value)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCoupon, c.Kind)
	}
	return nil
}

// Contribution is the raw (uncapped) discount the coupon adds for subtotal.
func (c Coupon) Contribution(subtotal money.Money) money.Money {
	switch c.Kind {
	case Percent:
		return subtotal.Mul(c.Value.Div(hundred))
	case Fixed:
		return money.New(c.Value, subtotal.Currency)
	default:
		return money.Zero(subtotal.Currency)
	}
}

// Applied is an ordered set of distinct coupons. The zero value is empty and ready to use.
// Apply and Remove return a new set; the receiver is never modified.
type Applied struct {
	items []Coupon
}

// NewApplied builds a set from coupons, skipping duplicates.
func NewApplied(coupons ...Coupon) Applied {
	var a Applied
	for _, c := range coupons {
		a, _ = a.Apply(c)
	}
	return a
}

// Apply appends the coupon. Duplicated codes return the unchanged set and ErrAlreadyApplied.
func (a Applied) Apply(c Coupon) (Applied, error) {
	c.Code = NormaliseCode(c.Code)
	if a.Has(c.Code) {
		return a, fmt.Errorf("%w: %s", ErrAlreadyApplied, c.Code)
	}
	items := make([]Coupon, len(a.items), len(a.items)+1)
	copy(items, a.items)
	return Applied{items: append(items, c)}, nil
}

// Remove drops code when present; otherwise it returns the set unchanged.
func (a Applied) Remove(code string) Applied {
	code = NormaliseCode(code)
	if !a.Has(code) {
		return a
	}
	items := make([]Coupon, 0, len(a.items)-1)
	for _, c := range a.items {
		if c.Code != code {
			items = append(items, c)
		}
	}
	return Applied{items: items}
}

// Has reports whether code is applied.
func (a Applied) Has(code string) bool {
	code = NormaliseCode(code)
	for _, c := range a.items {
		if c.Code == code {
			return true
		}
	}
	return false
}

// Len returns the number of applied coupons.
func (a Applied) Len() int { return len(a.items) }

// Coupons returns a copy of the applied coupons in application order.
func (a Applied) Coupons() []Coupon {
	out := make([]Coupon, len(a.items))
	copy(out, a.items)
	return out
}

// Codes returns the applied codes in application order.
func (a Applied) Codes() []string {
	out := make([]string, 0, len(a.items))
	for _, c := range a.items {
		out = append(out, c.Code)
	}
	return out
}

// RawDiscount sums every coupon contribution without applying the cap.
func RawDiscount(subtotal money.Money, applied Applied) money.Money {
	raw := money.Zero(subtotal.Currency)
	for _, c := range applied.items {
		raw = raw.Add(c.Contribution(subtotal))
	}
	return raw
}

// ComputeDiscount sums contributions in application order and caps the
// aggregate once at subtotal + domestic shipping.
func ComputeDiscount(subtotal, domesticShipping money.Money, applied Applied) money.Money {
	limit := subtotal.Add(domesticShipping)
	return RawDiscount(subtotal, applied).Min(limit)
}

// ComputeDiscountedTotal returns original - discount, clamped at zero.
func ComputeDiscountedTotal(original, discount money.Money) money.Money {
	return original.Sub(discount)
}
