package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrCurrencyMismatch is raised when arithmetic mixes two currencies.
var ErrCurrencyMismatch = errors.New("money: currency mismatch")

// ErrNegativeAmount is returned when a settlement-facing amount is below zero.
var ErrNegativeAmount = errors.New("money: negative amount")

// Code is an upper-cased currency code such as USD, EUR or FCFA.
type Code string

// ParseCode normalises a raw currency code.
func ParseCode(raw string) Code {
	return Code(strings.ToUpper(strings.TrimSpace(raw)))
}

func (c Code) String() string { return string(c) }

// IsZero reports whether the code is empty.
func (c Code) IsZero() bool { return strings.TrimSpace(string(c)) == "" }

// Money is an exact decimal amount in a single currency.
type Money struct {
	Amount   decimal.Decimal
	Currency Code
}

// New builds a Money value from a decimal amount.
func New(amount decimal.Decimal, currency Code) Money {
	return Money{Amount: amount, Currency: currency}
}

// Zero returns a zero amount in the provided currency.
func Zero(currency Code) Money {
	return Money{Amount: decimal.Zero, Currency: currency}
}

// Parse reads a decimal string such as "96.47".
func Parse(amount string, currency Code) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, fmt.Errorf("money: parse %q: %w", amount, err)
	}
	return Money{Amount: d, Currency: currency}, nil
}

// MustParse is Parse for literals; it panics on malformed input.
func MustParse(amount string, currency Code) Money {
	m, err := Parse(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Add returns m + o. Both values must share a currency.
func (m Money) Add(o Money) Money {
	m.mustMatch(o)
	return Money{Amount: m.Amount.Add(o.Amount), Currency: m.Currency}
}

// Sub returns m - o, saturating at zero.
func (m Money) Sub(o Money) Money {
	m.mustMatch(o)
	diff := m.Amount.Sub(o.Amount)
	if diff.IsNegative() {
		diff = decimal.Zero
	}
	return Money{Amount: diff, Currency: m.Currency}
}

// Mul scales the amount by factor.
func (m Money) Mul(factor decimal.Decimal) Money {
	return Money{Amount: m.Amount.Mul(factor), Currency: m.Currency}
}

// Cmp compares two amounts in the same currency.
func (m Money) Cmp(o Money) int {
	m.mustMatch(o)
	return m.Amount.Cmp(o.Amount)
}

// Equal reports whether both currency and amount are identical.
func (m Money) Equal(o Money) bool {
	return m.Currency == o.Currency && m.Amount.Equal(o.Amount)
}

// Min returns the smaller of m and o.
func (m Money) Min(o Money) Money {
	if m.Cmp(o) <= 0 {
		return m
	}
	return o
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.Amount.IsZero() }

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m.Amount.IsNegative() }

// Validate checks the value is usable for settlement.
func (m Money) Validate() error {
	if m.Currency.IsZero() {
		return errors.New("money: currency is required")
	}
	if m.Amount.IsNegative() {
		return fmt.Errorf("%w: %s %s", ErrNegativeAmount, m.Amount.String(), m.Currency)
	}
	return nil
}

// String renders the exact amount followed by its currency, e.g. "112.323 USD".
func (m Money) String() string {
	return m.Amount.String() + " " + string(m.Currency)
}

func (m Money) mustMatch(o Money) {
	if m.Currency != o.Currency {
		panic(fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, o.Currency))
	}
}

// Sum adds every value; all values must share currency. An empty list yields zero in currency.
func Sum(currency Code, values ...Money) Money {
	total := Zero(currency)
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
