package storefront

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/checkout-settlement/internal/money"
)

// number renders a decimal as an unquoted JSON number.
func number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

func parseNumber(field string, n json.Number) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(string(n))
	if err != nil {
		return decimal.Zero, fmt.Errorf("storefront: field %s: %w", field, err)
	}
	return d, nil
}

// requireNumber is parseNumber for fields the backend must always send.
func requireNumber(field string, n json.Number, missing error) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Zero, fmt.Errorf("%w: field %s is missing", missing, field)
	}
	return parseNumber(field, n)
}

func parseMoney(field string, n json.Number, code money.Code) (money.Money, error) {
	d, err := parseNumber(field, n)
	if err != nil {
		return money.Money{}, err
	}
	return money.New(d, code), nil
}

// flexID decodes identifiers the backend sends either as numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

func (f flexID) String() string { return string(f) }
