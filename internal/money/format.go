package money

import (
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// isoAliases maps storefront currency labels to their ISO 4217 unit.
var isoAliases = map[Code]string{
	"FCFA": "XOF",
	"CFA":  "XOF",
}

// Scale returns the number of minor-unit digits used to display the currency.
func (c Code) Scale() int {
	unit, ok := c.unit()
	if !ok {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return scale
}

func (c Code) unit() (currency.Unit, bool) {
	raw := string(c)
	if alias, ok := isoAliases[c]; ok {
		raw = alias
	}
	unit, err := currency.ParseISO(raw)
	if err != nil {
		return currency.Unit{}, false
	}
	return unit, true
}

// Display renders the amount for the buyer's locale, e.g. "USD 1,234.50" for "en".
// The amount is rounded half-up to the currency's standard scale.
func (m Money) Display(locale string) string {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		tag = language.English
	}
	scale := m.Currency.Scale()
	rounded := m.Amount.Round(int32(scale))
	p := message.NewPrinter(tag)
	// The whole part goes through int64 so large amounts keep every digit;
	// only the sub-unit fraction is formatted as a float.
	whole := rounded.Truncate(0)
	out := p.Sprint(number.Decimal(whole.Abs().IntPart()))
	if scale > 0 {
		frac := rounded.Sub(whole).Abs().InexactFloat64()
		out += strings.TrimPrefix(p.Sprint(number.Decimal(frac, number.Scale(scale))), p.Sprint(number.Decimal(0)))
	}
	if rounded.IsNegative() {
		out = "-" + out
	}
	return string(m.Currency) + " " + out
}
