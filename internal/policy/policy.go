package policy

import (
	"errors"

	"github.com/noah-isme/checkout-settlement/internal/money"
)

var (
	// ErrUnknownMethod is returned when no registered method matches a key.
	ErrUnknownMethod = errors.New("policy: unknown payment method")
	// ErrPolicyResolutionFailed is reported when the country lookup misses. Resolution
	// recovers by falling back to the buyer's account currency.
	ErrPolicyResolutionFailed = errors.New("policy: settlement currency resolution failed")
	// ErrCurrencyNotOffered is returned when a buyer picks a currency the method does not offer.
	ErrCurrencyNotOffered = errors.New("policy: currency not offered by payment method")
)

// Policy is the currency strategy of a payment method. The set of variants is closed.
type Policy interface {
	policy()
}

// BaseCurrency settles in the quote's base currency without conversion.
type BaseCurrency struct{}

// FixedCurrency always settles in Code.
type FixedCurrency struct {
	Code money.Code
}

// UserChoice lets the buyer pick one of Codes; the first is the default.
type UserChoice struct {
	Codes []money.Code
}

// LocalByCountry settles in the local currency of the buyer's registered country.
type LocalByCountry struct{}

func (BaseCurrency) policy()   {}
func (FixedCurrency) policy()  {}
func (UserChoice) policy()     {}
func (LocalByCountry) policy() {}

// Name returns a stable label for logs and metrics.
func Name(p Policy) string {
	switch p.(type) {
	case BaseCurrency:
		return "base"
	case FixedCurrency:
		return "fixed"
	case UserChoice:
		return "user_choice"
	case LocalByCountry:
		return "local_by_country"
	default:
		return "unknown"
	}
}

// Method is a payment method offered at checkout.
type Method struct {
	Key     string
	Aliases []string
	Policy  Policy
	// Expandable methods show a currency panel that re-selecting the method toggles.
	Expandable bool
	// DebitsBalance marks wallet methods that require sufficient buyer balance.
	DebitsBalance bool
}

// Buyer carries the account facts needed to resolve settlement currencies.
type Buyer struct {
	ID              string
	Country         string
	AccountCurrency money.Code
	Balance         *money.Money
}

// Resolution is the outcome of resolving a method for a buyer.
type Resolution struct {
	Method          Method
	NeedsConversion bool
	Currency        money.Code
	Choices         []money.Code
	UserSelectable  bool
	// FellBack is set when the country lookup failed and the account currency was used.
	FellBack bool
}

// Offers reports whether code is one of the selectable currencies.
func (r Resolution) Offers(code money.Code) bool {
	for _, c := range r.Choices {
		if c == code {
			return true
		}
	}
	return false
}

// WithCurrency switches a user-choice resolution to code.
func (r Resolution) WithCurrency(code money.Code) (Resolution, error) {
	if !r.UserSelectable || !r.Offers(code) {
		return r, ErrCurrencyNotOffered
	}
	r.Currency = code
	return r, nil
}

// DefaultMethods returns the storefront's payment methods.
func DefaultMethods() []Method {
	return []Method{
		{Key: "balance", Aliases: []string{"soldes"}, Policy: BaseCurrency{}, DebitsBalance: true},
		{Key: "cash", Aliases: []string{"offline_cash"}, Policy: BaseCurrency{}},
		{Key: "bank", Aliases: []string{"bank_transfer"}, Policy: BaseCurrency{}},
		{Key: "bank_card", Aliases: []string{"Bank Card Payment", "card"}, Policy: UserChoice{Codes: []money.Code{"USD", "EUR"}}, Expandable: true},
		{Key: "paypal", Policy: UserChoice{Codes: []money.Code{"USD", "EUR"}}, Expandable: true},
		{Key: "wave", Policy: FixedCurrency{Code: "FCFA"}},
		{Key: "mobile_money", Aliases: []string{"Brainnel Pay"}, Policy: LocalByCountry{}},
	}
}
