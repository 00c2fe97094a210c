package checkout

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/checkout-settlement/internal/conversion"
	"github.com/noah-isme/checkout-settlement/internal/coupon"
	"github.com/noah-isme/checkout-settlement/internal/money"
	"github.com/noah-isme/checkout-settlement/internal/policy"
	"github.com/noah-isme/checkout-settlement/internal/pricing"
	"github.com/noah-isme/checkout-settlement/internal/settlement"
)

// Snapshot is a consistent copy of a session's state.
type Snapshot struct {
	ID             string
	Quote          pricing.Quote
	Breakdown      pricing.Breakdown
	Resolution     *policy.Resolution
	COD            bool
	PanelOpen      bool
	Coupons        []coupon.Coupon
	PendingCoupons int
	Conversion     conversion.State
	Amounts        settlement.Amounts
	AmountsErr     error
	SubmitErr      error
	Submitted      bool
}

// AmountView is a decimal amount with its buyer-facing rendering.
type AmountView struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency money.Code      `json:"currency"`
	Display  string          `json:"display"`
}

func amountView(m money.Money, locale string) AmountView {
	return AmountView{Amount: m.Amount, Currency: m.Currency, Display: m.Display(locale)}
}

// AmountsView renders settlement.Amounts.
type AmountsView struct {
	Currency              money.Code `json:"currency"`
	Subtotal              AmountView `json:"subtotal"`
	DomesticShipping      AmountView `json:"domesticShipping"`
	InternationalShipping AmountView `json:"internationalShipping"`
	Total                 AmountView `json:"total"`
	Converted             bool       `json:"converted"`
	Stale                 bool       `json:"stale"`
}

// NewAmountsView renders a for locale.
func NewAmountsView(a settlement.Amounts, locale string) AmountsView {
	return AmountsView{
		Currency:              a.Currency,
		Subtotal:              amountView(a.Subtotal, locale),
		DomesticShipping:      amountView(a.DomesticShipping, locale),
		InternationalShipping: amountView(a.InternationalShipping, locale),
		Total:                 amountView(a.Total, locale),
		Converted:             a.Converted,
		Stale:                 a.Stale,
	}
}

// CouponView is an applied coupon.
type CouponView struct {
	Code  string          `json:"code"`
	Name  string          `json:"name,omitempty"`
	Kind  string          `json:"kind"`
	Value decimal.Decimal `json:"value"`
}

// PaymentView describes the selected method.
type PaymentView struct {
	Method          string       `json:"method"`
	Policy          string       `json:"policy"`
	Currency        money.Code   `json:"currency"`
	NeedsConversion bool         `json:"needsConversion"`
	Choices         []money.Code `json:"choices,omitempty"`
	PanelOpen       bool         `json:"panelOpen"`
	FellBack        bool         `json:"fellBack,omitempty"`
}

// ConversionView exposes the coordinator state without the retained figures.
type ConversionView struct {
	Status string     `json:"status"`
	Token  uint64     `json:"token"`
	Target money.Code `json:"target,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// View is the JSON rendering of a session.
type View struct {
	ID             string         `json:"id"`
	BaseCurrency   money.Code     `json:"baseCurrency"`
	Discount       AmountView     `json:"discount"`
	Payment        *PaymentView   `json:"payment,omitempty"`
	COD            bool           `json:"cod"`
	Coupons        []CouponView   `json:"coupons"`
	PendingCoupons int            `json:"pendingCoupons"`
	Conversion     ConversionView `json:"conversion"`
	Amounts        *AmountsView   `json:"amounts,omitempty"`
	CanSubmit      bool           `json:"canSubmit"`
	BlockedBy      string         `json:"blockedBy,omitempty"`
	Submitted      bool           `json:"submitted"`
	Items          []LineItemView `json:"items"`
}

// LineItemView is one line of the quote.
type LineItemView struct {
	OfferID     string     `json:"offerId"`
	SKUID       string     `json:"skuId,omitempty"`
	ProductName string     `json:"productName"`
	ImageURL    string     `json:"imageUrl,omitempty"`
	Quantity    int        `json:"quantity"`
	UnitPrice   AmountView `json:"unitPrice"`
	TotalPrice  AmountView `json:"totalPrice"`
}

// NewView renders snap for locale.
func NewView(snap Snapshot, locale string) View {
	v := View{
		ID:             snap.ID,
		BaseCurrency:   snap.Quote.Currency,
		Discount:       amountView(snap.Breakdown.Discount, locale),
		COD:            snap.COD,
		Coupons:        make([]CouponView, 0, len(snap.Coupons)),
		PendingCoupons: snap.PendingCoupons,
		Conversion: ConversionView{
			Status: snap.Conversion.Status.String(),
			Token:  snap.Conversion.Token,
		},
		CanSubmit: snap.SubmitErr == nil,
		Submitted: snap.Submitted,
		Items:     make([]LineItemView, 0, len(snap.Quote.Items)),
	}
	if snap.Resolution != nil {
		r := snap.Resolution
		v.Payment = &PaymentView{
			Method:          r.Method.Key,
			Policy:          policy.Name(r.Method.Policy),
			Currency:        r.Currency,
			NeedsConversion: r.NeedsConversion,
			Choices:         r.Choices,
			PanelOpen:       snap.PanelOpen,
			FellBack:        r.FellBack,
		}
	}
	if p := snap.Conversion.Pending; p != nil {
		v.Conversion.Target = p.To
	} else if res := snap.Conversion.Result; res != nil {
		v.Conversion.Target = res.To
	}
	if snap.Conversion.Err != nil {
		v.Conversion.Error = snap.Conversion.Err.Error()
	}
	if snap.AmountsErr == nil {
		av := NewAmountsView(snap.Amounts, locale)
		v.Amounts = &av
	}
	if snap.SubmitErr != nil {
		v.BlockedBy = snap.SubmitErr.Error()
	}
	for _, c := range snap.Coupons {
		v.Coupons = append(v.Coupons, CouponView{Code: c.Code, Name: c.Name, Kind: string(c.Kind), Value: c.Value})
	}
	for _, it := range snap.Quote.Items {
		v.Items = append(v.Items, LineItemView{
			OfferID:     it.OfferID,
			SKUID:       it.SKUID,
			ProductName: it.ProductName,
			ImageURL:    it.ImageURL,
			Quantity:    it.Quantity,
			UnitPrice:   amountView(it.UnitPrice, locale),
			TotalPrice:  amountView(it.TotalPrice, locale),
		})
	}
	return v
}
