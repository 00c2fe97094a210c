package submission

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/checkout-settlement/internal/conversion"
	"github.com/noah-isme/checkout-settlement/internal/money"
	"github.com/noah-isme/checkout-settlement/internal/policy"
	"github.com/noah-isme/checkout-settlement/internal/pricing"
	"github.com/noah-isme/checkout-settlement/internal/settlement"
)

var (
	// ErrSubmissionPrecondition rejects a submission locally, before any network call.
	ErrSubmissionPrecondition = errors.New("submission: precondition failed")
	// ErrInsufficientBalance is returned when a wallet method cannot cover the total.
	ErrInsufficientBalance = errors.New("submission: insufficient balance")
)

// Order holds the non-monetary order details collected at checkout.
type Order struct {
	AddressID       int64
	ReceiverAddress string
	BuyerMessage    string
	ShippingType    pricing.ShippingType
	Items           []pricing.LineItem
}

// Input is everything the assembler needs from a checkout session.
type Input struct {
	Resolution     *policy.Resolution
	Conversion     conversion.State
	PendingCoupons int
	Breakdown      pricing.Breakdown
	COD            bool
	CouponCodes    []string
	Buyer          policy.Buyer
	Order          Order
}

// Item is one order line in the create-order body.
type Item struct {
	OfferID      string          `json:"offer_id"`
	CartItemID   int64           `json:"cart_item_id,omitempty"`
	SKUID        string          `json:"sku_id,omitempty"`
	ProductName  string          `json:"product_name"`
	ProductImage string          `json:"product_image,omitempty"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	TotalPrice   decimal.Decimal `json:"total_price"`
}

// Payload is the create-order request body. TotalAmount and ActualAmount are always equal.
type Payload struct {
	PaymentMethod       string               `json:"payment_method"`
	Currency            money.Code           `json:"currency"`
	TotalAmount         decimal.Decimal      `json:"total_amount"`
	ActualAmount        decimal.Decimal      `json:"actual_amount"`
	ShippingFee         decimal.Decimal      `json:"shipping_fee"`
	DomesticShippingFee decimal.Decimal      `json:"domestic_shipping_fee"`
	DiscountAmount      decimal.Decimal      `json:"discount_amount"`
	IsCOD               bool                 `json:"is_cod"`
	CouponCodes         []string             `json:"coupon_codes,omitempty"`
	AddressID           int64                `json:"address_id"`
	ReceiverAddress     string               `json:"receiver_address"`
	BuyerMessage        string               `json:"buyer_message,omitempty"`
	ShippingType        pricing.ShippingType `json:"shipping_type"`
	CreatePayment       bool                 `json:"create_payment"`
	Items               []Item               `json:"items"`
}

// Check reports why the input cannot be submitted, or nil when it can.
func Check(in Input) error {
	if in.Resolution == nil {
		return fmt.Errorf("%w: no payment method selected", ErrSubmissionPrecondition)
	}
	if in.Resolution.NeedsConversion && !in.Conversion.ReadyFor(in.Resolution.Currency) {
		return fmt.Errorf("%w: conversion to %s is %s", ErrSubmissionPrecondition, in.Resolution.Currency, in.Conversion.Status)
	}
	if in.PendingCoupons > 0 {
		return fmt.Errorf("%w: coupon recompute pending", ErrSubmissionPrecondition)
	}
	return nil
}

// Assemble checks the preconditions and maps the settlement amounts into the order payload.
func Assemble(in Input) (Payload, error) {
	if err := Check(in); err != nil {
		return Payload{}, err
	}
	amounts, err := settlement.Calculate(settlement.Input{
		Breakdown:  in.Breakdown,
		Resolution: in.Resolution,
		Conversion: in.Conversion,
		COD:        in.COD,
	})
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %w", ErrSubmissionPrecondition, err)
	}
	if amounts.Stale {
		return Payload{}, fmt.Errorf("%w: amounts are stale", ErrSubmissionPrecondition)
	}
	if err := checkBalance(in.Resolution.Method, in.Buyer, amounts.Total); err != nil {
		return Payload{}, err
	}

	items := make([]Item, 0, len(in.Order.Items))
	for _, li := range in.Order.Items {
		items = append(items, Item{
			OfferID:      li.OfferID,
			CartItemID:   li.CartItemID,
			SKUID:        li.SKUID,
			ProductName:  li.ProductName,
			ProductImage: li.ImageURL,
			Quantity:     li.Quantity,
			UnitPrice:    li.UnitPrice.Amount,
			TotalPrice:   li.TotalPrice.Amount,
		})
	}
	return Payload{
		PaymentMethod:       in.Resolution.Method.Key,
		Currency:            amounts.Currency,
		TotalAmount:         amounts.Total.Amount,
		ActualAmount:        amounts.Total.Amount,
		ShippingFee:         amounts.InternationalShipping.Amount,
		DomesticShippingFee: amounts.DomesticShipping.Amount,
		DiscountAmount:      in.Breakdown.Discount.Amount,
		IsCOD:               in.COD,
		CouponCodes:         append([]string(nil), in.CouponCodes...),
		AddressID:           in.Order.AddressID,
		ReceiverAddress:     in.Order.ReceiverAddress,
		BuyerMessage:        in.Order.BuyerMessage,
		ShippingType:        in.Order.ShippingType,
		CreatePayment:       true,
		Items:               items,
	}, nil
}

// checkBalance rejects wallet methods whose known balance is below total. An
// unknown balance is left to the order service.
func checkBalance(m policy.Method, buyer policy.Buyer, total money.Money) error {
	if !m.DebitsBalance || buyer.Balance == nil {
		return nil
	}
	if buyer.Balance.Currency != total.Currency {
		return fmt.Errorf("%w: balance held in %s, total in %s", ErrSubmissionPrecondition, buyer.Balance.Currency, total.Currency)
	}
	if buyer.Balance.Cmp(total) < 0 {
		return fmt.Errorf("%w: balance %s below total %s", ErrInsufficientBalance, buyer.Balance, total)
	}
	return nil
}
