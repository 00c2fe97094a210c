package submission

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/checkout-settlement/internal/money"
	"github.com/noah-isme/checkout-settlement/internal/obs"
)

// OrderRecord is the order created by the storefront.
type OrderRecord struct {
	OrderID    string
	OrderNo    string
	Status     string
	PaymentURL string
}

// Confirmation asks the payment backend to collect Amount for an order.
type Confirmation struct {
	OrderID     string
	Method      string
	Currency    money.Code
	Amount      decimal.Decimal
	PhoneNumber string
}

// PaymentOutcome is the payment backend's answer.
type PaymentOutcome struct {
	Success    bool
	PaymentURL string
}

// OrderCreator creates orders from assembled payloads.
type OrderCreator interface {
	CreateOrder(ctx context.Context, p Payload) (OrderRecord, error)
}

// PaymentConfirmer starts payment collection for a created order.
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, c Confirmation) (PaymentOutcome, error)
}

// Receipt summarises a successful submission.
type Receipt struct {
	Order   OrderRecord
	Payment PaymentOutcome
	Payload Payload
}

// Submitter assembles and sends orders. Payments may be nil for deployments
// that only create orders.
type Submitter struct {
	Orders   OrderCreator
	Payments PaymentConfirmer
	Logger   zerolog.Logger
}

// Submit validates the input locally, creates the order and confirms its payment.
// Cash on delivery orders still confirm the prepaid part.
func (s *Submitter) Submit(ctx context.Context, in Input, phone string) (Receipt, error) {
	if s == nil || s.Orders == nil {
		return Receipt{}, errors.New("submission: order creator not configured")
	}
	payload, err := Assemble(in)
	if err != nil {
		recordSubmission(in, "rejected")
		return Receipt{}, err
	}
	order, err := s.Orders.CreateOrder(ctx, payload)
	if err != nil {
		recordSubmission(in, "order_failed")
		return Receipt{}, fmt.Errorf("submission: create order: %w", err)
	}
	receipt := Receipt{Order: order, Payload: payload}
	s.Logger.Info().
		Str("order_id", order.OrderID).
		Str("payment_method", payload.PaymentMethod).
		Str("currency", payload.Currency.String()).
		Str("total_amount", payload.TotalAmount.String()).
		Bool("is_cod", payload.IsCOD).
		Msg("order_created")

	if s.Payments == nil {
		receipt.Payment = PaymentOutcome{PaymentURL: order.PaymentURL}
		recordSubmission(in, "created")
		return receipt, nil
	}
	outcome, err := s.Payments.ConfirmPayment(ctx, Confirmation{
		OrderID:     order.OrderID,
		Method:      payload.PaymentMethod,
		Currency:    payload.Currency,
		Amount:      payload.ActualAmount,
		PhoneNumber: strings.TrimSpace(phone),
	})
	if err != nil {
		recordSubmission(in, "payment_failed")
		return receipt, fmt.Errorf("submission: confirm payment for order %s: %w", order.OrderID, err)
	}
	receipt.Payment = outcome
	if !outcome.Success {
		recordSubmission(in, "payment_declined")
		s.Logger.Warn().Str("order_id", order.OrderID).Msg("payment_declined")
		return receipt, nil
	}
	recordSubmission(in, "confirmed")
	return receipt, nil
}

func recordSubmission(in Input, result string) {
	if obs.SubmissionTotal == nil {
		return
	}
	method := "none"
	if in.Resolution != nil {
		method = in.Resolution.Method.Key
	}
	obs.SubmissionTotal.WithLabelValues(method, result).Inc()
}
