package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/checkout-settlement/internal/conversion"
	"github.com/noah-isme/checkout-settlement/internal/coupon"
	"github.com/noah-isme/checkout-settlement/internal/events"
	"github.com/noah-isme/checkout-settlement/internal/money"
	"github.com/noah-isme/checkout-settlement/internal/policy"
	"github.com/noah-isme/checkout-settlement/internal/pricing"
	"github.com/noah-isme/checkout-settlement/internal/submission"
)

// OpenRequest starts a session from a storefront preview.
type OpenRequest struct {
	Buyer           policy.Buyer
	Quote           pricing.QuoteRequest
	ReceiverAddress string
	BuyerMessage    string
}

// Service opens checkout sessions and runs the operations that emit events.
type Service struct {
	Store             *Store
	Registry          *policy.Registry
	Catalog           coupon.Catalog
	Converter         conversion.Converter
	Quotes            pricing.Quoter
	Submitter         *submission.Submitter
	Events            *events.Bus
	Dispatch          Dispatcher
	ConversionTimeout time.Duration
	Logger            zerolog.Logger
}

// Open fetches the quote and registers a new session.
func (s *Service) Open(ctx context.Context, req OpenRequest) (*Session, error) {
	if s == nil || s.Store == nil || s.Quotes == nil {
		return nil, errors.New("checkout service not configured")
	}
	if strings.TrimSpace(req.Buyer.ID) == "" {
		return nil, errors.New("checkout: buyer id is required")
	}
	if req.Quote.BuyerID == "" {
		req.Quote.BuyerID = req.Buyer.ID
	}
	if req.Quote.Country == "" {
		req.Quote.Country = req.Buyer.Country
	}
	quote, err := s.Quotes.Quote(ctx, req.Quote)
	if err != nil {
		return nil, fmt.Errorf("checkout: preview order: %w", err)
	}
	if b := req.Buyer.Balance; b != nil && b.Currency.IsZero() {
		held := money.New(b.Amount, quote.Currency)
		req.Buyer.Balance = &held
	}
	sess, err := NewSession(uuid.NewString(), quote, req.Buyer, submission.Order{
		AddressID:       req.Quote.AddressID,
		ReceiverAddress: req.ReceiverAddress,
		BuyerMessage:    req.BuyerMessage,
		ShippingType:    req.Quote.ShippingType,
		Items:           quote.Items,
	}, Options{
		Registry:          s.Registry,
		Catalog:           s.Catalog,
		Converter:         s.Converter,
		Dispatch:          s.Dispatch,
		ConversionTimeout: s.ConversionTimeout,
		Events:            s.Events,
		Logger:            s.Logger,
	})
	if err != nil {
		return nil, err
	}
	s.Store.Put(sess)
	s.Logger.Info().
		Str("session_id", sess.ID()).
		Str("buyer_id", req.Buyer.ID).
		Str("base_currency", quote.Currency.String()).
		Int("items", len(quote.Items)).
		Msg("checkout_session_opened")
	s.emit(ctx, events.TopicSessionOpened, sess.ID(), map[string]any{
		"buyerId":      req.Buyer.ID,
		"baseCurrency": quote.Currency,
		"subtotal":     quote.Subtotal.Amount,
	})
	return sess, nil
}

// Session returns the session with id.
func (s *Service) Session(id string) (*Session, error) {
	if s == nil || s.Store == nil {
		return nil, ErrSessionNotFound
	}
	return s.Store.Get(id)
}

// ApplyCoupon applies code to the session and emits TopicCouponApplied.
func (s *Service) ApplyCoupon(ctx context.Context, id, code string) (*Session, coupon.Coupon, error) {
	sess, err := s.Session(id)
	if err != nil {
		return nil, coupon.Coupon{}, err
	}
	c, err := sess.ApplyCoupon(ctx, code)
	if err != nil {
		return sess, coupon.Coupon{}, err
	}
	s.emit(ctx, events.TopicCouponApplied, id, map[string]any{"code": c.Code, "kind": c.Kind, "value": c.Value})
	return sess, c, nil
}

// RemoveCoupon drops code and emits TopicCouponRemoved when it was applied.
func (s *Service) RemoveCoupon(ctx context.Context, id, code string) (*Session, bool, error) {
	sess, err := s.Session(id)
	if err != nil {
		return nil, false, err
	}
	code = coupon.NormaliseCode(code)
	removed, err := sess.RemoveCoupon(ctx, code)
	if err != nil {
		return sess, false, err
	}
	if removed {
		s.emit(ctx, events.TopicCouponRemoved, id, map[string]any{"code": code})
	}
	return sess, removed, nil
}

// Submit creates the order for the session and confirms its payment.
func (s *Service) Submit(ctx context.Context, id, phone string) (submission.Receipt, error) {
	sess, err := s.Session(id)
	if err != nil {
		return submission.Receipt{}, err
	}
	receipt, err := sess.Submit(ctx, s.Submitter, phone)
	if receipt.Order.OrderID == "" {
		return receipt, err
	}
	p := receipt.Payload
	s.emit(ctx, events.TopicOrderSubmitted, id, map[string]any{
		"orderId":       receipt.Order.OrderID,
		"orderNo":       receipt.Order.OrderNo,
		"paymentMethod": p.PaymentMethod,
		"currency":      p.Currency,
		"totalAmount":   p.TotalAmount,
		"isCod":         p.IsCOD,
		"couponCodes":   p.CouponCodes,
	})
	switch {
	case err == nil && receipt.Payment.Success:
		s.emit(ctx, events.TopicPaymentConfirmed, id, map[string]any{
			"orderId":    receipt.Order.OrderID,
			"paymentUrl": receipt.Payment.PaymentURL,
		})
	case s.Submitter != nil && s.Submitter.Payments != nil:
		reason := "declined"
		if err != nil {
			reason = err.Error()
		}
		s.emit(ctx, events.TopicPaymentNotAccepted, id, map[string]any{
			"orderId": receipt.Order.OrderID,
			"reason":  reason,
		})
	}
	return receipt, err
}

// Sweep runs until ctx is done, dropping sessions idle for longer than maxAge.
func (s *Service) Sweep(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 || maxAge <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.Store.Sweep(now, maxAge); n > 0 {
				s.Logger.Info().Int("removed", n).Int("active", s.Store.Len()).Msg("checkout_sessions_swept")
			}
		}
	}
}

func (s *Service) emit(ctx context.Context, topic, id string, payload any) {
	if _, err := s.Events.Emit(ctx, topic, id, payload); err != nil {
		s.Logger.Warn().Err(err).Str("topic", topic).Str("session_id", id).Msg("event_emit_failed")
	}
}
