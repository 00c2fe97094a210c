package checkout

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/checkout-settlement/internal/common"
	"github.com/noah-isme/checkout-settlement/internal/money"
	"github.com/noah-isme/checkout-settlement/internal/policy"
	"github.com/noah-isme/checkout-settlement/internal/pricing"
)

// Handler exposes checkout sessions over HTTP.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
	// Locale renders display amounts when the request has no ?locale=.
	Locale string
	// ConversionLimit wraps the routes that issue conversion requests.
	ConversionLimit func(http.Handler) http.Handler
	// SubmitGuard wraps the submit route, usually with idempotency checks.
	SubmitGuard func(http.Handler) http.Handler
}

type openItem struct {
	CartItemID int64  `json:"cartItemId" validate:"required,gt=0"`
	OfferID    string `json:"offerId"`
	SKUID      string `json:"skuId"`
	Quantity   int    `json:"quantity" validate:"gte=1"`
}

type openBalance struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" validate:"omitempty,min=3,max=4"`
}

type openBody struct {
	BuyerID         string       `json:"buyerId" validate:"required"`
	Country         string       `json:"country" validate:"omitempty,max=8"`
	AccountCurrency string       `json:"accountCurrency" validate:"omitempty,min=3,max=4"`
	Balance         *openBalance `json:"balance"`
	AddressID       int64        `json:"addressId" validate:"required,gt=0"`
	ShippingType    int          `json:"shippingType" validate:"oneof=0 1"`
	ReceiverAddress string       `json:"receiverAddress" validate:"max=500"`
	BuyerMessage    string       `json:"buyerMessage" validate:"max=500"`
	Items           []openItem   `json:"items" validate:"required,min=1,dive"`
}

type methodBody struct {
	Method string `json:"method" validate:"required,max=32"`
}

type currencyBody struct {
	Currency string `json:"currency" validate:"required,min=3,max=4"`
}

type codBody struct {
	COD *bool `json:"cod" validate:"required"`
}

type couponBody struct {
	Code string `json:"code" validate:"required,max=64"`
}

type submitBody struct {
	PhoneNumber string `json:"phoneNumber" validate:"omitempty,max=20"`
}

// Routes mounts the session endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	limit := h.ConversionLimit
	if limit == nil {
		limit = passthrough
	}
	guard := h.SubmitGuard
	if guard == nil {
		guard = passthrough
	}
	r.Post("/", h.Open)
	r.Route("/{sessionID}", func(s chi.Router) {
		s.Get("/", h.Get)
		s.With(limit).Put("/payment-method", h.SelectPaymentMethod)
		s.With(limit).Put("/currency", h.SelectCurrency)
		s.Put("/cod", h.SetCOD)
		s.With(limit).Post("/coupons", h.ApplyCoupon)
		s.With(limit).Delete("/coupons/{code}", h.RemoveCoupon)
		s.With(limit).Post("/conversion/retry", h.RetryConversion)
		s.Get("/amounts", h.Amounts)
		s.Get("/submission", h.Submission)
		s.With(guard).Post("/submit", h.Submit)
	})
}

func passthrough(next http.Handler) http.Handler { return next }

// Open creates a session from a storefront preview.
func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	var body openBody
	if !h.decode(w, r, &body) {
		return
	}
	req := OpenRequest{
		Buyer: policy.Buyer{
			ID:              body.BuyerID,
			Country:         body.Country,
			AccountCurrency: money.ParseCode(body.AccountCurrency),
		},
		Quote: pricing.QuoteRequest{
			BuyerID:      body.BuyerID,
			Country:      body.Country,
			AddressID:    body.AddressID,
			ShippingType: pricing.ShippingType(body.ShippingType),
		},
		ReceiverAddress: body.ReceiverAddress,
		BuyerMessage:    body.BuyerMessage,
	}
	if body.Balance != nil {
		b := money.New(body.Balance.Amount, money.ParseCode(body.Balance.Currency))
		req.Buyer.Balance = &b
	}
	for _, it := range body.Items {
		req.Quote.Items = append(req.Quote.Items, pricing.QuoteItem{
			CartItemID: it.CartItemID,
			OfferID:    it.OfferID,
			SKUID:      it.SKUID,
			Quantity:   it.Quantity,
		})
	}
	sess, err := h.Svc.Open(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, NewView(sess.Snapshot(), h.locale(r)))
}

// Get renders the session.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	h.render(w, r, sess)
}

// SelectPaymentMethod selects or re-selects a payment method.
func (h *Handler) SelectPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var body methodBody
	sess, ok := h.sessionWithBody(w, r, &body)
	if !ok {
		return
	}
	if err := sess.SelectPaymentMethod(r.Context(), body.Method); err != nil {
		h.writeError(w, err)
		return
	}
	h.render(w, r, sess)
}

// SelectCurrency picks the settlement currency of a user-choice method.
func (h *Handler) SelectCurrency(w http.ResponseWriter, r *http.Request) {
	var body currencyBody
	sess, ok := h.sessionWithBody(w, r, &body)
	if !ok {
		return
	}
	if err := sess.SelectCurrency(r.Context(), body.Currency); err != nil {
		h.writeError(w, err)
		return
	}
	h.render(w, r, sess)
}

// SetCOD toggles cash on delivery.
func (h *Handler) SetCOD(w http.ResponseWriter, r *http.Request) {
	var body codBody
	sess, ok := h.sessionWithBody(w, r, &body)
	if !ok {
		return
	}
	if err := sess.SetCOD(*body.COD); err != nil {
		h.writeError(w, err)
		return
	}
	h.render(w, r, sess)
}

// ApplyCoupon adds a coupon.
func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var body couponBody
	if !h.decode(w, r, &body) {
		return
	}
	sess, _, err := h.Svc.ApplyCoupon(r.Context(), chi.URLParam(r, "sessionID"), body.Code)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.render(w, r, sess)
}

// RemoveCoupon drops a coupon; unknown codes are not an error.
func (h *Handler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	sess, _, err := h.Svc.RemoveCoupon(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.render(w, r, sess)
}

// RetryConversion re-issues the conversion for the active method.
func (h *Handler) RetryConversion(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := sess.RetryConversion(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Location", strings.TrimSuffix(r.URL.Path, "/conversion/retry"))
	h.renderStatus(w, r, sess, http.StatusAccepted)
}

// Amounts returns the display amounts only.
func (h *Handler) Amounts(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	amounts, err := sess.DisplayAmounts()
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, NewAmountsView(amounts, h.locale(r)))
}

// Submission previews the order payload that Submit would send.
func (h *Handler) Submission(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	payload, err := sess.BuildSubmission()
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, payload)
}

// Submit creates the order and confirms its payment.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var body submitBody
	if r.ContentLength != 0 && !h.decode(w, r, &body) {
		return
	}
	receipt, err := h.Svc.Submit(r.Context(), chi.URLParam(r, "sessionID"), body.PhoneNumber)
	if err != nil && receipt.Order.OrderID == "" {
		h.writeError(w, err)
		return
	}
	out := map[string]any{
		"orderId":        receipt.Order.OrderID,
		"orderNo":        receipt.Order.OrderNo,
		"status":         receipt.Order.Status,
		"paymentSuccess": receipt.Payment.Success,
		"paymentUrl":     receipt.Payment.PaymentURL,
		"currency":       receipt.Payload.Currency,
		"totalAmount":    receipt.Payload.TotalAmount,
	}
	if err != nil {
		// The order exists even though payment confirmation failed.
		out["paymentError"] = common.FromError(err).Code
	}
	common.Data(w, http.StatusCreated, out)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	sess, err := h.Svc.Session(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	return sess, true
}

func (h *Handler) sessionWithBody(w http.ResponseWriter, r *http.Request, dst any) (*Session, bool) {
	sess, ok := h.session(w, r)
	if !ok {
		return nil, false
	}
	if !h.decode(w, r, dst) {
		return nil, false
	}
	return sess, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", nil)
			return false
		}
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return false
	}
	if h.Validate == nil {
		return true
	}
	if err := h.Validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Namespace()] = fe.Tag()
			}
			common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "invalid payload", fields)
			return false
		}
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return false
	}
	return true
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, sess *Session) {
	h.renderStatus(w, r, sess, http.StatusOK)
}

func (h *Handler) renderStatus(w http.ResponseWriter, r *http.Request, sess *Session, status int) {
	common.Data(w, status, NewView(sess.Snapshot(), h.locale(r)))
}

func (h *Handler) locale(r *http.Request) string {
	if l := strings.TrimSpace(r.URL.Query().Get("locale")); l != "" {
		return l
	}
	if h.Locale != "" {
		return h.Locale
	}
	return "en"
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		err = common.NewAppError("NOT_FOUND", "checkout session not found", http.StatusNotFound, err)
	case errors.Is(err, ErrNoPaymentMethod):
		err = common.NewAppError("NO_PAYMENT_METHOD", err.Error(), http.StatusConflict, err)
	case errors.Is(err, ErrNoConversion):
		err = common.NewAppError("NO_CONVERSION", err.Error(), http.StatusConflict, err)
	}
	common.WriteError(w, err)
}
