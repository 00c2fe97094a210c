package storefront

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/noah-isme/checkout-settlement/internal/submission"
)

const (
	createOrderPath    = "/api/orders/cart/"
	confirmPaymentPath = "/api/payment/confirm/"
)

type orderItemBody struct {
	OfferID      string      `json:"offer_id"`
	CartItemID   int64       `json:"cart_item_id,omitempty"`
	SKUID        string      `json:"sku_id,omitempty"`
	ProductName  string      `json:"product_name"`
	ProductImage string      `json:"product_image,omitempty"`
	Quantity     int         `json:"quantity"`
	UnitPrice    json.Number `json:"unit_price"`
	TotalPrice   json.Number `json:"total_price"`
}

type createOrderBody struct {
	AddressID           int64           `json:"address_id"`
	Items               []orderItemBody `json:"items"`
	BuyerMessage        string          `json:"buyer_message,omitempty"`
	PaymentMethod       string          `json:"payment_method"`
	CreatePayment       bool            `json:"create_payment"`
	TotalAmount         json.Number     `json:"total_amount"`
	ActualAmount        json.Number     `json:"actual_amount"`
	DiscountAmount      json.Number     `json:"discount_amount"`
	ShippingFee         json.Number     `json:"shipping_fee"`
	DomesticShippingFee json.Number     `json:"domestic_shipping_fee"`
	Currency            string          `json:"currency"`
	ReceiverAddress     string          `json:"receiver_address"`
	ShippingType        int             `json:"shipping_type"`
	IsCOD               int             `json:"is_cod"`
	CouponCodes         []string        `json:"coupon_codes,omitempty"`
}

type createOrderResponse struct {
	OrderID    flexID `json:"order_id"`
	OrderNo    string `json:"order_no"`
	Status     string `json:"status"`
	PaymentURL string `json:"payment_url"`
}

// CreateOrder implements submission.OrderCreator. It is never retried.
func (c *Client) CreateOrder(ctx context.Context, p submission.Payload) (submission.OrderRecord, error) {
	body := createOrderBody{
		AddressID:           p.AddressID,
		BuyerMessage:        p.BuyerMessage,
		PaymentMethod:       p.PaymentMethod,
		CreatePayment:       p.CreatePayment,
		TotalAmount:         number(p.TotalAmount),
		ActualAmount:        number(p.ActualAmount),
		DiscountAmount:      number(p.DiscountAmount),
		ShippingFee:         number(p.ShippingFee),
		DomesticShippingFee: number(p.DomesticShippingFee),
		Currency:            p.Currency.String(),
		ReceiverAddress:     p.ReceiverAddress,
		ShippingType:        int(p.ShippingType),
		CouponCodes:         p.CouponCodes,
	}
	if p.IsCOD {
		body.IsCOD = 1
	}
	for _, it := range p.Items {
		body.Items = append(body.Items, orderItemBody{
			OfferID:      it.OfferID,
			CartItemID:   it.CartItemID,
			SKUID:        it.SKUID,
			ProductName:  it.ProductName,
			ProductImage: it.ProductImage,
			Quantity:     it.Quantity,
			UnitPrice:    number(it.UnitPrice),
			TotalPrice:   number(it.TotalPrice),
		})
	}
	var resp createOrderResponse
	if err := c.do(ctx, call{method: http.MethodPost, path: createOrderPath, in: body, out: &resp}); err != nil {
		return submission.OrderRecord{}, err
	}
	return submission.OrderRecord{
		OrderID:    resp.OrderID.String(),
		OrderNo:    resp.OrderNo,
		Status:     resp.Status,
		PaymentURL: resp.PaymentURL,
	}, nil
}

type confirmBody struct {
	OrderID  string            `json:"order_id"`
	Method   string            `json:"method"`
	Currency string            `json:"currency"`
	Amount   json.Number       `json:"amount"`
	Extra    map[string]string `json:"extra,omitempty"`
}

type confirmResponse struct {
	Success    bool   `json:"success"`
	PaymentURL string `json:"payment_url"`
}

// ConfirmPayment implements submission.PaymentConfirmer.
func (c *Client) ConfirmPayment(ctx context.Context, conf submission.Confirmation) (submission.PaymentOutcome, error) {
	body := confirmBody{
		OrderID:  conf.OrderID,
		Method:   conf.Method,
		Currency: conf.Currency.String(),
		Amount:   number(conf.Amount),
	}
	if conf.PhoneNumber != "" {
		body.Extra = map[string]string{"phone_number": conf.PhoneNumber}
	}
	var resp confirmResponse
	if err := c.do(ctx, call{method: http.MethodPost, path: confirmPaymentPath, in: body, out: &resp}); err != nil {
		return submission.PaymentOutcome{}, err
	}
	return submission.PaymentOutcome{Success: resp.Success, PaymentURL: resp.PaymentURL}, nil
}

// Ping probes the backend through the cheapest read endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, call{method: http.MethodGet, path: countriesPath})
}
