package storefront

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/noah-isme/checkout-settlement/internal/money"
	"github.com/noah-isme/checkout-settlement/internal/pricing"
)

const previewPath = "/api/orders/preview/"

type previewItemRequest struct {
	CartItemID int64  `json:"cart_item_id,omitempty"`
	OfferID    string `json:"offer_id,omitempty"`
	SKUID      string `json:"sku_id,omitempty"`
	Quantity   int    `json:"quantity,omitempty"`
}

type previewRequest struct {
	Items        []previewItemRequest `json:"items"`
	AddressID    int64                `json:"address_id,omitempty"`
	Country      string               `json:"country,omitempty"`
	ShippingType int                  `json:"shipping_type"`
}

type skuAttribute struct {
	Name  string `json:"attribute_name"`
	Value string `json:"value"`
}

type previewItem struct {
	OfferID      flexID         `json:"offer_id"`
	CartItemID   int64          `json:"cart_item_id"`
	SKUID        flexID         `json:"sku_id"`
	ProductName  string         `json:"product_name"`
	ProductImage string         `json:"product_image"`
	Attributes   []skuAttribute `json:"sku_attributes"`
	Quantity     int            `json:"quantity"`
	UnitPrice    json.Number    `json:"unit_price"`
	TotalPrice   json.Number    `json:"total_price"`
}

type previewResponse struct {
	Currency            string        `json:"currency"`
	TotalAmount         json.Number   `json:"total_amount"`
	DomesticShippingFee json.Number   `json:"domestic_shipping_fee"`
	ShippingFeeSea      json.Number   `json:"shipping_fee_sea"`
	ShippingFeeAir      json.Number   `json:"shipping_fee_air"`
	Items               []previewItem `json:"items"`
}

// Quote prices the selected cart lines. The international fee follows the
// requested shipping type.
func (c *Client) Quote(ctx context.Context, req pricing.QuoteRequest) (pricing.Quote, error) {
	body := previewRequest{AddressID: req.AddressID, Country: req.Country, ShippingType: int(req.ShippingType)}
	for _, it := range req.Items {
		body.Items = append(body.Items, previewItemRequest(it))
	}
	var resp previewResponse
	if err := c.do(ctx, call{method: http.MethodPost, path: previewPath, in: body, out: &resp, replayable: true}); err != nil {
		return pricing.Quote{}, err
	}
	return resp.quote(req.ShippingType)
}

func (r previewResponse) quote(shipping pricing.ShippingType) (pricing.Quote, error) {
	code := money.ParseCode(r.Currency)
	if code.IsZero() {
		return pricing.Quote{}, errors.New("storefront: preview without currency")
	}
	intl := r.ShippingFeeSea
	if shipping == pricing.ShippingAir {
		intl = r.ShippingFeeAir
	}
	var (
		q   = pricing.Quote{Currency: code}
		err error
	)
	if q.Subtotal, err = parseMoney("total_amount", r.TotalAmount, code); err != nil {
		return pricing.Quote{}, err
	}
	if q.DomesticShippingFee, err = parseMoney("domestic_shipping_fee", r.DomesticShippingFee, code); err != nil {
		return pricing.Quote{}, err
	}
	if q.InternationalShippingFee, err = parseMoney("shipping_fee_"+shipping.String(), intl, code); err != nil {
		return pricing.Quote{}, err
	}
	for _, it := range r.Items {
		li := pricing.LineItem{
			OfferID:     it.OfferID.String(),
			CartItemID:  it.CartItemID,
			SKUID:       it.SKUID.String(),
			ProductName: it.ProductName,
			ImageURL:    it.ProductImage,
			Quantity:    it.Quantity,
		}
		for _, a := range it.Attributes {
			li.Attributes = append(li.Attributes, pricing.SKUAttribute{Name: a.Name, Value: a.Value})
		}
		if li.UnitPrice, err = parseMoney("unit_price", it.UnitPrice, code); err != nil {
			return pricing.Quote{}, err
		}
		if li.TotalPrice, err = parseMoney("total_price", it.TotalPrice, code); err != nil {
			return pricing.Quote{}, err
		}
		q.Items = append(q.Items, li)
	}
	if err := q.Validate(); err != nil {
		return pricing.Quote{}, err
	}
	return q, nil
}
