package storefront

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/noah-isme/checkout-settlement/internal/conversion"
)

const convertPath = "/api/payment/convert/"

type convertRequest struct {
	FromCurrency string                 `json:"from_currency"`
	ToCurrency   string                 `json:"to_currency"`
	Amounts      map[string]json.Number `json:"amounts"`
}

type convertedAmount struct {
	ItemKey         string      `json:"item_key"`
	OriginalAmount  json.Number `json:"original_amount"`
	ConvertedAmount json.Number `json:"converted_amount"`
}

type convertResponse struct {
	ConvertedAmounts []convertedAmount `json:"converted_amounts_list"`
}

// Convert implements conversion.Converter against the payment service.
func (c *Client) Convert(ctx context.Context, req conversion.Request) (conversion.Result, error) {
	body := convertRequest{
		FromCurrency: req.From.String(),
		ToCurrency:   req.To.String(),
		Amounts:      make(map[string]json.Number, 3),
	}
	for key, v := range req.Amounts.Items() {
		body.Amounts[key] = number(v)
	}
	var resp convertResponse
	if err := c.do(ctx, call{method: http.MethodPost, path: convertPath, in: body, out: &resp, replayable: true}); err != nil {
		return conversion.Result{}, err
	}
	items := make([]conversion.Item, 0, len(resp.ConvertedAmounts))
	for _, it := range resp.ConvertedAmounts {
		orig, err := parseNumber(it.ItemKey+".original_amount", it.OriginalAmount)
		if err != nil {
			return conversion.Result{}, err
		}
		conv, err := requireNumber(it.ItemKey+".converted_amount", it.ConvertedAmount, conversion.ErrMalformedResult)
		if err != nil {
			return conversion.Result{}, err
		}
		items = append(items, conversion.Item{Key: it.ItemKey, Original: orig, Converted: conv})
	}
	amounts, err := conversion.AmountsFromItems(items, req.To)
	if err != nil {
		return conversion.Result{}, err
	}
	return conversion.Result{Token: req.Token, From: req.From, To: req.To, Converted: amounts}, nil
}
