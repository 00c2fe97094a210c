package pricing

import (
	"context"
	"fmt"
)

// ShippingType is the international transport mode. Sea and air legs are quoted separately.
type ShippingType int

const (
	ShippingSea ShippingType = 0
	ShippingAir ShippingType = 1
)

// ParseShippingType accepts the wire values 0 (sea) and 1 (air).
func ParseShippingType(v int) (ShippingType, error) {
	switch ShippingType(v) {
	case ShippingSea, ShippingAir:
		return ShippingType(v), nil
	default:
		return 0, fmt.Errorf("pricing: unknown shipping type %d", v)
	}
}

func (t ShippingType) String() string {
	if t == ShippingAir {
		return "air"
	}
	return "sea"
}

// QuoteItem selects a cart line for the preview.
type QuoteItem struct {
	CartItemID int64
	OfferID    string
	SKUID      string
	Quantity   int
}

// QuoteRequest asks the order service to price a cart for a destination.
type QuoteRequest struct {
	BuyerID      string
	Country      string
	AddressID    int64
	ShippingType ShippingType
	Items        []QuoteItem
}

// Quoter fetches order previews.
type Quoter interface {
	Quote(ctx context.Context, req QuoteRequest) (Quote, error)
}
