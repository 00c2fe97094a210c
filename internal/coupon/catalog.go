package coupon

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Catalog resolves coupon codes into coupon definitions.
type Catalog interface {
	Lookup(ctx context.Context, code string) (Coupon, error)
}

// StaticCatalog serves a fixed in-memory set of coupons.
type StaticCatalog struct {
	mu      sync.RWMutex
	coupons map[string]Coupon
}

// NewStaticCatalog validates and indexes the provided coupons.
func NewStaticCatalog(coupons ...Coupon) (*StaticCatalog, error) {
	c := &StaticCatalog{coupons: make(map[string]Coupon, len(coupons))}
	for _, cp := range coupons {
		if err := c.Put(cp); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Put adds or replaces a coupon definition.
func (c *StaticCatalog) Put(cp Coupon) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	cp.Code = NormaliseCode(cp.Code)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.coupons[cp.Code] = cp
	return nil
}

// Lookup returns the coupon registered under code.
func (c *StaticCatalog) Lookup(ctx context.Context, code string) (Coupon, error) {
	if err := ctx.Err(); err != nil {
		return Coupon{}, err
	}
	key := NormaliseCode(code)
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp, ok := c.coupons[key]
	if !ok {
		return Coupon{}, fmt.Errorf("%w: unknown code %q", ErrInvalidCoupon, key)
	}
	return cp, nil
}

// DefaultCoupons are the promotional codes offered by the storefront.
func DefaultCoupons() []Coupon {
	return []Coupon{
		{Code: "WELCOME10", Name: "Welcome 10% Off", Kind: Percent, Value: decimal.NewFromInt(10)},
		{Code: "SAVE20", Name: "$20 Off", Kind: Fixed, Value: decimal.NewFromInt(20)},
		{Code: "FREESHIP", Name: "Free Domestic Shipping", Kind: Fixed, Value: decimal.RequireFromString("25.50")},
	}
}
