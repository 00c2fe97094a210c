package storefront

import (
	"context"
	"net/http"
	"strings"

	"github.com/noah-isme/checkout-settlement/internal/money"
)

const countriesPath = "/api/user_settings/countries/"

// Country is one entry of the storefront country directory.
type Country struct {
	Code     string     `json:"country"`
	Currency money.Code `json:"currency"`
	Name     string     `json:"name"`
	NameEn   string     `json:"name_en,omitempty"`
	Language string     `json:"language,omitempty"`
	Timezone string     `json:"timezone,omitempty"`
}

type countryWire struct {
	Country  flexID `json:"country"`
	Currency string `json:"currency"`
	Name     string `json:"name"`
	NameEn   string `json:"name_en"`
	Language string `json:"language"`
	Timezone string `json:"timezone"`
}

// ListCountries returns the country directory.
func (c *Client) ListCountries(ctx context.Context) ([]Country, error) {
	var wire []countryWire
	if err := c.do(ctx, call{method: http.MethodGet, path: countriesPath, out: &wire}); err != nil {
		return nil, err
	}
	out := make([]Country, 0, len(wire))
	for _, w := range wire {
		code := strings.TrimSpace(w.Country.String())
		if code == "" {
			continue
		}
		out = append(out, Country{
			Code:     code,
			Currency: money.ParseCode(w.Currency),
			Name:     w.Name,
			NameEn:   w.NameEn,
			Language: w.Language,
			Timezone: w.Timezone,
		})
	}
	return out, nil
}
