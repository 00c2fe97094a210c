package checkout_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/checkout-settlement/internal/checkout"
	"github.com/noah-isme/checkout-settlement/internal/coupon"
	"github.com/noah-isme/checkout-settlement/internal/events"
	"github.com/noah-isme/checkout-settlement/internal/policy"
	"github.com/noah-isme/checkout-settlement/internal/pricing"
	"github.com/noah-isme/checkout-settlement/internal/submission"
)

type fakeQuoter struct{ got pricing.QuoteRequest }

func (f *fakeQuoter) Quote(_ context.Context, req pricing.QuoteRequest) (pricing.Quote, error) {
	f.got = req
	return sampleQuote(), nil
}

type api struct {
	server *httptest.Server
	quoter *fakeQuoter
	topics []string
}

func newAPI(t *testing.T) *api {
	t.Helper()
	registry, err := policy.NewRegistry(nil, zerolog.Nop(), policy.DefaultMethods()...)
	require.NoError(t, err)
	catalog, err := coupon.NewStaticCatalog(coupon.DefaultCoupons()...)
	require.NoError(t, err)

	a := &api{quoter: &fakeQuoter{}}
	bus := &events.Bus{Notifiers: []events.Notifier{events.NotifierFunc(func(_ context.Context, ev events.Event) error {
		a.topics = append(a.topics, ev.Topic)
		return nil
	})}}
	svc := &checkout.Service{
		Store:     checkout.NewStore(),
		Registry:  registry,
		Catalog:   catalog,
		Converter: &fakeConverter{},
		Quotes:    a.quoter,
		Submitter: &submission.Submitter{Orders: &fakeOrders{}, Payments: fakePayments{success: true}, Logger: zerolog.Nop()},
		Events:    bus,
		// Conversions complete before the handler renders.
		Dispatch: func(task func()) { task() },
		Logger:   zerolog.Nop(),
	}
	h := &checkout.Handler{Svc: svc, Validate: validator.New()}
	r := chi.NewRouter()
	r.Route("/api/v1/checkout/sessions", h.Routes)
	a.server = httptest.NewServer(r)
	t.Cleanup(a.server.Close)
	return a
}

func (a *api) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.server.URL+"/api/v1/checkout/sessions"+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func data(t *testing.T, out map[string]any) map[string]any {
	t.Helper()
	d, ok := out["data"].(map[string]any)
	require.True(t, ok, "missing data envelope: %v", out)
	return d
}

func errCode(t *testing.T, out map[string]any) string {
	t.Helper()
	e, ok := out["error"].(map[string]any)
	require.True(t, ok, "missing error envelope: %v", out)
	return e["code"].(string)
}

func openBody() map[string]any {
	return map[string]any{
		"buyerId":      "buyer-1",
		"country":      "225",
		"addressId":    12,
		"shippingType": 1,
		"items":        []map[string]any{{"cartItemId": 7, "offerId": "6623", "quantity": 2}},
	}
}

func TestOpenAndSettleThroughAPI(t *testing.T) {
	a := newAPI(t)
	status, out := a.do(t, http.MethodPost, "/", openBody())
	require.Equal(t, http.StatusCreated, status)
	view := data(t, out)
	id := view["id"].(string)
	require.NotEmpty(t, id)
	require.Equal(t, "USD", view["baseCurrency"])
	require.Equal(t, false, view["canSubmit"])
	require.Equal(t, pricing.ShippingAir, a.quoter.got.ShippingType)
	require.Equal(t, "buyer-1", a.quoter.got.BuyerID)

	status, out = a.do(t, http.MethodPut, "/"+id+"/payment-method", map[string]any{"method": "wave"})
	require.Equal(t, http.StatusOK, status)
	view = data(t, out)
	require.Equal(t, "ready", view["conversion"].(map[string]any)["status"])
	amounts := view["amounts"].(map[string]any)
	require.Equal(t, "FCFA", amounts["currency"])
	require.Equal(t, "100182", amounts["total"].(map[string]any)["amount"])

	status, out = a.do(t, http.MethodPost, "/"+id+"/coupons", map[string]any{"code": "welcome10"})
	require.Equal(t, http.StatusOK, status)
	require.Len(t, data(t, out)["coupons"], 1)

	status, out = a.do(t, http.MethodPost, "/"+id+"/coupons", map[string]any{"code": "WELCOME10"})
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "COUPON_ALREADY_APPLIED", errCode(t, out))

	status, out = a.do(t, http.MethodPost, "/"+id+"/coupons", map[string]any{"code": "BOGUS"})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.Equal(t, "INVALID_COUPON", errCode(t, out))

	status, out = a.do(t, http.MethodPut, "/"+id+"/cod", map[string]any{"cod": true})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, data(t, out)["cod"])

	status, out = a.do(t, http.MethodGet, "/"+id+"/amounts", nil)
	require.Equal(t, http.StatusOK, status)
	// (86.823 + 25.5) * 600, international shipping excluded
	require.Equal(t, "67393.8", data(t, out)["total"].(map[string]any)["amount"])

	status, out = a.do(t, http.MethodGet, "/"+id+"/submission", nil)
	require.Equal(t, http.StatusOK, status)
	payload := data(t, out)
	require.Equal(t, "wave", payload["payment_method"])
	require.Equal(t, payload["total_amount"], payload["actual_amount"])
	require.Equal(t, true, payload["is_cod"])

	status, out = a.do(t, http.MethodPost, "/"+id+"/submit", map[string]any{"phoneNumber": "+2250700000000"})
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, "501", data(t, out)["orderId"])

	status, out = a.do(t, http.MethodPost, "/"+id+"/submit", nil)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "SUBMISSION_PRECONDITION_FAILED", errCode(t, out))

	status, out = a.do(t, http.MethodPut, "/"+id+"/cod", map[string]any{"cod": false})
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "SUBMISSION_PRECONDITION_FAILED", errCode(t, out))

	require.Equal(t, []string{
		events.TopicSessionOpened,
		events.TopicCouponApplied,
		events.TopicOrderSubmitted,
		events.TopicPaymentConfirmed,
	}, a.topics)
}

func TestAPIErrors(t *testing.T) {
	a := newAPI(t)

	status, out := a.do(t, http.MethodGet, "/missing", nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "NOT_FOUND", errCode(t, out))

	body := openBody()
	delete(body, "items")
	status, out = a.do(t, http.MethodPost, "/", body)
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.Equal(t, "VALIDATION_FAILED", errCode(t, out))

	status, out = a.do(t, http.MethodPost, "/", openBody())
	require.Equal(t, http.StatusCreated, status)
	id := data(t, out)["id"].(string)

	status, out = a.do(t, http.MethodPut, "/"+id+"/payment-method", map[string]any{"method": "bitcoin"})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "UNKNOWN_PAYMENT_METHOD", errCode(t, out))

	status, out = a.do(t, http.MethodPut, "/"+id+"/currency", map[string]any{"currency": "EUR"})
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "NO_PAYMENT_METHOD", errCode(t, out))

	status, out = a.do(t, http.MethodPut, "/"+id+"/payment-method", map[string]any{"method": "wave"})
	require.Equal(t, http.StatusOK, status)
	status, out = a.do(t, http.MethodPut, "/"+id+"/currency", map[string]any{"currency": "EUR"})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "CURRENCY_NOT_OFFERED", errCode(t, out))

	status, _ = a.do(t, http.MethodPost, "/"+id+"/conversion/retry", nil)
	require.Equal(t, http.StatusAccepted, status)

	status, out = a.do(t, http.MethodPut, "/"+id+"/cod", map[string]any{})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.Equal(t, "VALIDATION_FAILED", errCode(t, out))
}

func TestStoreSweep(t *testing.T) {
	st := checkout.NewStore()
	f := newFixture(t, nil, nil, policy.Buyer{})
	st.Put(f.session)
	require.Equal(t, 1, st.Len())

	require.Zero(t, st.Sweep(f.session.LastTouched(), 0))
	require.Equal(t, 1, st.Sweep(f.session.LastTouched().Add(2*time.Minute), time.Minute))
	_, err := st.Get(f.session.ID())
	require.ErrorIs(t, err, checkout.ErrSessionNotFound)
}
