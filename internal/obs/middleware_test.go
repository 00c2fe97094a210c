package obs_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/noah-isme/checkout-settlement/internal/obs"
)

func TestHTTPMetricsLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("settlement", []float64{1, 10}, registry)
	handler := obs.HTTPObs{Metrics: metrics}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/checkout/sessions/{sessionID}/amounts", nil)
	req = req.WithContext(obs.WithRoutePattern(req.Context(), "/api/v1/checkout/sessions/{sessionID}/amounts"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rr.Code)
	}

	total := testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "/api/v1/checkout/sessions/{sessionID}/amounts", "204"))
	if total != 1 {
		t.Fatalf("expected counter to be 1, got %v", total)
	}

	samples := testutil.CollectAndCount(metrics.ReqDur)
	if samples == 0 {
		t.Fatalf("expected histogram sample")
	}

	if metrics.InFlight != nil {
		if val := testutil.ToFloat64(metrics.InFlight); val != 0 {
			t.Fatalf("expected no in-flight requests, got %v", val)
		}
	}
}

func TestParseBucketsCSV(t *testing.T) {
	got := obs.ParseBucketsCSV(" 5, x,0,25 ,-1,100")
	want := []float64{5, 25, 100}
	if len(got) != len(want) {
		t.Fatalf("expected %v got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v got %v", want, got)
		}
	}
	if obs.ParseBucketsCSV("") != nil {
		t.Fatalf("expected nil for empty input")
	}
}

func TestHTTPMetricsReuseRegistered(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := obs.NewHTTPMetrics("settlement", nil, registry)
	second := obs.NewHTTPMetrics("settlement", nil, registry)
	first.ReqTotal.WithLabelValues(http.MethodGet, "/x", "200").Inc()
	if v := testutil.ToFloat64(second.ReqTotal.WithLabelValues(http.MethodGet, "/x", "200")); v != 1 {
		t.Fatalf("expected shared counter, got %v", v)
	}
}

func TestRequestLoggerLevelsAndSession(t *testing.T) {
	var buf bytes.Buffer
	logger := obs.NewLoggerTo(&buf, "json", "debug")

	r := chi.NewRouter()
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Post("/sessions/{sessionID}/submit", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/sessions/s-42/submit", nil)
	req.Header.Set("Idempotency-Key", "k1")
	r.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["message"] != "http_request" || line["level"] != "error" {
		t.Fatalf("unexpected log line %v", line)
	}
	if line["status"] != float64(http.StatusBadGateway) {
		t.Fatalf("expected first status to win, got %v", line["status"])
	}
	if line["route"] != "/sessions/{sessionID}/submit" || line["session_id"] != "s-42" || line["idempotent"] != true {
		t.Fatalf("missing request fields in %v", line)
	}
}
