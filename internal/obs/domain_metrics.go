package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// ConversionRequestsTotal counts conversion outcomes: issued, accepted, stale, failed.
	ConversionRequestsTotal *prometheus.CounterVec
	// ConversionLatency records backend conversion latency in milliseconds.
	ConversionLatency prometheus.Histogram
	// CouponApplyTotal counts coupon apply attempts by result.
	CouponApplyTotal *prometheus.CounterVec
	// PolicyFallbackTotal counts country lookups that fell back to the account currency.
	PolicyFallbackTotal *prometheus.CounterVec
	// SubmissionTotal counts order submission outcomes.
	SubmissionTotal *prometheus.CounterVec
	// ActiveSessions tracks checkout sessions held in memory.
	ActiveSessions prometheus.Gauge
)

// MustRegisterDomainMetrics initialises and registers settlement Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		ConversionRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversion_requests_total",
			Help:      "Count of currency conversion requests by outcome.",
		}, []string{"result"})
		ConversionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversion_duration_ms",
			Help:      "Latency of currency conversion calls in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		})
		CouponApplyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupon_apply_total",
			Help:      "Count of coupon apply attempts by result.",
		}, []string{"result"})
		PolicyFallbackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_resolution_fallback_total",
			Help:      "Count of settlement currency lookups that fell back to the account currency.",
		}, []string{"method"})
		SubmissionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submission_total",
			Help:      "Count of order submission outcomes.",
		}, []string{"method", "result"})
		ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checkout_sessions_active",
			Help:      "Number of checkout sessions currently held.",
		})

		mustRegisterCollector(reg, ConversionRequestsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ConversionRequestsTotal = v
			}
		})
		mustRegisterCollector(reg, ConversionLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				ConversionLatency = v
			}
		})
		mustRegisterCollector(reg, CouponApplyTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CouponApplyTotal = v
			}
		})
		mustRegisterCollector(reg, PolicyFallbackTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PolicyFallbackTotal = v
			}
		})
		mustRegisterCollector(reg, SubmissionTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SubmissionTotal = v
			}
		})
		mustRegisterCollector(reg, ActiveSessions, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Gauge); ok {
				ActiveSessions = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
