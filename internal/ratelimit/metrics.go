package ratelimit

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// RejectedTotal counts requests refused by a limiter, labelled by limiter name.
var RejectedTotal *prometheus.CounterVec

var registerOnce sync.Once

// MustRegisterMetrics registers the limiter collectors once.
func MustRegisterMetrics(namespace string, reg prometheus.Registerer) {
	registerOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		RejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_rejected_total",
			Help:      "Requests rejected by rate limiting.",
		}, []string{"limiter"})
		reg.MustRegister(RejectedTotal)
	})
}

func recordRejected(name string) {
	if RejectedTotal == nil {
		return
	}
	if name == "" {
		name = "default"
	}
	RejectedTotal.WithLabelValues(name).Inc()
}
