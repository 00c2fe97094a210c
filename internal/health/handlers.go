package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/checkout-settlement/internal/common"
)

const defaultTimeout = 500 * time.Millisecond

var ready atomic.Bool

func init() { ready.Store(true) }

// SetReady flips readiness; the server clears it when shutdown starts.
func SetReady(v bool) { ready.Store(v) }

// Probe checks one dependency. Optional probes are reported but never fail readiness.
type Probe struct {
	Name     string
	Timeout  time.Duration
	Optional bool
	Check    func(ctx context.Context) error
}

// Pinger is implemented by backend clients that can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RedisProbe pings client.
func RedisProbe(client redis.UniversalClient, timeout time.Duration) Probe {
	return Probe{Name: "redis", Timeout: timeout, Check: func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}}
}

// PingerProbe wraps p as an optional probe.
func PingerProbe(name string, p Pinger, timeout time.Duration) Probe {
	return Probe{Name: name, Timeout: timeout, Optional: true, Check: p.Ping}
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Probes []Probe
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency probes.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !ready.Load() {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	status := map[string]string{}
	healthy := true
	for _, p := range h.Probes {
		result := "ok"
		if err := run(r.Context(), p); err != nil {
			result = err.Error()
			if p.Optional {
				result = "degraded: " + result
			} else {
				healthy = false
			}
		}
		status[p.Name] = result
	}
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	common.JSON(w, code, status)
}

func run(ctx context.Context, p Probe) error {
	if p.Check == nil {
		return nil
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Check(ctx)
}
