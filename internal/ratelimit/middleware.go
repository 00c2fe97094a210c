package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/checkout-settlement/internal/common"
)

// Config describes how to derive a rate limit key and thresholds.
type Config struct {
	Name   string
	Key    func(*http.Request) string
	Window time.Duration
	Max    int
}

// Handler enforces rate limits before delegating to the next handler.
type Handler struct {
	Limiter Allower
	Config  Config
	OnError func(error)
}

// Middleware fails open when the limiter errors.
func (h Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Limiter == nil || h.Config.Key == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := h.Config.Key(r)
		if h.Config.Name != "" {
			key = h.Config.Name + ":" + key
		}
		allowed, remaining, resetAt, err := h.Limiter.Allow(r.Context(), key, h.Config.Window, h.Config.Max)
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}

		headers := w.Header()
		headers.Set("X-RateLimit-Limit", strconv.Itoa(max(0, h.Config.Max)))
		headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			retryAfter := max(0, int(time.Until(resetAt).Seconds()))
			headers.Set("Retry-After", strconv.Itoa(retryAfter))
			recordRejected(h.Config.Name)
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// SessionKey keys requests by the checkout session in the route, falling back to the client IP.
func SessionKey(r *http.Request) string {
	if id := strings.TrimSpace(chi.URLParam(r, "sessionID")); id != "" {
		return "session:" + id
	}
	return "ip:" + common.ClientIP(r)
}
