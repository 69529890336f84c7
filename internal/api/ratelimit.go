package api

import (
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// TriggerRateLimiter throttles endpoints that start remote work.
type TriggerRateLimiter struct {
	limiter *rate.Limiter
}

// NewTriggerRateLimiter allows burst requests, refilled one per interval.
func NewTriggerRateLimiter(burst int, interval time.Duration) *TriggerRateLimiter {
	return &TriggerRateLimiter{limiter: rate.NewLimiter(rate.Every(interval), burst)}
}

// Middleware rejects requests over the limit with 429.
func (l *TriggerRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.limiter.Allow() {
			slog.Warn("trigger rate limited",
				"component", "api",
				"action", "rate_limited",
				"path", r.URL.Path,
				"method", r.Method,
			)
			w.Header().Set("Retry-After", "60")
			WriteProblem(w, r, http.StatusTooManyRequests, "Too many sync triggers, retry later")
			return
		}
		next.ServeHTTP(w, r)
	})
}
