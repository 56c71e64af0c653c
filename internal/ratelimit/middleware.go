package ratelimit

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"idea-tracker/internal/observability"
)

// KeyFunc derives the counter key for a request. An empty key skips the
// limiter for that request.
type KeyFunc func(r *http.Request) string

func ByClientIP(prefix string) KeyFunc {
	return func(r *http.Request) string {
		return prefix + ":" + observability.ClientIP(r)
	}
}

func (l *Limiter) Middleware(policy Policy, keyFunc KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			decision := l.CheckAndConsume(r.Context(), key, policy.Max, policy.Window)
			WriteHeaders(w, decision)
			if err := decision.Err(); err != nil {
				WriteExceeded(w, err, l.clock())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func WriteHeaders(w http.ResponseWriter, decision Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	w.Header().Set("X-RateLimit-Reset", decision.ResetAt.UTC().Format(time.RFC3339))
}

func WriteExceeded(w http.ResponseWriter, err error, now time.Time) {
	var exceeded ExceededError
	if !errors.As(err, &exceeded) {
		exceeded = ExceededError{ResetAt: now}
	}
	resetAt := exceeded.ResetAt.UTC().Format(time.RFC3339)

	w.Header().Set("Retry-After", strconv.Itoa(exceeded.RetryAfter(now)))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":       "rate_limit_exceeded",
		"message":     "Too many requests. Please try again after " + resetAt,
		"retry_after": resetAt,
	})
}
