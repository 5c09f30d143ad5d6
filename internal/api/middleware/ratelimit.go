package middleware

import (
	"net/http"

	"tradebot/pkg/ratelimit"
)

// RateLimit - middleware для ограничения частоты запросов к API
//
// Использует общий token bucket на все API endpoints: при исчерпании
// токенов возвращает 429 Too Many Requests без блокировки.
func RateLimit(limiter *ratelimit.RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
