package utils

import (
	"net/http"

	"golang.org/x/time/rate"
)

// RateLimit wraps a handler with a token-bucket limiter. Used on the
// matching refresh endpoint: one run is an O(n²) scoring job and must not be
// triggerable in a tight loop, even by a misbehaving scheduler.
func RateLimit(limiter *rate.Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, "Too many requests, try again later", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}
