package middleware

import (
	"net/http"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/storage"
)

// ClientIP extracts the caller's IP, preferring proxy headers.
func ClientIP(r *http.Request) string {
	if x := r.Header.Get("X-Real-Ip"); x != "" {
		return x
	}
	if x := r.Header.Get("X-Forwarded-For"); x != "" {
		return x
	}
	return r.RemoteAddr
}

// RateLimitAPI limits /api/* requests per IP using the configured store
// (Redis in deployment, memory in -dev). 429 on excess. Store errors fail
// open: a broken limiter must not take the API down.
func RateLimitAPI(store storage.LimitStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := store.AllowRequest(r.Context(), ClientIP(r))
			if err != nil {
				logger.Errorf("rate limit check: %v", err)
				allowed = true
			}
			if !allowed {
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
