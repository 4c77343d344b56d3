package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// DefaultLoginRateLimit limits credential attempts per IP. The account
// lockout is the per-identity defense; this bounds spraying across accounts.
func DefaultLoginRateLimit() RateLimitConfig {
	return RateLimitConfig{Requests: 10, Window: 1 * time.Minute}
}

// DefaultRefreshRateLimit limits token rotations per IP
func DefaultRefreshRateLimit() RateLimitConfig {
	return RateLimitConfig{Requests: 30, Window: 1 * time.Minute}
}

// DefaultPasswordResetRateLimit limits forgot-password requests per IP.
// Each request sends an email, so this is deliberately tight.
func DefaultPasswordResetRateLimit() RateLimitConfig {
	return RateLimitConfig{Requests: 3, Window: 5 * time.Minute}
}

// RateLimitByIP creates a middleware that rate limits requests by client IP
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.Requests,
		config.Window,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate_limit_exceeded","message":"Too many requests. Please try again later."}`))
		}),
	)
}
