package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/caseloop/caseloop/pkg/logger"
)

// RateLimiter manages per-caller request rate limiting
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	logger   *logger.Logger
}

// NewRateLimiter creates a new rate limiter
// rps: requests per second
// burst: maximum burst size
func NewRateLimiter(rps int, burst int, log *logger.Logger) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(rps),
		burst:    burst,
		logger:   log,
	}
}

// getLimiter returns the rate limiter for the given identifier
func (rl *RateLimiter) getLimiter(identifier string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[identifier]
	if !exists {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[identifier] = limiter
	}

	return limiter
}

// Cleanup periodically discards accumulated limiters so the map does not grow
// without bound. Should run in its own goroutine.
func (rl *RateLimiter) Cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			rl.limiters = make(map[string]*rate.Limiter)
			rl.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

// RateLimit is a middleware that applies rate limiting per user/IP
func RateLimit(rl *RateLimiter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier := getIdentifier(r)

			limiter := rl.getLimiter(identifier)

			if !limiter.Allow() {
				rl.logger.Warn("Rate limit exceeded",
					logger.String("identifier", identifier),
					logger.String("path", r.URL.Path),
				)
				w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.burst))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", "60")
				respondError(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitWithConfig creates a rate limiter middleware with specific limits
func RateLimitWithConfig(rps int, burst int, log *logger.Logger) func(next http.Handler) http.Handler {
	rl := NewRateLimiter(rps, burst, log)
	return RateLimit(rl)
}

// getIdentifier extracts an identifier for rate limiting: the authenticated
// user when present, otherwise the caller's IP
func getIdentifier(r *http.Request) string {
	if claims := GetClaims(r.Context()); claims != nil {
		return fmt.Sprintf("user:%s", claims.UserID.String())
	}

	ip := r.RemoteAddr
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		ip = forwarded
	} else if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		ip = realIP
	}

	return fmt.Sprintf("ip:%s", ip)
}
