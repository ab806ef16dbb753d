package handlers

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/haverlock/argus/internal/config"
)

// RequireAuth enforces bearer-token authentication on the API surface.
// Development mode waves everything through; production mode rejects
// any request whose token does not match the configured one, and
// rejects everything when no token is configured at all.
func RequireAuth(next http.Handler, cfg *config.Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cfg.Security.SecurityMode == "development" {
			next.ServeHTTP(w, r)
			return
		}

		expected := cfg.Security.APIToken
		if expected == "" {
			// Production with no token is a deployment mistake; fail
			// closed rather than open.
			log.Printf("WARNING: auth: rejected %s %s, no API token configured", r.Method, r.URL.Path)
			respondError(w, http.StatusUnauthorized, "authentication required", nil)
			return
		}

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			log.Printf("WARNING: auth: rejected %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
			respondError(w, http.StatusUnauthorized, "authentication required", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RateLimiter caps the request rate across the whole API. One shared
// bucket is enough here; the write endpoints all funnel into the same
// single-flight coordinator anyway.
type RateLimiter struct {
	bucket *rate.Limiter
}

// NewRateLimiter allows a sustained reqPerSec with bursts up to burst.
func NewRateLimiter(reqPerSec float64, burst int) *RateLimiter {
	return &RateLimiter{bucket: rate.NewLimiter(rate.Limit(reqPerSec), burst)}
}

// RateLimitMiddleware rejects requests above the configured rate with
// 429 and a retry hint.
func RateLimitMiddleware(next http.Handler, rl *RateLimiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.bucket.Allow() {
			w.Header().Set("Retry-After", retryAfter(rl.bucket))
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// retryAfter estimates whole seconds until a token is available again.
func retryAfter(bucket *rate.Limiter) string {
	limit := bucket.Limit()
	if limit <= 0 {
		return "1"
	}
	wait := time.Duration(float64(time.Second) / float64(limit))
	secs := int(wait.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
