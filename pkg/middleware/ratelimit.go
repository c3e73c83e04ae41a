package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/platinummonkey/grants/pkg/httputil"
	"github.com/platinummonkey/grants/pkg/observability"
)

// RateLimitConfig defines a per-key request budget
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate
	BurstSize int
}

// DefaultRateLimitConfig bounds public verification attempts
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Minute,
		BurstSize:         5,
	}
}

// Limiter decides whether the request identified by key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// LocalLimiter is an in-process token bucket per key. Idle keys are evicted.
type LocalLimiter struct {
	config  *RateLimitConfig
	buckets *expirable.LRU[string, *rate.Limiter]
}

// NewLocalLimiter creates a limiter tracking at most maxKeys clients
func NewLocalLimiter(config *RateLimitConfig, maxKeys int) *LocalLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	return &LocalLimiter{
		config:  config,
		buckets: expirable.NewLRU[string, *rate.Limiter](maxKeys, nil, config.WindowDuration*2),
	}
}

// Allow takes one token from key's bucket
func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	b, ok := l.buckets.Get(key)
	if !ok {
		every := l.config.WindowDuration / time.Duration(max(l.config.RequestsPerWindow, 1))
		b = rate.NewLimiter(rate.Every(every), l.config.RequestsPerWindow+l.config.BurstSize)
		l.buckets.Add(key, b)
	}
	return b.Allow(), nil
}

// RateLimit returns middleware that rejects over-budget clients with 429.
// Limiter errors fail open.
func RateLimit(limiter Limiter, config *RateLimitConfig, route string, metrics *observability.Metrics) func(http.Handler) http.Handler {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := route + ":" + ClientIP(r)
			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).Warn("Rate limiter unavailable; allowing request")
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				metrics.RecordRateLimited(route)
				w.Header().Set("Retry-After", fmt.Sprintf("%.0f", config.WindowDuration.Seconds()))
				w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", config.RequestsPerWindow))
				httputil.WriteErrorCode(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP, or the remote
// address without its port
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
