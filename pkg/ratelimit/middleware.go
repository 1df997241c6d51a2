package ratelimit

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// MiddlewareConfig holds HTTP-level rate limiting configuration
type MiddlewareConfig struct {
	// Per-IP rate limiting
	PerIPEnabled     bool
	PerIPMaxAttempts int
	PerIPWindow      time.Duration

	// How long to keep inactive windows in memory
	WindowTTL time.Duration

	// Headers to include in response
	IncludeHeaders bool
}

// DefaultMiddlewareConfig returns a sensible default configuration
func DefaultMiddlewareConfig() *MiddlewareConfig {
	return &MiddlewareConfig{
		PerIPEnabled:     true,
		PerIPMaxAttempts: 100,
		PerIPWindow:      1 * time.Hour,
		WindowTTL:        1 * time.Hour,
		IncludeHeaders:   true,
	}
}

// Middleware applies per-IP attempt limiting to verification endpoints
type Middleware struct {
	config    *MiddlewareConfig
	ipLimiter *AttemptLimiter
}

// NewMiddleware creates a new rate limiting middleware
func NewMiddleware(config *MiddlewareConfig) *Middleware {
	if config == nil {
		config = DefaultMiddlewareConfig()
	}

	m := &Middleware{config: config}

	if config.PerIPEnabled {
		m.ipLimiter = NewAttemptLimiter(
			config.PerIPMaxAttempts,
			config.PerIPWindow,
			config.WindowTTL,
		)
	}

	return m
}

// Handler returns the rate limiting middleware handler
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := GetClientIP(r)
		if m.config.PerIPEnabled && ip != "" && !m.ipLimiter.Allow(ip) {
			m.rateLimitExceeded(w, r, ip)
			return
		}

		if m.config.IncludeHeaders && m.config.PerIPEnabled && ip != "" {
			w.Header().Set("X-RateLimit-Limit-IP", fmt.Sprintf("%d", m.config.PerIPMaxAttempts))
			w.Header().Set("X-RateLimit-Remaining-IP", fmt.Sprintf("%d", m.ipLimiter.Remaining(ip)))
		}

		next.ServeHTTP(w, r)
	})
}

// rateLimitExceeded handles rate limit exceeded responses
func (m *Middleware) rateLimitExceeded(w http.ResponseWriter, r *http.Request, ip string) {
	slog.Warn("Rate limit exceeded",
		"ip", ip,
		"path", r.URL.Path,
		"method", r.Method,
	)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", fmt.Sprintf("%d", int(m.config.PerIPWindow.Seconds())))
	w.WriteHeader(http.StatusTooManyRequests)

	w.Write([]byte(`{
		"error": "rate_limit_exceeded",
		"message": "Too many requests. Please try again later."
	}`))
}

// Reset clears rate limits for a specific IP
func (m *Middleware) Reset(ip string) {
	if m.ipLimiter != nil {
		m.ipLimiter.Reset(ip)
	}
}

// GetClientIP extracts the client IP address from the request
func GetClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (set by proxies)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For can contain multiple IPs, take the first one
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	// Check X-Real-IP header (set by some proxies/load balancers)
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// Fall back to RemoteAddr
	// RemoteAddr is in format "IP:port", we only want the IP
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}

	return addr
}
