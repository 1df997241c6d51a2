package ratelimit

import (
	"sync"
	"time"
)

// window tracks attempts inside a single fixed window
type window struct {
	count int       // Attempts recorded in the current window
	start time.Time // When the current window opened
	mu    sync.Mutex
}

// AttemptLimiter counts attempts per key inside a fixed window. Once the
// window expires the next attempt opens a fresh window with a count of one,
// so a burst of failures never blocks a user forever.
type AttemptLimiter struct {
	windows     map[string]*window
	maxAttempts int           // Attempts allowed per window per key
	windowSize  time.Duration // Length of the fixed window
	mu          sync.RWMutex
	ttl         time.Duration // Time to keep inactive windows in memory
}

// NewAttemptLimiter creates a fixed-window attempt limiter
// maxAttempts: attempts allowed per key within one window
// windowSize: length of the window
// ttl: time to keep inactive windows in memory (0 = forever)
func NewAttemptLimiter(maxAttempts int, windowSize, ttl time.Duration) *AttemptLimiter {
	l := &AttemptLimiter{
		windows:     make(map[string]*window),
		maxAttempts: maxAttempts,
		windowSize:  windowSize,
		ttl:         ttl,
	}

	// Start cleanup goroutine if TTL is set
	if ttl > 0 {
		go l.cleanup()
	}

	return l
}

// Allow records an attempt for the key and reports whether it is within the
// limit. The attempt is counted even when denied.
func (l *AttemptLimiter) Allow(key string) bool {
	return l.allowAt(key, time.Now())
}

func (l *AttemptLimiter) allowAt(key string, now time.Time) bool {
	l.mu.Lock()
	w, exists := l.windows[key]
	if !exists {
		w = &window{}
		l.windows[key] = w
	}
	l.mu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()

	// An expired window starts over, the denied attempts in the old window
	// are forgotten
	if w.start.IsZero() || now.Sub(w.start) >= l.windowSize {
		w.start = now
		w.count = 1
		return true
	}

	w.count++
	return w.count <= l.maxAttempts
}

// Remaining returns how many attempts the key has left in its current window.
func (l *AttemptLimiter) Remaining(key string) int {
	l.mu.RLock()
	w, exists := l.windows[key]
	l.mu.RUnlock()

	if !exists {
		return l.maxAttempts
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.start.IsZero() || time.Since(w.start) >= l.windowSize {
		return l.maxAttempts
	}
	remaining := l.maxAttempts - w.count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset clears the window for a specific key
func (l *AttemptLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

// cleanup periodically removes windows that expired long ago
func (l *AttemptLimiter) cleanup() {
	ticker := time.NewTicker(l.ttl)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		l.mu.Lock()
		for key, w := range l.windows {
			w.mu.Lock()
			stale := now.Sub(w.start) > l.windowSize+l.ttl
			w.mu.Unlock()
			if stale {
				delete(l.windows, key)
			}
		}
		l.mu.Unlock()
	}
}

// Stats returns statistics about the limiter
type Stats struct {
	ActiveWindows int
	MaxAttempts   int
	WindowSize    time.Duration
}

// GetStats returns current statistics
func (l *AttemptLimiter) GetStats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return Stats{
		ActiveWindows: len(l.windows),
		MaxAttempts:   l.maxAttempts,
		WindowSize:    l.windowSize,
	}
}
