// Package middleware provides admission control for the relay's endpoints.
package middleware

import (
	"sync"

	"golang.org/x/time/rate"
)

// HandshakeLimiter rate-limits WebSocket upgrade attempts per remote host.
// Connections that pass the handshake are not limited further; the relay
// performs no per-message admission control.
type HandshakeLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
}

// NewHandshakeLimiter creates a limiter allowing the given number of
// handshakes per minute per remote host.
func NewHandshakeLimiter(perMin int) *HandshakeLimiter {
	return &HandshakeLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(float64(perMin) / 60.0),
		burst:    max(perMin/10, 5),
	}
}

// Allow reports whether a handshake from the given remote host may proceed.
func (l *HandshakeLimiter) Allow(host string) bool {
	return l.getLimiter(host).Allow()
}

// getLimiter returns the rate limiter for a host, creating one if needed
func (l *HandshakeLimiter) getLimiter(host string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[host]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists = l.limiters[host]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(l.rate, l.burst)
	l.limiters[host] = limiter
	return limiter
}

// Cleanup removes idle limiters (call periodically)
func (l *HandshakeLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	// A limiter back at full burst has not been used recently
	for host, limiter := range l.limiters {
		if limiter.Tokens() >= float64(l.burst) {
			delete(l.limiters, host)
		}
	}
}
