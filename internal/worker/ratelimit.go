package worker

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientLimiter is one client's token bucket and when it was last used.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// PerClientRateLimiter implements per-client rate limiting.
type PerClientRateLimiter struct {
	lastCleanup     time.Time
	clients         map[string]*clientLimiter
	rate            rate.Limit
	burst           int
	cleanupInterval time.Duration
	maxIdleTime     time.Duration
	requests        int64
	rejected        int64
	mu              sync.Mutex
}

// NewPerClientRateLimiter creates a new per-client rate limiter.
// rps is the number of requests per second to allow per client.
func NewPerClientRateLimiter(rps float64, burst int) *PerClientRateLimiter {
	return &PerClientRateLimiter{
		rate:            rate.Limit(rps),
		burst:           burst,
		clients:         make(map[string]*clientLimiter),
		cleanupInterval: 5 * time.Minute,
		maxIdleTime:     10 * time.Minute,
		lastCleanup:     time.Now(),
	}
}

// Allow checks if a request from the given client should be allowed.
func (pcrl *PerClientRateLimiter) Allow(clientKey string) bool {
	pcrl.mu.Lock()
	defer pcrl.mu.Unlock()

	now := time.Now()
	if now.Sub(pcrl.lastCleanup) > pcrl.cleanupInterval {
		pcrl.cleanupLocked(now)
	}

	c, ok := pcrl.clients[clientKey]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(pcrl.rate, pcrl.burst)}
		pcrl.clients[clientKey] = c
	}
	c.lastSeen = now

	pcrl.requests++
	if c.limiter.AllowN(now, 1) {
		return true
	}
	pcrl.rejected++
	return false
}

// cleanupLocked removes idle limiters. Must be called with lock held.
func (pcrl *PerClientRateLimiter) cleanupLocked(now time.Time) {
	for key, c := range pcrl.clients {
		if now.Sub(c.lastSeen) > pcrl.maxIdleTime {
			delete(pcrl.clients, key)
		}
	}
	pcrl.lastCleanup = now
}

// Stats returns aggregate statistics.
func (pcrl *PerClientRateLimiter) Stats() map[string]any {
	pcrl.mu.Lock()
	defer pcrl.mu.Unlock()

	return map[string]any{
		"rate":           float64(pcrl.rate),
		"burst":          pcrl.burst,
		"active_clients": len(pcrl.clients),
		"total_requests": pcrl.requests,
		"total_rejected": pcrl.rejected,
	}
}

// PerClientRateLimitMiddleware creates middleware that applies per-client rate limiting.
// Clients are keyed by RemoteAddr, which the RealIP middleware rewrites.
func PerClientRateLimitMiddleware(limiter *PerClientRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := r.RemoteAddr
			if host, _, err := net.SplitHostPort(clientKey); err == nil {
				clientKey = host
			}
			if !limiter.Allow(clientKey) {
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
