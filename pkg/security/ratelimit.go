package security

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter applies a global limit plus one limit per client. Client
// limiters unused for longer than the idle TTL are dropped by Sweep.
type RateLimiter struct {
	global *rate.Limiter

	mu      sync.Mutex
	clients map[string]*clientLimiter

	requestsPerSecond float64
	burst             int
	idleTTL           time.Duration
	now               func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing requestsPerSecond per client
// with the given burst. The global limit is ten times the per-client one.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		global:            rate.NewLimiter(rate.Limit(requestsPerSecond*10), burst*10),
		clients:           make(map[string]*clientLimiter),
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
		idleTTL:           10 * time.Minute,
		now:               time.Now,
	}
}

// Allow reports whether a request from clientID may proceed now.
func (rl *RateLimiter) Allow(clientID string) bool {
	if !rl.client(clientID).Allow() {
		return false
	}
	return rl.global.Allow()
}

func (rl *RateLimiter) client(clientID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.clients[clientID]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(rl.requestsPerSecond), rl.burst)}
		rl.clients[clientID] = c
	}
	c.lastSeen = rl.now()
	return c.limiter
}

// Sweep forgets clients idle for longer than the idle TTL and returns how
// many were removed.
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.idleTTL)
	removed := 0
	for id, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, id)
			removed++
		}
	}
	return removed
}

// Clients returns the number of tracked clients.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
