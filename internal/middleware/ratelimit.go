package middleware

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"whatsrelay/internal/errors"
	"whatsrelay/internal/httputil"
	"whatsrelay/internal/metrics"
	"whatsrelay/internal/tracing"

	"golang.org/x/time/rate"
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client IP. Buckets idle for longer
// than idleTTL are dropped by Cleanup.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
}

func NewRateLimiter(requestsPerSecond float64, burst int, idleTTL time.Duration) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(requestsPerSecond),
		burst:   burst,
		idleTTL: idleTTL,
		now:     time.Now,
	}
}

// Allow reports whether a request from key may proceed now
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	c, ok := rl.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// SetLimits changes the rate and burst for new and existing clients.
func (rl *RateLimiter) SetLimits(requestsPerSecond float64, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.limit = rate.Limit(requestsPerSecond)
	rl.burst = burst
	for _, c := range rl.clients {
		c.limiter.SetLimitAt(now, rl.limit)
		c.limiter.SetBurstAt(now, burst)
	}
}

// Cleanup drops limiters that have not been used within the idle TTL and
// returns how many were removed.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.idleTTL)
	removed := 0
	for key, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked clients
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Middleware rejects requests over the limit with 429 and a RATE_LIMIT body
func (rl *RateLimiter) Middleware(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.Allow(httputil.ClientIP(r, trustProxy)) {
				next.ServeHTTP(w, r)
				return
			}

			metrics.RecordRateLimited(RouteTemplate(r))
			rl.mu.Lock()
			appErr := errors.NewRateLimitError(float64(rl.limit), rl.burst)
			rl.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(errors.ToHTTPResponse(appErr, tracing.GetRequestID(r.Context())))
		})
	}
}
