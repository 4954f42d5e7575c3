package http

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

// Two layers of throttling:
//
//  1. A global token-bucket limiter per client IP, as cheap backpressure
//     in front of everything.
//  2. Fixed-window counters for endpoint classes, with the strict budgets
//     the auth endpoints need. Bursts at window boundaries are a known and
//     accepted property of fixed windows.

// Window presets per endpoint class.
var (
	// LoginWindow throttles login/register. Strict mode is the
	// production budget; relaxed is for development.
	LoginWindowStrict  = WindowLimit{Name: "auth", Limit: 5, Window: 15 * time.Minute}
	LoginWindowRelaxed = WindowLimit{Name: "auth", Limit: 20, Window: 15 * time.Minute}
	APIWindow          = WindowLimit{Name: "api", Limit: 100, Window: 15 * time.Minute}
	ReadWindow         = WindowLimit{Name: "read", Limit: 200, Window: 15 * time.Minute}
	UploadWindow       = WindowLimit{Name: "upload", Limit: 10, Window: time.Hour}
)

// WindowLimit names a fixed-window budget.
type WindowLimit struct {
	Name   string
	Limit  int
	Window time.Duration
}

// CounterStore is the pluggable counter backend. Implementations must be
// safe for concurrent use. Incr returns the counter value after adding one
// to the bucket identified by key, creating it with the given TTL.
type CounterStore interface {
	Incr(key string, ttl time.Duration) int
}

// MemoryCounterStore is a bounded in-memory CounterStore with TTL
// eviction. Entries expire with their window; a hard cap bounds memory
// against address-spraying clients. When the map is full of live entries
// the store fails closed: new keys count as already over any limit rather
// than growing the map.
type MemoryCounterStore struct {
	mu         sync.Mutex
	counters   map[string]*windowCounter
	maxEntries int
	now        func() time.Time
}

type windowCounter struct {
	count     int
	expiresAt time.Time
}

// NewMemoryCounterStore creates a counter store capped at maxEntries keys.
func NewMemoryCounterStore(maxEntries int, now func() time.Time) *MemoryCounterStore {
	if maxEntries <= 0 {
		maxEntries = 100_000
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryCounterStore{
		counters:   make(map[string]*windowCounter),
		maxEntries: maxEntries,
		now:        now,
	}
}

// Incr implements CounterStore.
func (s *MemoryCounterStore) Incr(key string, ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.counters[key]
	if !ok || now.After(c.expiresAt) {
		if !ok && len(s.counters) >= s.maxEntries {
			s.evictExpired(now)
			if len(s.counters) >= s.maxEntries {
				return math.MaxInt
			}
		}
		c = &windowCounter{expiresAt: now.Add(ttl)}
		s.counters[key] = c
	}
	c.count++
	return c.count
}

// evictExpired drops dead entries; called under the lock when at capacity.
func (s *MemoryCounterStore) evictExpired(now time.Time) {
	for k, c := range s.counters {
		if now.After(c.expiresAt) {
			delete(s.counters, k)
		}
	}
}

// FixedWindowLimiter enforces a WindowLimit against a CounterStore keyed
// by client address.
type FixedWindowLimiter struct {
	limit      WindowLimit
	store      CounterStore
	trustProxy bool
	rejections metric.Int64Counter
}

// NewFixedWindowLimiter creates a fixed-window limiter.
func NewFixedWindowLimiter(limit WindowLimit, store CounterStore) *FixedWindowLimiter {
	return &FixedWindowLimiter{limit: limit, store: store}
}

// Allow records one attempt for the client and reports whether it fits the
// current window.
func (l *FixedWindowLimiter) Allow(clientAddr string) bool {
	key := l.limit.Name + ":" + clientAddr
	return l.store.Incr(key, l.limit.Window) <= l.limit.Limit
}

// Middleware wraps a handler with this limiter. On rejection the 429 body
// names the limiter and carries retry guidance.
func (l *FixedWindowLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientIP(r, l.trustProxy)) {
			if l.rejections != nil {
				l.rejections.Add(r.Context(), 1)
			}
			respondError(w, http.StatusTooManyRequests, CodeRateLimited,
				fmt.Sprintf("too many requests to %s endpoints, retry after %s", l.limit.Name, l.limit.Window))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimiter manages global token-bucket limiting per IP.
type RateLimiter struct {
	ips             map[string]*rate.Limiter
	mu              sync.RWMutex
	rps             rate.Limit
	burst           int
	cleanupInterval time.Duration
	stop            chan struct{}
	stopOnce        sync.Once
}

// NewRateLimiter creates a new global rate limiter. Call Close when the
// limiter is no longer needed to stop its cleanup goroutine.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		ips:             make(map[string]*rate.Limiter),
		rps:             rate.Limit(rps),
		burst:           burst,
		cleanupInterval: 10 * time.Minute,
		stop:            make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// GetLimiter returns a limiter for an IP
func (rl *RateLimiter) GetLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.ips[ip]
	if !exists {
		limiter = rate.NewLimiter(rl.rps, rl.burst)
		rl.ips[ip] = limiter
	}

	return limiter
}

// cleanup resets the map periodically to free memory from drive-by IPs.
// Active users get a fresh limiter on their next request.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			rl.ips = make(map[string]*rate.Limiter)
			rl.mu.Unlock()
		case <-rl.stop:
			return
		}
	}
}

// RateLimitMiddleware creates a middleware for the global limiter.
// Health-check endpoints are exempt.
func RateLimitMiddleware(rl *RateLimiter, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			limiter := rl.GetLimiter(clientIP(r, trustProxy))
			if !limiter.Allow() {
				respondError(w, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the address rate-limit keys are built from. Forwarding
// headers are client-controlled, so they are honored only when the
// deployment declares a trusted proxy in front; then the first hop is the
// client as the edge saw it. Otherwise the TCP peer address is used, with
// the port stripped so reconnecting does not mint a fresh key.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
