package admin

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures per-client rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the refill rate per client IP.
	RequestsPerSecond float64
	// Burst is the bucket capacity per client IP.
	Burst int
	// IdleTimeout is how long an unused bucket is kept.
	IdleTimeout time.Duration
}

// DefaultRateLimitConfig returns the defaults: 20 requests per second with
// bursts of 40.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 20,
		Burst:             40,
		IdleTimeout:       5 * time.Minute,
	}
}

type bucket struct {
	tokens float64
	last   time.Time
}

// RateLimiter is HTTP middleware with one token bucket per client IP.
type RateLimiter struct {
	cfg RateLimitConfig
	now func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	onReject func(ip, path string)
	stop     chan struct{}
	once     sync.Once
}

// NewRateLimiter creates a rate limiter and starts its cleanup loop. Close
// stops it.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	def := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	rl := &RateLimiter{
		cfg:     cfg,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// SetOnReject sets a callback invoked for every rejected request.
func (rl *RateLimiter) SetOnReject(fn func(ip, path string)) {
	rl.onReject = fn
}

// Close stops the cleanup loop.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

// Allow consumes one token from key's bucket.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(rl.cfg.Burst), last: now}
		rl.buckets[key] = b
	}
	b.tokens = min(float64(rl.cfg.Burst), b.tokens+now.Sub(b.last).Seconds()*rl.cfg.RequestsPerSecond)
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Middleware answers 429 once a client exhausts its bucket.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.Allow(ip) {
			if rl.onReject != nil {
				rl.onReject(ip, r.URL.Path)
			}
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cfg.IdleTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

// sweep drops buckets idle for longer than IdleTimeout.
func (rl *RateLimiter) sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	n := 0
	for key, b := range rl.buckets {
		if now.Sub(b.last) > rl.cfg.IdleTimeout {
			delete(rl.buckets, key)
			n++
		}
	}
	return n
}

// clientIP prefers the first X-Forwarded-For entry, then X-Real-IP, then
// the remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if ip := net.ParseIP(strings.TrimSpace(xri)); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
