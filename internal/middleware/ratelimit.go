package middleware

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter hands out one token bucket per client IP.
//
// Limiters are dropped wholesale every resetInterval so the map cannot grow
// without bound. A client that was throttled gets a fresh bucket at that
// point, which is acceptable for a coarse abuse guard.
type RateLimiter struct {
	rps    rate.Limit
	burst  int
	logger *slog.Logger

	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	lastCleanup time.Time
	now         func() time.Time
}

const resetInterval = time.Hour

// NewRateLimiter allows rps requests per second per IP with the given burst.
func NewRateLimiter(rps float64, burst int, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		rps:         rate.Limit(rps),
		burst:       burst,
		logger:      logger,
		limiters:    make(map[string]*rate.Limiter),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

func (rl *RateLimiter) limiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.now().Sub(rl.lastCleanup) > resetInterval {
		rl.limiters = make(map[string]*rate.Limiter)
		rl.lastCleanup = rl.now()
	}

	l, ok := rl.limiters[ip]
	if !ok {
		l = rate.NewLimiter(rl.rps, rl.burst)
		rl.limiters[ip] = l
	}
	return l
}

// Handler rejects requests over the limit with 429.
//
// It keys on r.RemoteAddr, so mount it after chi's RealIP middleware when
// the service sits behind a proxy.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.limiter(ip).Allow() {
			rl.logger.Warn("rate limit exceeded",
				slog.String("ip", ip),
				slog.String("path", r.URL.Path),
			)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":  "rate_limited",
				"detail": "Too many requests.",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}
