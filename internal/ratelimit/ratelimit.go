package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

type Limiter interface {
	Allow(key string) bool
}

type window struct {
	count int
	start time.Time
}

// FixedWindowLimiter allows maxRequests per key in each window. Expired
// windows are evicted lazily, at most once per window length.
type FixedWindowLimiter struct {
	maxRequests int
	window      time.Duration
	requests    map[string]*window
	lastEvict   time.Time
	mutex       sync.Mutex
	now         func() time.Time
}

func New(maxRequests int, interval time.Duration) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		maxRequests: maxRequests,
		window:      interval,
		requests:    make(map[string]*window),
		now:         time.Now,
	}
}

func (rl *FixedWindowLimiter) Allow(key string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	rl.evictLocked(now)

	w := rl.requests[key]
	if w == nil || now.Sub(w.start) > rl.window {
		if rl.maxRequests == 0 {
			return false
		}
		rl.requests[key] = &window{count: 1, start: now}
		return true
	}

	if w.count >= rl.maxRequests {
		return false
	}
	w.count++
	return true
}

func (rl *FixedWindowLimiter) evictLocked(now time.Time) {
	if now.Sub(rl.lastEvict) < rl.window {
		return
	}
	for key, w := range rl.requests {
		if now.Sub(w.start) > rl.window {
			delete(rl.requests, key)
		}
	}
	rl.lastEvict = now
}

// Len reports how many keys currently hold a window.
func (rl *FixedWindowLimiter) Len() int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	return len(rl.requests)
}

// Window is the length of one counting period.
func (rl *FixedWindowLimiter) Window() time.Duration {
	return rl.window
}

// ClientIP keys requests by remote address without the port. Run it behind
// middleware.RealIP so proxies are honoured.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects requests over the limit with 429 and a JSON error body.
func Middleware(limiter Limiter, retryAfter time.Duration, key func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(key(r)) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
