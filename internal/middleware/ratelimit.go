package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/clawbuds/backend/internal/auth"
	"github.com/clawbuds/backend/internal/domain"
	"github.com/clawbuds/backend/internal/handlers"
)

// RateLimiter applies a sliding-window limit per claw. Unauthenticated
// callers are keyed by remote address so register cannot be hammered either.
type RateLimiter struct {
	mu        sync.Mutex
	windows   map[string]*window
	perMinute int
	stop      chan struct{}
}

type window struct {
	count   int
	startAt time.Time
}

func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 120
	}
	rl := &RateLimiter{
		windows:   make(map[string]*window),
		perMinute: perMinute,
		stop:      make(chan struct{}),
	}
	go rl.janitor()
	return rl
}

// Allow counts one request against key and reports whether it fits in the
// current one-minute window.
func (rl *RateLimiter) Allow(key string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[key]
	if !ok || now.Sub(w.startAt) > time.Minute {
		rl.windows[key] = &window{count: 1, startAt: now}
		return true
	}
	w.count++
	return w.count <= rl.perMinute
}

// retryAfter reports how long until the key's window rolls over.
func (rl *RateLimiter) retryAfter(key string, now time.Time) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if w, ok := rl.windows[key]; ok {
		if left := time.Minute - now.Sub(w.startAt); left > 0 {
			return left
		}
	}
	return time.Second
}

func (rl *RateLimiter) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.mu.Lock()
			for key, w := range rl.windows {
				if now.Sub(w.startAt) > 2*time.Minute {
					delete(rl.windows, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Close stops the background sweep.
func (rl *RateLimiter) Close() {
	close(rl.stop)
}

// Middleware rejects over-limit requests with a 429 envelope and a
// Retry-After header. It runs after authentication so the claw id is the
// usual key.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(auth.HeaderClawID)
		if key == "" {
			if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
				key = host
			} else {
				key = r.RemoteAddr
			}
		}
		now := time.Now()
		if !rl.Allow(key, now) {
			retry := rl.retryAfter(key, now)
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
			handlers.Fail(w, r, domain.RateLimited("too many requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
