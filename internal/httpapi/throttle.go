package httpapi

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// perIPThrottle limits each client address to n requests per minute with a
// small burst. Limiters are kept per IP and pruned after an hour idle so the
// map does not grow with every address ever seen.
type perIPThrottle struct {
	perMinute int

	mu       sync.Mutex
	limiters map[string]*ipLimiter
	lastSeen func() time.Time
}

type ipLimiter struct {
	limiter *rate.Limiter
	seen    time.Time
}

const limiterIdleEviction = time.Hour

func newPerIPThrottle(perMinute int) *perIPThrottle {
	return &perIPThrottle{
		perMinute: perMinute,
		limiters:  make(map[string]*ipLimiter),
		lastSeen:  time.Now,
	}
}

func (t *perIPThrottle) allow(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	now := t.lastSeen()
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.limiters[host]
	if !ok {
		entry = &ipLimiter{
			limiter: rate.NewLimiter(rate.Limit(float64(t.perMinute)/60.0), t.perMinute),
		}
		t.limiters[host] = entry
	}
	entry.seen = now

	for key, other := range t.limiters {
		if now.Sub(other.seen) > limiterIdleEviction {
			delete(t.limiters, key)
		}
	}

	return entry.limiter.AllowN(now, 1)
}

// middleware rejects over-limit requests with 429.
func (t *perIPThrottle) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.allow(r.RemoteAddr) {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests, slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}
