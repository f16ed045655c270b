package middleware

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// visitorLimiter hands out one token bucket per client IP. Entries are never
// evicted; this tool serves a handful of users at a time, so the map stays
// small for the life of the process.
type visitorLimiter struct {
	mu       sync.Mutex
	visitors map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func (vl *visitorLimiter) limiter(ip string) *rate.Limiter {
	vl.mu.Lock()
	defer vl.mu.Unlock()

	l, ok := vl.visitors[ip]
	if !ok {
		l = rate.NewLimiter(vl.limit, vl.burst)
		vl.visitors[ip] = l
	}
	return l
}

// RateLimitPerMinute applies a per-IP token bucket allowing n requests per
// minute with a burst of n. Conversion and archiving are the expensive
// routes, so they carry this while image serving does not.
func RateLimitPerMinute(n int) func(http.Handler) http.Handler {
	vl := &visitorLimiter{
		visitors: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(n) / 60),
		burst:    n,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !vl.limiter(r.RemoteAddr).Allow() {
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
