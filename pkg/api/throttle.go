package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ethpandaops/testcycle/pkg/config"
)

// throttleIdle is how long a client may stay quiet before its bucket is
// dropped by the housekeeping sweep.
const throttleIdle = 10 * time.Minute

// throttle keeps one token bucket per client address for a rate limit
// tier. Buckets refill at RequestsPerMinute and hold a minute's worth.
type throttle struct {
	mu      sync.Mutex
	every   rate.Limit
	burst   int
	clients map[string]*bucket
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newThrottle(tier config.RateLimitTier) *throttle {
	return &throttle{
		every:   rate.Every(time.Minute / time.Duration(tier.RequestsPerMinute)),
		burst:   tier.RequestsPerMinute,
		clients: make(map[string]*bucket, 64),
	}
}

// allow takes a token from addr's bucket.
func (t *throttle) allow(addr string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.clients[addr]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(t.every, t.burst)}
		t.clients[addr] = b
	}

	b.seen = now

	return b.lim.AllowN(now, 1)
}

// sweep drops buckets not used since cutoff and reports how many went.
func (t *throttle) sweep(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0

	for addr, b := range t.clients {
		if b.seen.Before(cutoff) {
			delete(t.clients, addr)
			n++
		}
	}

	return n
}

// limit returns middleware enforcing tier per client address. It passes
// everything through when rate limiting is off or the tier has no budget.
// The returned throttle is swept by housekeeping.
func (s *server) limit(tier config.RateLimitTier) func(http.Handler) http.Handler {
	if !s.cfg.Server.RateLimit.Enabled || tier.RequestsPerMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	t := newThrottle(tier)
	s.throttles = append(s.throttles, t)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !t.allow(clientAddr(r), time.Now()) {
				w.Header().Set("Retry-After", "60")
				writeJSON(w, http.StatusTooManyRequests,
					errorResponse{"rate limit exceeded"})

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientAddr is the host part of RemoteAddr, which chi's RealIP middleware
// has already replaced with the forwarded client address.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
