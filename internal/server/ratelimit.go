package server

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/ragdoc/internal/logging"
)

const (
	// defaultRateLimit is the sustained requests per second allowed per client
	// on the pipeline endpoints when none is configured.
	defaultRateLimit = 10

	// defaultRateBurst is the per-client burst when none is configured.
	defaultRateBurst = 20

	// visitorTTL is how long an idle client keeps its bucket.
	visitorTTL = 5 * time.Minute

	// evictInterval is how often idle buckets are swept.
	evictInterval = time.Minute
)

// visitor is one client's token bucket.
type visitor struct {
	// limiter is the client's token bucket.
	limiter *rate.Limiter
	// lastSeen is refreshed on every request and drives eviction.
	lastSeen time.Time
}

// rateLimiter enforces a per-client token bucket on the pipeline endpoints.
type rateLimiter struct {
	// mu guards visitors.
	mu sync.Mutex
	// visitors maps client IP to its bucket.
	visitors map[string]*visitor
	// rps is the sustained rate per client.
	rps rate.Limit
	// burst is the bucket size per client.
	burst int
	// onReject is called once per rejected request. May be nil.
	onReject func()
	// now is the clock, replaced in tests.
	now func() time.Time
}

// newRateLimiter constructs a rateLimiter and starts its eviction loop.
// The returned stop function ends the loop and must be called once.
func newRateLimiter(rps float64, burst int, onReject func()) (*rateLimiter, func()) {
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		onReject: onReject,
		now:      time.Now,
	}

	stopCh := make(chan struct{})
	go rl.evictLoop(stopCh)

	var once sync.Once
	return rl, func() { once.Do(func() { close(stopCh) }) }
}

// allow reports whether the client identified by ip may proceed, and if not,
// how long until its next token.
func (rl *rateLimiter) allow(ip string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now

	r := v.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// evictLoop sweeps idle visitors until stopCh is closed.
func (rl *rateLimiter) evictLoop(stopCh <-chan struct{}) {
	ticker := time.NewTicker(evictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			rl.evict()
		}
	}
}

// evict removes visitors idle for longer than visitorTTL.
func (rl *rateLimiter) evict() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-visitorTTL)
	for ip, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, ip)
		}
	}
}

// size returns the number of tracked clients.
func (rl *rateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

// middleware rejects over-limit requests with 429, a Retry-After header in
// whole seconds, and a JSON error body.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		ok, wait := rl.allow(ip)
		if !ok {
			logging.FromContext(r.Context()).Warn("rate limit exceeded",
				slog.String("ip", ip),
				slog.String("path", r.URL.Path),
				slog.Duration("retry_after", wait),
			)
			if rl.onReject != nil {
				rl.onReject()
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
			writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// retryAfterSeconds rounds d up to whole seconds, at least 1.
func retryAfterSeconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		return 1
	}
	return s
}

// clientIP returns the host part of RemoteAddr. X-Forwarded-For is not
// trusted; put a proxy that rewrites RemoteAddr in front if needed.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
