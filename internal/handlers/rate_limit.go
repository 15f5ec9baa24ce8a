package handlers

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bookporter/api/internal/platform/auth"
	"github.com/bookporter/api/internal/platform/httpx"
)

const limiterIdleTTL = 10 * time.Minute

// ClientRateLimiter keeps one token bucket per client. Authenticated users are keyed by UID,
// everyone else by remote IP.
type ClientRateLimiter struct {
	limit rate.Limit
	burst int
	clock func() time.Time

	mu      sync.Mutex
	clients map[string]*clientBucket
	swept   time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewClientRateLimiter allows perMinute requests per client with the given burst. A
// non-positive perMinute disables limiting.
func NewClientRateLimiter(perMinute, burst int, clock func() time.Time) *ClientRateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = max(1, perMinute/6)
	}
	if clock == nil {
		clock = time.Now
	}
	return &ClientRateLimiter{
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		clock:   clock,
		clients: make(map[string]*clientBucket),
	}
}

func (l *ClientRateLimiter) allow(key string) (bool, time.Duration) {
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.swept) > limiterIdleTTL {
		for k, b := range l.clients {
			if now.Sub(b.lastSeen) > limiterIdleTTL {
				delete(l.clients, k)
			}
		}
		l.swept = now
	}
	b, ok := l.clients[key]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = b
	}
	b.lastSeen = now
	r := b.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Middleware rejects requests over the limit with 429 and Retry-After.
func (l *ClientRateLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := l.allow(clientKey(r))
		if !ok {
			seconds := int(wait.Round(time.Second) / time.Second)
			httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests).WithRetryAfter(max(1, seconds)))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity.UID != "" {
		return "uid:" + identity.UID
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		host = strings.TrimSpace(r.RemoteAddr)
	}
	return "ip:" + host
}
