package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/minanew12/eurodollar-protocol-sub001/observability"
)

const visitorTTL = 5 * time.Minute

// RateLimit is a token bucket per caller.
type RateLimit struct {
	RequestsPerSecond float64
	Burst             int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles callers by account, or by client address when the
// request is anonymous.
type RateLimiter struct {
	limit    RateLimit
	mu       sync.Mutex
	visitors map[string]*visitor
	now      func() time.Time
}

func NewRateLimiter(limit RateLimit) *RateLimiter {
	if limit.RequestsPerSecond <= 0 {
		limit.RequestsPerSecond = 1
	}
	if limit.Burst <= 0 {
		limit.Burst = 1
	}
	return &RateLimiter{limit: limit, visitors: make(map[string]*visitor), now: time.Now}
}

// Middleware rejects requests over the limit with 429.
func (l *RateLimiter) Middleware(group string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l == nil {
				next.ServeHTTP(w, r)
				return
			}
			if !l.allow(callerKey(r)) {
				observability.API().RecordThrottle(group, "rate_limit")
				writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: http.StatusText(http.StatusTooManyRequests), Kind: "rate_limited"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (l *RateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for id, v := range l.visitors {
		if now.Sub(v.lastSeen) > visitorTTL {
			delete(l.visitors, id)
		}
	}
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(l.limit.RequestsPerSecond), l.limit.Burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func callerKey(r *http.Request) string {
	if principal, ok := PrincipalFromContext(r.Context()); ok {
		return "acct:" + strings.ToLower(principal.Account.Hex())
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return "ip:" + ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if parsed := net.ParseIP(first); parsed != nil {
			return "ip:" + parsed.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}
