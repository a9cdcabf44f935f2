package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/GriffinCanCode/deepwatch/internal/errors"
)

// rateLimiter tracks request timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	lastSeen   time.Time
}

// allow checks if a request is allowed and records the timestamp if so.
func (r *rateLimiter) allow(now time.Time, limit int, window time.Duration) bool {
	r.lastSeen = now
	cutoff := now.Add(-window)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= limit {
		return false
	}
	r.timestamps = append(r.timestamps, now)
	return true
}

// ipLimiter keeps one sliding window per client IP. Stale entries are purged
// lazily on the first request after IPRateLimitCleanupInterval.
type ipLimiter struct {
	mu        sync.Mutex
	clients   map[string]*rateLimiter
	limit     int
	window    time.Duration
	lastPurge time.Time
	now       func() time.Time
}

func newIPLimiter(limit int, window time.Duration) *ipLimiter {
	return &ipLimiter{
		clients: make(map[string]*rateLimiter),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastPurge) >= IPRateLimitCleanupInterval {
		for k, rl := range l.clients {
			if now.Sub(rl.lastSeen) > IPRateLimitEntryTTL {
				delete(l.clients, k)
			}
		}
		l.lastPurge = now
	}

	rl, ok := l.clients[ip]
	if !ok {
		rl = &rateLimiter{}
		l.clients[ip] = rl
	}
	return rl.allow(now, l.limit, l.window)
}

func (l *ipLimiter) middleware(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientIP(r)) {
			writeError(w, apperrors.New(apperrors.CodeQueueSaturated, "rate limit exceeded"))
			return
		}
		next(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
