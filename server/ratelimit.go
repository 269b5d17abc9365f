package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterCleanupInterval = 5 * time.Minute
	limiterIdleTimeout     = 10 * time.Minute
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipLimiters holds one token bucket per client IP.
type ipLimiters struct {
	mutex       sync.Mutex
	limiters    map[string]*ipLimiter
	rps         int
	burst       int
	idleTimeout time.Duration
}

func newIpLimiters(rps, burst int) *ipLimiters {
	return &ipLimiters{
		limiters:    make(map[string]*ipLimiter),
		rps:         rps,
		burst:       burst,
		idleTimeout: limiterIdleTimeout,
	}
}

func (l *ipLimiters) allow(ip string) bool {
	l.mutex.Lock()
	entry, ok := l.limiters[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(rate.Limit(l.rps), l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	l.mutex.Unlock()
	return entry.limiter.Allow()
}

func (l *ipLimiters) removeIdle(now time.Time) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	for ip, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > l.idleTimeout {
			delete(l.limiters, ip)
		}
	}
}

func (l *ipLimiters) size() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return len(l.limiters)
}

// loopCleanup drops idle entries until ctx is done.
func (l *ipLimiters) loopCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.removeIdle(now)
		}
	}
}

// rateLimiter enforces the per-IP token buckets, keyed by clientIP.
func rateLimiter(limiters *ipLimiters, clientIP func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiters.allow(clientIP(r)) {
				rateLimited.Inc()
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
