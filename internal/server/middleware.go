package server

import (
	"container/list"
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// SecurityHeadersMiddleware adds security headers to all responses. policy
// is evaluated per request so rediscovered pages can add library origins.
// Handlers may override the Content-Security-Policy header.
func SecurityHeadersMiddleware(policy func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Content-Security-Policy", policy())

			next.ServeHTTP(w, r)
		})
	}
}

// originsOf returns the scheme://host origins of the given URLs, skipping
// empty or unparsable ones.
func originsOf(urls ...string) []string {
	var out []string
	for _, u := range urls {
		scheme, rest, ok := strings.Cut(u, "://")
		if !ok || scheme == "" {
			continue
		}
		host, _, _ := strings.Cut(rest, "/")
		if host == "" {
			continue
		}
		out = append(out, scheme+"://"+host)
	}
	return out
}

const (
	// evictionLogInterval is the minimum time between eviction log messages.
	evictionLogInterval = 30 * time.Second
	// limiterIdleTTL is how long a client's bucket survives without requests.
	limiterIdleTTL = 10 * time.Minute
	sweepInterval  = 5 * time.Minute
)

// clientBucket is one client's token bucket and its place in the LRU list.
type clientBucket struct {
	ip       string
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiters holds a token bucket per client IP, keeping at most max
// clients and dropping the least recently seen one when full.
type clientLimiters struct {
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	max     int
	byIP    map[string]*list.Element
	recency *list.List // front is the most recent client
	logger  *zap.Logger

	evicted      int
	lastEvictLog time.Time
}

func newClientLimiters(rps float64, burst, max int, logger *zap.Logger) *clientLimiters {
	return &clientLimiters{
		rps:     rate.Limit(rps),
		burst:   burst,
		max:     max,
		byIP:    make(map[string]*list.Element),
		recency: list.New(),
		logger:  logger,
	}
}

// allow takes a token from ip's bucket, creating the bucket on first sight.
func (c *clientLimiters) allow(ip string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.byIP[ip]; ok {
		c.recency.MoveToFront(elem)
		b := elem.Value.(*clientBucket)
		b.lastSeen = now
		return b.limiter.AllowN(now, 1)
	}

	if c.recency.Len() >= c.max {
		c.evictOldestLocked(now)
	}
	b := &clientBucket{ip: ip, limiter: rate.NewLimiter(c.rps, c.burst), lastSeen: now}
	c.byIP[ip] = c.recency.PushFront(b)
	return b.limiter.AllowN(now, 1)
}

func (c *clientLimiters) evictOldestLocked(now time.Time) {
	back := c.recency.Back()
	if back == nil {
		return
	}
	c.recency.Remove(back)
	delete(c.byIP, back.Value.(*clientBucket).ip)

	c.evicted++
	if now.Sub(c.lastEvictLog) >= evictionLogInterval {
		c.logger.Warn("rate limiter evicted least recent clients",
			zap.Int("evicted", c.evicted), zap.Int("capacity", c.max))
		c.lastEvictLog = now
		c.evicted = 0
	}
}

// sweep drops buckets idle for longer than limiterIdleTTL. Recency follows
// access order, not lastSeen, so every bucket is checked.
func (c *clientLimiters) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for e := c.recency.Back(); e != nil; {
		prev := e.Prev()
		if b := e.Value.(*clientBucket); now.Sub(b.lastSeen) > limiterIdleTTL {
			c.recency.Remove(e)
			delete(c.byIP, b.ip)
		}
		e = prev
	}
}

func (c *clientLimiters) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recency.Len()
}

// RateLimitMiddleware limits each client IP to rps requests per second with
// the given burst, tracking at most maxIPs clients (default 10000).
//
// A sweeper goroutine drops idle clients until ctx is cancelled; the
// returned channel closes once it has exited.
func RateLimitMiddleware(ctx context.Context, rps float64, burst int, maxIPs int, logger *zap.Logger) (func(http.Handler) http.Handler, <-chan struct{}) {
	if maxIPs <= 0 {
		maxIPs = 10000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	clients := newClientLimiters(rps, burst, maxIPs, logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				clients.sweep(now)
			case <-ctx.Done():
				return
			}
		}
	}()

	middleware := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !clients.allow(getClientIP(r), time.Now()) {
				w.Header().Set("Retry-After", "1")
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	return middleware, done
}

// getClientIP extracts the client IP from the request.
// It only trusts X-Forwarded-For / X-Real-IP when the immediate peer is a
// loopback or private address (i.e., behind a reverse proxy).
func getClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	peerIP := net.ParseIP(host)
	trustedProxy := peerIP != nil && (peerIP.IsLoopback() || peerIP.IsPrivate())

	if trustedProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if parts := strings.SplitN(xff, ",", 2); len(parts) > 0 {
				return strings.TrimSpace(parts[0])
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	if peerIP != nil {
		return peerIP.String()
	}
	return host
}
