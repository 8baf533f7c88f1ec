package ratelimit

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/vitesheet/internal/httpmw"
)

const (
	defaultPerSecond  = 10
	defaultBurst      = 30
	defaultTTL        = 5 * time.Minute
	defaultMaxClients = 100_000
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	// reported is set after the first denial so callers log once per client
	reported bool
}

// IPLimiter holds a token bucket per client address. Idle buckets are
// evicted after the TTL. Once MaxClients addresses are tracked, unseen
// addresses share one overflow bucket until eviction frees room.
type IPLimiter struct {
	mu       sync.Mutex
	clients  map[string]*client
	overflow *rate.Limiter

	perSecond  rate.Limit
	burst      int
	ttl        time.Duration
	maxClients int
	now        func() time.Time

	onFirstDenied func(ip string)
	onDenied      func(ip string)
	onCapacity    func()
}

type Option func(*IPLimiter)

// WithRate allows burst requests at once, refilled at perSecond.
func WithRate(perSecond float64, burst int) Option {
	return func(l *IPLimiter) {
		if perSecond > 0 {
			l.perSecond = rate.Limit(perSecond)
		}
		if burst > 0 {
			l.burst = burst
		}
	}
}

// WithTTL sets how long an idle address keeps its bucket.
func WithTTL(d time.Duration) Option {
	return func(l *IPLimiter) {
		if d > 0 {
			l.ttl = d
		}
	}
}

// WithMaxClients caps the number of tracked addresses.
func WithMaxClients(n int) Option {
	return func(l *IPLimiter) {
		if n > 0 {
			l.maxClients = n
		}
	}
}

// WithOnFirstDenied runs once per tracked address on its first denial.
func WithOnFirstDenied(fn func(ip string)) Option {
	return func(l *IPLimiter) { l.onFirstDenied = fn }
}

// WithOnDenied runs on every denial.
func WithOnDenied(fn func(ip string)) Option {
	return func(l *IPLimiter) { l.onDenied = fn }
}

// WithOnCapacity runs whenever a new address lands in the overflow bucket.
func WithOnCapacity(fn func()) Option {
	return func(l *IPLimiter) { l.onCapacity = fn }
}

// New builds a limiter and starts eviction, which stops when ctx ends.
func New(ctx context.Context, opts ...Option) *IPLimiter {
	l := &IPLimiter{
		clients:    make(map[string]*client),
		perSecond:  defaultPerSecond,
		burst:      defaultBurst,
		ttl:        defaultTTL,
		maxClients: defaultMaxClients,
		now:        time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	l.overflow = rate.NewLimiter(l.perSecond, l.burst)
	go l.evictLoop(ctx)
	return l
}

// Allow reports whether ip may proceed and fires the denial hooks.
func (l *IPLimiter) Allow(ip string) bool {
	l.mu.Lock()
	c, ok := l.clients[ip]
	full := false
	if !ok {
		if len(l.clients) >= l.maxClients {
			full = true
		} else {
			c = &client{limiter: rate.NewLimiter(l.perSecond, l.burst)}
			l.clients[ip] = c
		}
	}

	var allowed, first bool
	if full {
		allowed = l.overflow.Allow()
	} else {
		c.lastSeen = l.now()
		allowed = c.limiter.Allow()
		if !allowed && !c.reported {
			c.reported, first = true, true
		}
	}
	l.mu.Unlock()

	// hooks run unlocked, they may log or touch metrics
	if full && l.onCapacity != nil {
		l.onCapacity()
	}
	if allowed {
		return true
	}
	if first && l.onFirstDenied != nil {
		l.onFirstDenied(ip)
	}
	if l.onDenied != nil {
		l.onDenied(ip)
	}
	return false
}

// Len returns the number of tracked addresses.
func (l *IPLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (l *IPLimiter) evictLoop(ctx context.Context) {
	t := time.NewTicker(l.ttl / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.evict()
		}
	}
}

func (l *IPLimiter) evict() {
	cutoff := l.now().Add(-l.ttl)
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, ip)
		}
	}
}

// retryAfter is the whole seconds for one token to refill.
func (l *IPLimiter) retryAfter() string {
	secs := 1.0
	if l.perSecond > 0 {
		secs = math.Max(1, math.Ceil(1/float64(l.perSecond)))
	}
	return strconv.Itoa(int(secs))
}

// Middleware answers 429 with a JSON body when the address resolved by
// httpmw.ClientIP is over its limit.
func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(httpmw.ClientIPFromContext(r.Context())) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Retry-After", l.retryAfter())
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"too many requests"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
