// Package ratelimit implements the two-tier token-bucket limiter: one
// bucket per client plus a single global bucket. Both must have capacity
// for a request to pass. Denials carry retry-after and IETF RateLimit-*
// header values so agents can back off precisely.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// ToolCosts weights each tool by the resources it consumes. Unknown tools
// cost DefaultCost.
var ToolCosts = map[string]int{
	"get_page_state":     1,
	"scroll_page":        1,
	"navigate_back":      2,
	"take_screenshot":    2,
	"wait_for":           2,
	"execute_action":     3,
	"get_page_map":       5,
	"fill_form":          5,
	"batch_get_page_map": 10,
}

// DefaultCost applies to tools not present in ToolCosts.
const DefaultCost = 3

// Config holds limiter tuning. The zero value disables limiting.
type Config struct {
	Enabled          bool
	ClientCapacity   int
	ClientRefillRate float64 // tokens per second
	GlobalCapacity   int
	GlobalRefillRate float64
	StaleAfter       time.Duration // idle client buckets are reaped after this
	ReapInterval     time.Duration
}

// DefaultConfig mirrors production defaults: 30 tokens per client refilling
// at 2/s, 100 global refilling at 10/s.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		ClientCapacity:   30,
		ClientRefillRate: 2.0,
		GlobalCapacity:   100,
		GlobalRefillRate: 10.0,
		StaleAfter:       30 * time.Minute,
		ReapInterval:     time.Minute,
	}
}

// Result reports the outcome of an acquire attempt. The header values
// follow draft-ietf-httpapi-ratelimit-headers.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      time.Duration // time until the bucket is full again
	RetryAfter time.Duration // only set on denial
	Scope      string        // "client" or "global"
}

// ApplyHeaders writes RateLimit-* (and Retry-After on denial) to h.
func (r Result) ApplyHeaders(h http.Header) {
	h.Set("RateLimit-Limit", strconv.Itoa(r.Limit))
	h.Set("RateLimit-Remaining", strconv.Itoa(r.Remaining))
	h.Set("RateLimit-Reset", strconv.Itoa(int(math.Ceil(r.Reset.Seconds()))))
	if !r.Allowed {
		h.Set("Retry-After", strconv.Itoa(int(math.Ceil(r.RetryAfter.Seconds()))))
	}
}

// LowRemaining reports whether the client is at or below 20% of its limit,
// the threshold for warning telemetry.
func (r Result) LowRemaining() bool {
	return r.Allowed && r.Limit > 0 && r.Remaining*5 <= r.Limit
}

type bucket struct {
	capacity   float64
	refillRate float64
	tokens     float64
	updatedAt  time.Time
	lastUsed   time.Time
}

func newBucket(capacity int, rate float64, now time.Time) *bucket {
	return &bucket{
		capacity:   float64(capacity),
		refillRate: rate,
		tokens:     float64(capacity),
		updatedAt:  now,
		lastUsed:   now,
	}
}

// refill applies lazy token accrual up to capacity.
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.updatedAt).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.refillRate)
		b.updatedAt = now
	}
}

func (b *bucket) retryAfter(cost float64) time.Duration {
	if b.refillRate <= 0 {
		return time.Hour
	}
	deficit := cost - b.tokens
	return time.Duration(math.Ceil(deficit/b.refillRate)) * time.Second
}

func (b *bucket) resetIn() time.Duration {
	if b.refillRate <= 0 {
		return 0
	}
	return time.Duration(math.Ceil((b.capacity-b.tokens)/b.refillRate)) * time.Second
}

// Limiter is safe for concurrent use.
type Limiter struct {
	cfg Config

	mu       sync.Mutex
	global   *bucket
	clients  map[string]*bucket
	lastReap time.Time

	now func() time.Time // swappable clock for tests
}

// New builds a limiter from cfg.
func New(cfg Config) *Limiter {
	l := &Limiter{cfg: cfg, clients: make(map[string]*bucket), now: time.Now}
	l.global = newBucket(cfg.GlobalCapacity, cfg.GlobalRefillRate, l.now())
	l.lastReap = l.now()
	return l
}

// Cost returns the token cost for a tool.
func Cost(tool string) int {
	if c, ok := ToolCosts[tool]; ok {
		return c
	}
	return DefaultCost
}

// Acquire attempts to spend the tool's cost against both buckets. The
// global bucket is checked first; on a client-side denial its tokens are
// refunded so one throttled client cannot starve the rest.
// Disabled limiters and empty client IDs always pass.
func (l *Limiter) Acquire(clientID, tool string) Result {
	if !l.cfg.Enabled || clientID == "" {
		return Result{Allowed: true, Limit: l.cfg.ClientCapacity, Remaining: l.cfg.ClientCapacity, Scope: "client"}
	}
	cost := float64(Cost(tool))
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybeReap(now)

	l.global.refill(now)
	if l.global.tokens < cost {
		return Result{
			Allowed:    false,
			Limit:      l.cfg.GlobalCapacity,
			Remaining:  int(l.global.tokens),
			Reset:      l.global.resetIn(),
			RetryAfter: l.global.retryAfter(cost),
			Scope:      "global",
		}
	}
	l.global.tokens -= cost

	cb, ok := l.clients[clientID]
	if !ok {
		cb = newBucket(l.cfg.ClientCapacity, l.cfg.ClientRefillRate, now)
		l.clients[clientID] = cb
	}
	cb.refill(now)
	cb.lastUsed = now
	if cb.tokens < cost {
		l.global.tokens += cost // refund
		return Result{
			Allowed:    false,
			Limit:      l.cfg.ClientCapacity,
			Remaining:  int(cb.tokens),
			Reset:      cb.resetIn(),
			RetryAfter: cb.retryAfter(cost),
			Scope:      "client",
		}
	}
	cb.tokens -= cost
	return Result{
		Allowed:   true,
		Limit:     l.cfg.ClientCapacity,
		Remaining: int(cb.tokens),
		Reset:     cb.resetIn(),
		Scope:     "client",
	}
}

// maybeReap drops client buckets idle past StaleAfter. Called under mu.
func (l *Limiter) maybeReap(now time.Time) {
	if l.cfg.ReapInterval <= 0 || now.Sub(l.lastReap) < l.cfg.ReapInterval {
		return
	}
	l.lastReap = now
	for id, b := range l.clients {
		if now.Sub(b.lastUsed) > l.cfg.StaleAfter {
			delete(l.clients, id)
		}
	}
}

// ClientCount reports tracked client buckets, for pool health output.
func (l *Limiter) ClientCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
