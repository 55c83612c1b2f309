package gateway

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultIdleTTL is how long an unused bucket is kept before it is swept.
const DefaultIdleTTL = 10 * time.Minute

// RateLimit configures per-tenant admission. Each tenant gets one token
// bucket per tool family, and at most MaxConcurrent calls in flight.
// A non-positive PerSecond disables the buckets; a non-positive
// MaxConcurrent disables the in-flight cap.
type RateLimit struct {
	PerSecond     float64 `yaml:"per_second"`
	Burst         int     `yaml:"burst"`
	MaxConcurrent int     `yaml:"max_concurrent"`

	// IdleTTL is how long a bucket may go unused before it is dropped.
	// Zero uses DefaultIdleTTL.
	IdleTTL time.Duration `yaml:"idle_ttl,omitempty"`
}

type bucket struct {
	lim  *rate.Limiter
	last time.Time
}

type limiter struct {
	limit   rate.Limit
	burst   int
	maxConc int
	idle    time.Duration
	now     func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
	inflight  map[string]int
}

func newLimiter(cfg RateLimit) *limiter {
	if cfg.PerSecond <= 0 && cfg.MaxConcurrent <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = max(1, int(cfg.PerSecond))
	}
	idle := cfg.IdleTTL
	if idle <= 0 {
		idle = DefaultIdleTTL
	}
	return &limiter{
		limit:    rate.Limit(cfg.PerSecond),
		burst:    burst,
		maxConc:  max(0, cfg.MaxConcurrent),
		idle:     idle,
		now:      time.Now,
		buckets:  make(map[string]*bucket),
		inflight: make(map[string]int),
	}
}

// allow reports whether tenant may call a tool of family now. A nil
// limiter allows everything.
func (l *limiter) allow(tenant, family string) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	key := tenant + "|" + family

	l.mu.Lock()
	now := l.now()
	l.sweepLocked(now)
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.last = now
	l.mu.Unlock()

	return b.lim.AllowN(now, 1)
}

// sweepLocked drops buckets idle for longer than l.idle. It runs at most
// once per idle period.
func (l *limiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.idle {
		return
	}
	l.lastSweep = now
	for key, b := range l.buckets {
		if now.Sub(b.last) >= l.idle {
			delete(l.buckets, key)
		}
	}
}

// acquire reserves an in-flight slot for tenant. Every successful acquire
// must be paired with release.
func (l *limiter) acquire(tenant string) bool {
	if l == nil || l.maxConc == 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inflight[tenant] >= l.maxConc {
		return false
	}
	l.inflight[tenant]++
	return true
}

func (l *limiter) release(tenant string) {
	if l == nil || l.maxConc == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := l.inflight[tenant]; n > 1 {
		l.inflight[tenant] = n - 1
	} else {
		delete(l.inflight, tenant)
	}
}

// size reports the number of live buckets and tenants with calls in flight.
func (l *limiter) size() (buckets, tenants int) {
	if l == nil {
		return 0, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets), len(l.inflight)
}

// toolFamily groups tools by the text before the first underscore:
// "kv_get" and "kv_set" share the "kv" family.
func toolFamily(tool string) string {
	if i := strings.IndexByte(tool, '_'); i > 0 {
		return tool[:i]
	}
	return tool
}
