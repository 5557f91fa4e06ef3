package middleware

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterCleanupInterval = 5 * time.Minute
	limiterTTL             = 30 * time.Minute
)

type limiterEntry struct {
	limiter *rate.Limiter
	lastUse time.Time
}

// limiterPool hands out one token bucket per key (client IP or actor id) and
// forgets keys idle for longer than limiterTTL.
type limiterPool struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	entries  map[string]*limiterEntry
	sweeping bool
	now      func() time.Time
}

func newLimiterPool(limit rate.Limit, burst int) *limiterPool {
	return &limiterPool{
		limit:   limit,
		burst:   burst,
		entries: make(map[string]*limiterEntry),
		now:     time.Now,
	}
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startSweepOnce()

	e, ok := p.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(p.limit, p.burst)}
		p.entries[key] = e
	}
	e.lastUse = p.now()
	return e.limiter
}

func (p *limiterPool) allow(key string) bool {
	return p.get(key).Allow()
}

func (p *limiterPool) startSweepOnce() {
	if p.sweeping {
		return
	}
	p.sweeping = true
	go func() {
		ticker := time.NewTicker(limiterCleanupInterval)
		defer ticker.Stop()
		for range ticker.C {
			p.sweep()
		}
	}()
}

func (p *limiterPool) sweep() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	for k, e := range p.entries {
		if now.Sub(e.lastUse) > limiterTTL {
			delete(p.entries, k)
		}
	}
}
