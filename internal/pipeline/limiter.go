package pipeline

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterPool keeps one token bucket per user
type limiterPool struct {
	mu    sync.Mutex
	m     map[string]*userLimit
	limit rate.Limit
	burst int
}

type userLimit struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLimiterPool(perMinute, burst int) *limiterPool {
	if perMinute <= 0 {
		perMinute = 100
	}
	if burst <= 0 {
		burst = 10
	}
	return &limiterPool{
		m:     make(map[string]*userLimit),
		limit: rate.Limit(float64(perMinute) / 60),
		burst: burst,
	}
}

func (p *limiterPool) Allow(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.m[key]
	if !ok {
		l = &userLimit{limiter: rate.NewLimiter(p.limit, p.burst)}
		p.m[key] = l
	}
	l.lastSeen = time.Now()
	return l.limiter.Allow()
}

// Cleanup drops users idle for longer than idle
func (p *limiterPool) Cleanup(idle time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Now().Add(-idle)
	removed := 0
	for key, l := range p.m {
		if l.lastSeen.Before(cutoff) {
			delete(p.m, key)
			removed++
		}
	}
	return removed
}

func (p *limiterPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}
