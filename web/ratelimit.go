package web

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxLimiters bounds the clients remembered by a limiterPool.
const maxLimiters = 10000

// limiterPool holds a token bucket per client.
type limiterPool struct {
	limit rate.Limit
	burst int

	mu sync.Mutex
	m  map[string]*clientLimiter
}

type clientLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

func newLimiterPool(perSec float64, burst int) *limiterPool {
	if burst <= 0 {
		burst = 1
	}
	return &limiterPool{
		limit: rate.Limit(perSec),
		burst: burst,
		m:     make(map[string]*clientLimiter),
	}
}

// Allow reports whether the client key may search now.
func (p *limiterPool) Allow(key string) bool {
	now := time.Now()
	p.mu.Lock()
	cl := p.m[key]
	if cl == nil {
		if len(p.m) >= maxLimiters {
			p.prune(now)
		}
		cl = &clientLimiter{lim: rate.NewLimiter(p.limit, p.burst)}
		p.m[key] = cl
	}
	cl.seen = now
	p.mu.Unlock()
	return cl.lim.AllowN(now, 1)
}

// prune forgets clients whose bucket has refilled.
// Called with p.mu held.
func (p *limiterPool) prune(now time.Time) {
	refill := time.Duration(float64(p.burst) / float64(p.limit) * float64(time.Second))
	for key, cl := range p.m {
		if now.Sub(cl.seen) > refill {
			delete(p.m, key)
		}
	}
}
