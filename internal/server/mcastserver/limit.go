package mcastserver

import (
	"sync"

	"golang.org/x/time/rate"
)

// maxSources bounds the number of per-source limiters kept at once.
const maxSources = 4096

// Limit is the per-source datagram budget.
type Limit struct {
	// Rate is datagrams per second. Zero disables limiting.
	Rate float64

	// Burst is the bucket size. Zero uses the rate rounded up.
	Burst int
}

// limiter holds one token bucket per source address.
type limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newLimiter(l Limit) *limiter {
	if l.Rate <= 0 {
		return nil
	}
	burst := l.Burst
	if burst <= 0 {
		burst = int(l.Rate + 0.999)
	}
	return &limiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(l.Rate),
		burst:    burst,
	}
}

// allow reports whether a datagram from source may be processed.
func (l *limiter) allow(source string) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	lim, ok := l.limiters[source]
	if !ok {
		if len(l.limiters) >= maxSources {
			// Forgetting every source refills their buckets.
			l.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[source] = lim
	}
	l.mu.Unlock()

	return lim.Allow()
}
