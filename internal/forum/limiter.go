package forum

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter rate-limits per hostname (oauth.reddit.com, www.reddit.com, ...).
type HostLimiter struct {
	mu sync.Mutex
	m  map[string]*rate.Limiter
	r  rate.Limit
	b  int
}

func NewHostLimiter(reqPerSec float64, burst int) *HostLimiter {
	return &HostLimiter{
		m: make(map[string]*rate.Limiter),
		r: rate.Limit(reqPerSec),
		b: burst,
	}
}

// PerMinute builds a limiter from a requests-per-minute budget.
func PerMinute(n int) *HostLimiter {
	if n <= 0 {
		n = 60
	}
	return NewHostLimiter(float64(n)/60.0, 1)
}

func (hl *HostLimiter) limiterFor(host string) *rate.Limiter {
	hl.mu.Lock()
	defer hl.mu.Unlock()

	if lim, ok := hl.m[host]; ok {
		return lim
	}
	lim := rate.NewLimiter(hl.r, hl.b)
	hl.m[host] = lim
	return lim
}

func (hl *HostLimiter) WaitURL(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return hl.limiterFor("_").Wait(ctx)
	}
	return hl.limiterFor(u.Host).Wait(ctx)
}

// Gap enforces a minimum spacing between calls (one token per interval, no burst).
type Gap struct {
	lim *rate.Limiter
}

func NewGap(every time.Duration) *Gap {
	if every <= 0 {
		return &Gap{lim: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Gap{lim: rate.NewLimiter(rate.Every(every), 1)}
}

func (g *Gap) Wait(ctx context.Context) error { return g.lim.Wait(ctx) }
