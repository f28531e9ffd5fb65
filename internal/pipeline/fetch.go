package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"radar-engine/internal/domain"
	"radar-engine/internal/forum"
	"radar-engine/internal/metrics"
)

// rateState is the forum back-off carried from one cycle to the next. A
// rate-limit response pauses fetching until resumeAt; backlog work still runs.
type rateState struct {
	mu       sync.Mutex
	bo       *backoff.ExponentialBackOff
	hits     int
	resumeAt time.Time
}

func newRateState(initial, maxDelay time.Duration) *rateState {
	if initial <= 0 {
		initial = time.Minute
	}
	if maxDelay < initial {
		maxDelay = initial
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	bo.MaxInterval = maxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()
	return &rateState{bo: bo}
}

func (r *rateState) blocked(now time.Time) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resumeAt, now.Before(r.resumeAt)
}

// hit records a rate-limit response. The pause doubles per consecutive hit
// and never undercuts the server's Retry-After.
func (r *rateState) hit(now time.Time, retryAfter time.Duration) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hits++
	d := r.bo.NextBackOff()
	if retryAfter > d {
		d = retryAfter
	}
	r.resumeAt = now.Add(d)
	return r.resumeAt
}

func (r *rateState) ok() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hits = 0
	r.resumeAt = time.Time{}
	r.bo.Reset()
}

func (r *rateState) consecutive() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hits
}

// fetch searches every (keyword, subreddit) pair. The first rate-limit
// response stops the remaining searches for this cycle.
func (c *cycle) fetch() []fetched {
	now := c.now()
	if until, blocked := c.limits.blocked(now); blocked {
		c.rep.RateLimited = true
		c.rep.ResumeAfter = until.UTC()
		c.log.Info("rate limited, skipping fetch", zap.Time("resume_after", until))
		return nil
	}
	if c.forum == nil {
		return nil
	}
	since := now.Add(-c.opts.Lookback)

	type job struct{ keyword, sub string }
	var jobs []job
	for _, t := range c.opts.Targets {
		for _, sub := range t.Subreddits {
			jobs = append(jobs, job{t.Keyword, sub})
		}
	}

	fctx, stop := context.WithCancel(c.ctx)
	defer stop()

	var (
		mu      sync.Mutex
		out     []fetched
		seen    = map[string]bool{}
		limited bool
	)
	g, gctx := errgroup.WithContext(fctx)
	g.SetLimit(c.opts.FetchConcurrency)
	for _, j := range jobs {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			tctx, cancel := context.WithTimeout(gctx, c.opts.FetchTimeout)
			defer cancel()

			posts, err := c.forum.Search(tctx, j.keyword, j.sub, since)
			if err != nil {
				mu.Lock()
				defer mu.Unlock()
				if rl, ok := forum.AsRateLimit(err); ok {
					metrics.FetchErrors.WithLabelValues("rate_limit").Inc()
					if !limited {
						limited = true
						until := c.limits.hit(c.now(), rl.RetryAfter)
						c.rep.RateLimited = true
						c.rep.ResumeAfter = until.UTC()
						c.log.Warn("forum rate limit, pausing fetches",
							zap.Int("consecutive", c.limits.consecutive()), zap.Time("resume_after", until))
					}
					stop()
					return nil
				}
				if gctx.Err() != nil {
					return nil
				}
				kind := "other"
				if domain.IsTransient(err) {
					kind = "transient"
				}
				metrics.FetchErrors.WithLabelValues(kind).Inc()
				c.rep.FetchErrors++
				c.log.Warn("search failed", zap.String("keyword", j.keyword), zap.String("subreddit", j.sub), zap.Error(err))
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			for _, p := range posts {
				fp := p.Fingerprint()
				if seen[fp] {
					continue
				}
				seen[fp] = true
				if p.FetchedAt.IsZero() {
					p.FetchedAt = c.now().UTC()
				}
				out = append(out, fetched{keyword: j.keyword, post: p})
			}
			return nil
		})
	}
	_ = g.Wait()

	if !limited {
		c.limits.ok()
	}
	c.rep.Fetched = len(out)
	sortFetched(out)
	return out
}
