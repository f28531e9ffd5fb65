// Package pipeline turns forum search results into classified, scored and
// drafted candidates and hands the best of each cycle to the notifier.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"radar-engine/internal/classify"
	"radar-engine/internal/config"
	"radar-engine/internal/domain"
	"radar-engine/internal/events"
	"radar-engine/internal/forum"
	"radar-engine/internal/logging"
	"radar-engine/internal/metrics"
	"radar-engine/internal/notify"
	"radar-engine/internal/rank"
	"radar-engine/internal/store"
)

const actor = "pipeline"

// ErrLocked is returned when another cycle holds the scan lock.
var ErrLocked = errors.New("scan already running")

type Store interface {
	Create(ctx context.Context, c domain.Candidate) (bool, error)
	Update(ctx context.Context, fingerprint string, mutate func(domain.Candidate) (domain.Candidate, error)) (domain.Candidate, error)
	List(ctx context.Context, f store.Filter) ([]domain.Candidate, error)
}

type Classifier interface {
	Classify(ctx context.Context, p domain.Post) classify.Classification
}

type Drafter interface {
	Wants(c domain.Candidate) bool
	Draft(ctx context.Context, c domain.Candidate) (string, error)
}

type Notifier interface {
	Notify(ctx context.Context, cs []domain.Candidate, channels ...string) notify.DeliveryReport
}

type Options struct {
	Targets          []config.Target
	Lookback         time.Duration
	TopN             int
	Budget           time.Duration
	FetchConcurrency int
	FetchTimeout     time.Duration
	MinScore         int
	MinComments      int
	Weights          rank.SubredditWeights
	BackoffInitial   time.Duration
	BackoffMax       time.Duration
	LockPath         string // empty disables the cross-process lock
	Events           events.Publisher
}

// OptionsFromConfig maps the scan section of a normalized config.
func OptionsFromConfig(cfg config.Config, lockPath string) Options {
	s := cfg.Scan
	return Options{
		Targets:          s.Targets,
		Lookback:         s.Lookback,
		TopN:             s.TopN,
		Budget:           s.Budget,
		FetchConcurrency: s.FetchConcurrency,
		FetchTimeout:     s.FetchTimeout,
		MinScore:         s.MinScore,
		MinComments:      s.MinComments,
		Weights:          rank.SubredditWeights(s.SubredditWeights),
		BackoffInitial:   s.Backoff.Initial,
		BackoffMax:       s.Backoff.Max,
		LockPath:         lockPath,
	}
}

type Pipeline struct {
	forum      forum.Searcher
	store      Store
	classifier Classifier
	scorer     rank.Scorer
	drafter    Drafter
	notifier   Notifier
	opts       Options
	log        *zap.Logger
	now        func() time.Time

	running atomic.Bool
	limits  *rateState

	mu     sync.Mutex
	status Status
}

// New wires a pipeline. drafter may be nil (no drafts, everything is NOTIFIED).
func New(f forum.Searcher, st Store, c Classifier, sc rank.Scorer, d Drafter, n Notifier, opts Options, log *zap.Logger) *Pipeline {
	if opts.Lookback <= 0 {
		opts.Lookback = 24 * time.Hour
	}
	if opts.FetchConcurrency < 1 {
		opts.FetchConcurrency = 1
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = time.Minute
	}
	if sc == nil {
		sc = rank.EngagementScorer{}
	}
	return &Pipeline{
		forum:      f,
		store:      st,
		classifier: c,
		scorer:     sc,
		drafter:    d,
		notifier:   n,
		opts:       opts,
		log:        logging.OrNop(log).Named("pipeline"),
		now:        time.Now,
		limits:     newRateState(opts.BackoffInitial, opts.BackoffMax),
	}
}

// SetClock replaces the time source; tests only.
func (p *Pipeline) SetClock(now func() time.Time) { p.now = now }

type CycleReport struct {
	ID              string                `json:"id"`
	StartedAt       time.Time             `json:"started_at"`
	Duration        time.Duration         `json:"duration"`
	Skipped         string                `json:"skipped,omitempty"`
	Fetched         int                   `json:"fetched"`
	FetchErrors     int                   `json:"fetch_errors"`
	Filtered        int                   `json:"filtered"`
	Duplicates      int                   `json:"duplicates"`
	Created         int                   `json:"created"`
	Resumed         int                   `json:"resumed"`
	Classified      int                   `json:"classified"`
	Noise           int                   `json:"noise"`
	Notified        int                   `json:"notified"`
	PendingApproval int                   `json:"pending_approval"`
	Deferred        int                   `json:"deferred"`
	RateLimited     bool                  `json:"rate_limited"`
	ResumeAfter     time.Time             `json:"resume_after,omitempty"`
	Delivery        notify.DeliveryReport `json:"delivery"`
}

// RunCycle runs one scan. Only one cycle runs at a time per lock file; a
// concurrent call returns ErrLocked with Skipped set. A cycle that runs past
// its budget finishes the candidate in hand and leaves the rest NEW or
// CLASSIFIED for the next cycle.
func (p *Pipeline) RunCycle(ctx context.Context) (CycleReport, error) {
	start := p.now()
	rep := CycleReport{ID: uuid.NewString(), StartedAt: start.UTC()}

	unlock, err := p.acquire()
	if err != nil {
		rep.Skipped = "locked"
		metrics.ScanCycles.WithLabelValues("locked").Inc()
		return rep, err
	}
	defer unlock()

	p.setRunning(rep.ID)
	events.Emit(p.opts.Events, rep.ID, events.TypeCycleStarted, map[string]string{"id": rep.ID})
	log := p.log.With(zap.String("cycle", rep.ID))

	var deadline time.Time
	if p.opts.Budget > 0 {
		deadline = start.Add(p.opts.Budget)
	}
	cyc := &cycle{Pipeline: p, ctx: ctx, rep: &rep, deadline: deadline, log: log}

	err = cyc.run()

	rep.Duration = p.now().Sub(start)
	metrics.ScanDuration.Observe(rep.Duration.Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
		log.Error("scan cycle failed", zap.Error(err))
	} else {
		log.Info("scan cycle done",
			zap.Int("fetched", rep.Fetched), zap.Int("created", rep.Created),
			zap.Int("duplicates", rep.Duplicates), zap.Int("noise", rep.Noise),
			zap.Int("notified", rep.Notified), zap.Int("pending", rep.PendingApproval),
			zap.Int("deferred", rep.Deferred), zap.Bool("rate_limited", rep.RateLimited),
			zap.Duration("took", rep.Duration))
	}
	metrics.ScanCycles.WithLabelValues(outcome).Inc()
	p.setDone(rep, err)
	events.Emit(p.opts.Events, rep.ID, events.TypeCycleCompleted, rep)
	return rep, err
}

type cycle struct {
	*Pipeline
	ctx      context.Context
	rep      *CycleReport
	deadline time.Time
	log      *zap.Logger
}

func (c *cycle) overBudget() bool {
	return !c.deadline.IsZero() && !c.now().Before(c.deadline)
}

func (c *cycle) run() error {
	posts := c.fetch()

	if err := c.ingest(posts); err != nil {
		return err
	}
	if err := c.classifyNew(); err != nil {
		return err
	}
	batch, err := c.advanceTop()
	if err != nil {
		return err
	}
	if len(batch) > 0 && c.notifier != nil {
		// state is already persisted; delivery outcome never changes it
		c.rep.Delivery = c.notifier.Notify(c.ctx, batch)
	}
	return nil
}

type fetched struct {
	keyword string
	post    domain.Post
}

// ingest creates NEW candidates for first-seen posts. Creation is cheap and
// happens even past the budget so nothing fetched is lost.
func (c *cycle) ingest(posts []fetched) error {
	for _, f := range posts {
		if f.post.Score < c.opts.MinScore || f.post.NumComments < c.opts.MinComments {
			c.rep.Filtered++
			continue
		}
		cand := domain.NewCandidate(f.post, f.keyword, actor, c.now())
		created, err := c.store.Create(c.ctx, cand)
		if err != nil {
			return fmt.Errorf("create %s: %w", cand.Fingerprint, err)
		}
		if !created {
			c.rep.Duplicates++
			continue
		}
		c.rep.Created++
		events.Transition(c.opts.Events, c.rep.ID, "", cand)
	}
	return nil
}

// classifyNew moves every NEW candidate to CLASSIFIED, and NOISE on to SKIPPED.
// Candidates left NEW by an earlier interrupted cycle are picked up here too.
func (c *cycle) classifyNew() error {
	pending, err := c.store.List(c.ctx, store.Filter{Statuses: []domain.Status{domain.StatusNew}, OldestFirst: true})
	if err != nil {
		return fmt.Errorf("list new: %w", err)
	}
	c.rep.Resumed = max(0, len(pending)-c.rep.Created)

	for i, cand := range pending {
		if c.overBudget() || c.ctx.Err() != nil {
			c.rep.Deferred += len(pending) - i
			c.log.Warn("budget exhausted, deferring classification", zap.Int("remaining", len(pending)-i))
			return nil
		}
		if err := c.classifyOne(cand); err != nil {
			return err
		}
	}
	return nil
}

func (c *cycle) classifyOne(cand domain.Candidate) error {
	cl := c.classifier.Classify(c.ctx, cand.Post)
	score := c.scorer.Score(cand.Post, cl.Intent, c.opts.Weights.For(cand.Post.Subreddit))

	out, err := c.store.Update(c.ctx, cand.Fingerprint, func(cur domain.Candidate) (domain.Candidate, error) {
		cur.Intent, cur.Confidence, cur.Reasoning, cur.Score = cl.Intent, cl.Confidence, cl.Reasoning, score
		return cur.Advance(domain.StatusClassified, actor, "classified by "+cl.Source, c.now())
	})
	if c.conflict(cand.Fingerprint, err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("classify %s: %w", cand.Fingerprint, err)
	}
	c.rep.Classified++
	events.Transition(c.opts.Events, c.rep.ID, domain.StatusNew, out)

	if out.Intent != domain.IntentNoise {
		return nil
	}
	return c.skipNoise(out)
}

// skipNoise moves a CLASSIFIED NOISE candidate to SKIPPED.
func (c *cycle) skipNoise(cand domain.Candidate) error {
	reason := "noise"
	if cand.Reasoning != "" {
		reason = "noise: " + cand.Reasoning
	}
	skipped, err := c.store.Update(c.ctx, cand.Fingerprint, func(cur domain.Candidate) (domain.Candidate, error) {
		return cur.Advance(domain.StatusSkipped, actor, reason, c.now())
	})
	if c.conflict(cand.Fingerprint, err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("skip %s: %w", cand.Fingerprint, err)
	}
	c.rep.Noise++
	events.Transition(c.opts.Events, c.rep.ID, domain.StatusClassified, skipped)
	return nil
}

// advanceTop drafts for the best CLASSIFIED candidates in the lookback window
// and moves them to PENDING_APPROVAL or NOTIFIED. The rest stay CLASSIFIED and
// compete again next cycle.
func (c *cycle) advanceTop() ([]domain.Candidate, error) {
	backlog, err := c.store.List(c.ctx, store.Filter{
		Statuses:     []domain.Status{domain.StatusClassified},
		FetchedSince: c.now().Add(-c.opts.Lookback),
	})
	if err != nil {
		return nil, fmt.Errorf("list classified: %w", err)
	}
	// NOISE still CLASSIFIED was left by a cycle stopped between its two writes
	live := backlog[:0]
	for _, cand := range backlog {
		if cand.Intent != domain.IntentNoise {
			live = append(live, cand)
			continue
		}
		if err := c.skipNoise(cand); err != nil {
			return nil, err
		}
	}
	top := rank.TopN(live, c.opts.TopN)

	var batch []domain.Candidate
	for i, cand := range top {
		if c.overBudget() || c.ctx.Err() != nil {
			c.rep.Deferred += len(top) - i
			c.log.Warn("budget exhausted, deferring notification", zap.Int("remaining", len(top)-i))
			break
		}

		text := c.draft(cand)
		out, err := c.store.Update(c.ctx, cand.Fingerprint, func(cur domain.Candidate) (domain.Candidate, error) {
			if text != "" {
				cur.Draft = text
				return cur.Advance(domain.StatusPendingApproval, actor, "draft generated", c.now())
			}
			return cur.Advance(domain.StatusNotified, actor, "no draft", c.now())
		})
		if c.conflict(cand.Fingerprint, err) {
			continue
		}
		if err != nil {
			return batch, fmt.Errorf("advance %s: %w", cand.Fingerprint, err)
		}
		if out.Status == domain.StatusPendingApproval {
			c.rep.PendingApproval++
		} else {
			c.rep.Notified++
		}
		events.Transition(c.opts.Events, c.rep.ID, domain.StatusClassified, out)
		batch = append(batch, out)
	}
	return batch, nil
}

func (c *cycle) draft(cand domain.Candidate) string {
	if c.drafter == nil || !c.drafter.Wants(cand) {
		return ""
	}
	text, err := c.drafter.Draft(c.ctx, cand)
	if err != nil {
		c.log.Warn("draft failed, notifying without draft", zap.String("fingerprint", cand.Fingerprint), zap.Error(err))
		return ""
	}
	return text
}

// conflict reports (and logs) a transition lost to another writer.
func (c *cycle) conflict(fp string, err error) bool {
	if !domain.IsStateConflict(err) {
		return false
	}
	metrics.Conflicts.WithLabelValues(actor).Inc()
	c.log.Info("candidate advanced elsewhere", zap.String("fingerprint", fp), zap.Error(err))
	return true
}

// sortFetched gives a stable processing order: oldest post first.
func sortFetched(fs []fetched) {
	sort.SliceStable(fs, func(i, j int) bool {
		a, b := fs[i].post, fs[j].post
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Fingerprint() < b.Fingerprint()
	})
}
