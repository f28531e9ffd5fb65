// Package approval drives candidates from PENDING_APPROVAL to a terminal
// state on human decisions, and posts approved replies to the forum.
package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"radar-engine/internal/domain"
	"radar-engine/internal/events"
	"radar-engine/internal/forum"
	"radar-engine/internal/logging"
	"radar-engine/internal/metrics"
)

// AlreadyHandled is shown to a human whose action lost to an earlier one.
const AlreadyHandled = "already handled"

type Store interface {
	Get(ctx context.Context, fingerprint string) (domain.Candidate, error)
	Update(ctx context.Context, fingerprint string, mutate func(domain.Candidate) (domain.Candidate, error)) (domain.Candidate, error)
	ClaimPost(ctx context.Context, fingerprint, owner string, lease time.Duration) error
	ReleasePost(ctx context.Context, fingerprint, owner string) error
	ReserveCommentSlot(ctx context.Context, gap time.Duration) (time.Duration, error)
}

type Options struct {
	MaxAttempts int
	RetryDelay  time.Duration
	MaxDelay    time.Duration
	// ClaimLease bounds how long a crashed poster blocks a re-drive.
	ClaimLease time.Duration
	// CommentGap spaces replies across every process sharing the store.
	CommentGap time.Duration
	Events     events.Publisher
}

type Machine struct {
	store       Store
	forum       forum.Replier
	maxAttempts int
	retryDelay  time.Duration
	maxDelay    time.Duration
	claimLease  time.Duration
	commentGap  time.Duration
	events      events.Publisher
	log         *zap.Logger
	now         func() time.Time
}

func NewMachine(st Store, f forum.Replier, opts Options, log *zap.Logger) *Machine {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if opts.MaxDelay < opts.RetryDelay {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.ClaimLease <= 0 {
		opts.ClaimLease = 15 * time.Minute
	}
	return &Machine{
		store:       st,
		forum:       f,
		maxAttempts: opts.MaxAttempts,
		retryDelay:  opts.RetryDelay,
		maxDelay:    opts.MaxDelay,
		claimLease:  opts.ClaimLease,
		commentGap:  opts.CommentGap,
		events:      opts.Events,
		log:         logging.OrNop(log).Named("approval"),
		now:         time.Now,
	}
}

func (m *Machine) SetClock(now func() time.Time) { m.now = now }

func (m *Machine) Get(ctx context.Context, fp string) (domain.Candidate, error) {
	return m.store.Get(ctx, fp)
}

// Approve accepts the draft as-is and posts it.
func (m *Machine) Approve(ctx context.Context, fp, actor string) (domain.Candidate, error) {
	if _, err := m.advance(ctx, fp, domain.StatusApproved, actor, "approved", nil); err != nil {
		return domain.Candidate{}, err
	}
	return m.Post(ctx, fp, actor)
}

// Edit replaces the draft with text and posts it. A draft is edited at most
// once: EDITED is only reachable from PENDING_APPROVAL.
func (m *Machine) Edit(ctx context.Context, fp, actor, text string) (domain.Candidate, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Candidate{}, errors.New("replacement text is empty")
	}
	if _, err := m.advance(ctx, fp, domain.StatusEdited, actor, "edited", func(c *domain.Candidate) { c.Draft = text }); err != nil {
		return domain.Candidate{}, err
	}
	return m.Post(ctx, fp, actor)
}

// Skip rejects the candidate.
func (m *Machine) Skip(ctx context.Context, fp, actor, reason string) (domain.Candidate, error) {
	if reason == "" {
		reason = "rejected"
	}
	return m.advance(ctx, fp, domain.StatusSkipped, actor, reason, nil)
}

// Post submits the draft of an APPROVED or EDITED candidate. Transient
// failures and rate limits are retried with backoff; a closed thread is not.
// Exhausted or permanent failures move the candidate to FAILED.
//
// Only the caller holding the store's post claim submits, so concurrent
// Posts of one candidate (listener retrying while `radar post` re-drives)
// reach the forum once; the loser gets a StateConflictError.
func (m *Machine) Post(ctx context.Context, fp, actor string) (domain.Candidate, error) {
	if m.forum == nil {
		return domain.Candidate{}, errors.New("no forum client configured")
	}
	owner := actor + "/" + uuid.NewString()
	if err := m.store.ClaimPost(ctx, fp, owner, m.claimLease); err != nil {
		if domain.IsStateConflict(err) {
			metrics.Conflicts.WithLabelValues("post").Inc()
			m.log.Info("post not claimed", zap.String("fingerprint", fp), zap.String("actor", actor), zap.Error(err))
			c, _ := m.store.Get(ctx, fp)
			return c, err
		}
		return domain.Candidate{}, err
	}
	c, err := m.store.Get(ctx, fp)
	if err != nil {
		m.release(ctx, fp, owner)
		return domain.Candidate{}, err
	}

	attempts := 0
	var commentID string
	op := func() error {
		attempts++
		if err := m.waitSlot(ctx); err != nil {
			return backoff.Permanent(err)
		}
		id, err := m.forum.SubmitReply(ctx, c.Post.ID, c.Draft)
		if err == nil {
			commentID = id
			return nil
		}
		m.log.Warn("post attempt failed", zap.String("fingerprint", fp), zap.Int("attempt", attempts), zap.Error(err))
		if ctx.Err() != nil || !forum.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.retryDelay
	b.MaxInterval = m.maxDelay
	b.MaxElapsedTime = 0
	err = backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(m.maxAttempts-1)), ctx))

	// the outcome is recorded even if the caller went away mid-post
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err == nil {
		metrics.PostAttempts.WithLabelValues("posted").Inc()
		return m.advance(rctx, fp, domain.StatusPosted, actor, "comment "+commentID, func(c *domain.Candidate) { c.CommentID = commentID })
	}
	if ctx.Err() != nil {
		// left APPROVED/EDITED; `radar post` re-drives it
		metrics.PostAttempts.WithLabelValues("cancelled").Inc()
		m.release(rctx, fp, owner)
		return c, err
	}

	outcome, reason := "failed", fmt.Sprintf("post failed after %d attempt(s): %v", attempts, err)
	if forum.IsConflict(err) {
		outcome, reason = "conflict", "thread closed: "+err.Error()
	}
	metrics.PostAttempts.WithLabelValues(outcome).Inc()
	failed, ferr := m.advance(rctx, fp, domain.StatusFailed, actor, reason, nil)
	if ferr != nil {
		return c, errors.Join(err, ferr)
	}
	return failed, &PostError{Fingerprint: fp, Attempts: attempts, Err: err}
}

// waitSlot holds a submit until the shared comment spacing allows it.
func (m *Machine) waitSlot(ctx context.Context) error {
	if m.commentGap <= 0 {
		return nil
	}
	wait, err := m.store.ReserveCommentSlot(ctx, m.commentGap)
	if err != nil {
		return fmt.Errorf("reserve comment slot: %w", err)
	}
	if wait <= 0 {
		return nil
	}
	m.log.Debug("waiting for comment slot", zap.Duration("wait", wait))
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release gives up a claim when nothing reached the forum. A claim whose
// reply was posted is kept, so a lost POSTED write cannot lead to a repost
// before the lease runs out.
func (m *Machine) release(ctx context.Context, fp, owner string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := m.store.ReleasePost(rctx, fp, owner); err != nil {
		m.log.Warn("release post claim", zap.String("fingerprint", fp), zap.Error(err))
	}
}

func (m *Machine) advance(ctx context.Context, fp string, to domain.Status, actor, reason string, edit func(*domain.Candidate)) (domain.Candidate, error) {
	var from domain.Status
	out, err := m.store.Update(ctx, fp, func(cur domain.Candidate) (domain.Candidate, error) {
		from = cur.Status
		if edit != nil {
			edit(&cur)
		}
		return cur.Advance(to, actor, reason, m.now())
	})
	if domain.IsStateConflict(err) {
		metrics.Conflicts.WithLabelValues("approval").Inc()
		m.log.Info("stale action rejected", zap.String("fingerprint", fp), zap.String("to", string(to)),
			zap.String("actor", actor), zap.Error(err))
		return domain.Candidate{}, err
	}
	if err != nil {
		return domain.Candidate{}, err
	}
	m.log.Info("candidate advanced", zap.String("fingerprint", fp), zap.String("from", string(from)),
		zap.String("to", string(to)), zap.String("actor", actor))
	events.Transition(m.events, "", from, out)
	return out, nil
}

// PostError is a post that ended in FAILED.
type PostError struct {
	Fingerprint string
	Attempts    int
	Err         error
}

func (e *PostError) Error() string {
	return fmt.Sprintf("post %s failed after %d attempt(s): %v", e.Fingerprint, e.Attempts, e.Err)
}

func (e *PostError) Unwrap() error { return e.Err }

// Describe turns an action result into the short text shown to the human.
func Describe(c domain.Candidate, err error) string {
	var pe *PostError
	switch {
	case err == nil:
		switch c.Status {
		case domain.StatusPosted:
			return "Posted ✅"
		case domain.StatusSkipped:
			return "Skipped ❌"
		}
		return string(c.Status)
	case domain.PostInProgress(err):
		return "post already in progress"
	case domain.IsStateConflict(err):
		return AlreadyHandled
	case errors.Is(err, domain.ErrNotFound):
		return "unknown candidate"
	case errors.As(err, &pe):
		if forum.IsConflict(pe.Err) {
			return "Failed: thread no longer accepts replies"
		}
		return "Failed to post"
	}
	return "Error: " + err.Error()
}
