package approval

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"radar-engine/internal/domain"
	"radar-engine/internal/forum"
	"radar-engine/internal/store"
)

var t0 = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

type fakeReplier struct {
	mu    sync.Mutex
	calls int
	texts []string
	errs  []error // consumed per call; nil entries succeed
	delay time.Duration
}

func (f *fakeReplier) SubmitReply(_ context.Context, postID, text string) (string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return "", err
		}
	}
	f.texts = append(f.texts, text)
	return "c_" + postID, nil
}

func (f *fakeReplier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "radar.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.Migrate(context.Background(), db))
	return db
}

// seed stores a candidate and walks it to status via the normal path.
func seed(t *testing.T, db *store.DB, id string, status domain.Status) domain.Candidate {
	t.Helper()
	ctx := context.Background()
	p := domain.Post{Platform: "reddit", ID: id, Subreddit: "smallbusiness", Title: "looking for a CRM", CreatedAt: t0}
	c := domain.NewCandidate(p, "crm", "pipeline", t0)
	_, err := db.Create(ctx, c)
	require.NoError(t, err)

	step := func(to domain.Status, edit func(*domain.Candidate)) {
		var err error
		c, err = db.Update(ctx, c.Fingerprint, func(cur domain.Candidate) (domain.Candidate, error) {
			if edit != nil {
				edit(&cur)
			}
			return cur.Advance(to, "test", "", t0.Add(time.Duration(len(cur.History))*time.Minute))
		})
		require.NoError(t, err)
	}
	step(domain.StatusClassified, func(c *domain.Candidate) { c.Intent, c.Confidence, c.Score = domain.IntentHotLead, 0.9, 5 })
	if status == domain.StatusClassified {
		return c
	}
	step(domain.StatusPendingApproval, func(c *domain.Candidate) { c.Draft = "Try a shared inbox." })
	switch status {
	case domain.StatusApproved, domain.StatusPosted:
		step(domain.StatusApproved, nil)
	}
	if status == domain.StatusPosted {
		step(domain.StatusPosted, func(c *domain.Candidate) { c.CommentID = "c1" })
	}
	return c
}

func newMachine(db *store.DB, r *fakeReplier) *Machine {
	m := NewMachine(db, r, Options{MaxAttempts: 3, RetryDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, nil)
	m.SetClock(func() time.Time { return t0.Add(time.Hour) })
	return m
}

func TestApprovePostsDraft(t *testing.T) {
	db, r := newStore(t), &fakeReplier{}
	c := seed(t, db, "p1", domain.StatusPendingApproval)

	out, err := newMachine(db, r).Approve(context.Background(), c.Fingerprint, "telegram:alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPosted, out.Status)
	assert.Equal(t, "c_p1", out.CommentID)
	assert.Equal(t, []string{"Try a shared inbox."}, r.texts)

	got, err := db.Get(context.Background(), c.Fingerprint)
	require.NoError(t, err)
	n := len(got.History)
	assert.Equal(t, domain.StatusApproved, got.History[n-2].Status)
	assert.Equal(t, "telegram:alice", got.History[n-2].Actor)
	assert.Equal(t, domain.StatusPosted, got.History[n-1].Status)
	assert.Equal(t, "Posted ✅", Describe(out, nil))
}

func TestEditReplacesDraftOnce(t *testing.T) {
	db, r := newStore(t), &fakeReplier{}
	c := seed(t, db, "p1", domain.StatusPendingApproval)
	m := newMachine(db, r)

	out, err := m.Edit(context.Background(), c.Fingerprint, "email", "  Our own words.  ")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPosted, out.Status)
	assert.Equal(t, "Our own words.", out.Draft)
	assert.Equal(t, []string{"Our own words."}, r.texts)

	_, err = m.Edit(context.Background(), c.Fingerprint, "email", "second edit")
	assert.True(t, domain.IsStateConflict(err))
	assert.Equal(t, 1, r.count())
}

func TestEditRejectsEmptyText(t *testing.T) {
	db := newStore(t)
	c := seed(t, db, "p1", domain.StatusPendingApproval)

	_, err := newMachine(db, &fakeReplier{}).Edit(context.Background(), c.Fingerprint, "email", "   ")
	require.Error(t, err)
	got, _ := db.Get(context.Background(), c.Fingerprint)
	assert.Equal(t, domain.StatusPendingApproval, got.Status)
}

func TestSkipAfterPostIsAlreadyHandled(t *testing.T) {
	db := newStore(t)
	c := seed(t, db, "p1", domain.StatusPosted)
	before, err := db.Get(context.Background(), c.Fingerprint)
	require.NoError(t, err)

	out, err := newMachine(db, &fakeReplier{}).Skip(context.Background(), c.Fingerprint, "telegram:bob", "")
	require.Error(t, err)
	assert.Equal(t, AlreadyHandled, Describe(out, err))

	after, err := db.Get(context.Background(), c.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPosted, after.Status)
	assert.Equal(t, before.History, after.History)
}

func TestSkipRecordsReason(t *testing.T) {
	db := newStore(t)
	c := seed(t, db, "p1", domain.StatusPendingApproval)

	out, err := newMachine(db, &fakeReplier{}).Skip(context.Background(), c.Fingerprint, "api", "off topic")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSkipped, out.Status)
	assert.Equal(t, "off topic", out.LastEntry().Reason)
}

func TestConcurrentApprovesPostOnce(t *testing.T) {
	db := newStore(t)
	c := seed(t, db, "p1", domain.StatusPendingApproval)
	r := &fakeReplier{delay: 10 * time.Millisecond}
	m := newMachine(db, r)

	var (
		wg        sync.WaitGroup
		posted    atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := m.Approve(context.Background(), c.Fingerprint, "human")
			switch {
			case err == nil && out.Status == domain.StatusPosted:
				posted.Add(1)
			case domain.IsStateConflict(err):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, posted.Load())
	assert.EqualValues(t, 1, conflicts.Load())
	assert.Equal(t, 1, r.count())
}

func TestConcurrentPostsSubmitOnce(t *testing.T) {
	db := newStore(t)
	c := seed(t, db, "p1", domain.StatusApproved)
	r := &fakeReplier{delay: 50 * time.Millisecond}
	m := newMachine(db, r)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Post(context.Background(), c.Fingerprint, "cli"); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, r.count())
	require.Len(t, errs, 1)
	assert.True(t, domain.IsStateConflict(errs[0]))

	got, err := db.Get(context.Background(), c.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPosted, got.Status)
	assert.Equal(t, []string{"Try a shared inbox."}, r.texts)
}

func TestPostWhileClaimedIsInProgress(t *testing.T) {
	db := newStore(t)
	c := seed(t, db, "p1", domain.StatusApproved)
	require.NoError(t, db.ClaimPost(context.Background(), c.Fingerprint, "other", time.Hour))
	r := &fakeReplier{}

	out, err := newMachine(db, r).Post(context.Background(), c.Fingerprint, "cli")
	assert.True(t, domain.PostInProgress(err))
	assert.Zero(t, r.count())
	assert.Equal(t, domain.StatusApproved, out.Status)
	assert.Equal(t, "post already in progress", Describe(out, err))
}

func TestCommentGapSpansMachines(t *testing.T) {
	db := newStore(t)
	a := seed(t, db, "p1", domain.StatusApproved)
	b := seed(t, db, "p2", domain.StatusApproved)
	r := &fakeReplier{}
	opts := Options{MaxAttempts: 1, CommentGap: 80 * time.Millisecond}
	// separate machines stand in for `radar post` and a running listener
	first, second := NewMachine(db, r, opts, nil), NewMachine(db, r, opts, nil)

	start := time.Now()
	_, err := first.Post(context.Background(), a.Fingerprint, "cli")
	require.NoError(t, err)
	_, err = second.Post(context.Background(), b.Fingerprint, "telegram:alice")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)
	assert.Equal(t, 2, r.count())
}

func TestPostRetriesTransientErrors(t *testing.T) {
	db := newStore(t)
	c := seed(t, db, "p1", domain.StatusPendingApproval)
	r := &fakeReplier{errs: []error{
		&forum.RateLimitError{Op: "comment"},
		&domain.TransientError{Op: "comment", Err: errors.New("503")},
	}}

	out, err := newMachine(db, r).Approve(context.Background(), c.Fingerprint, "human")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPosted, out.Status)
	assert.Equal(t, 3, r.count())
}

func TestPostExhaustsRetriesToFailed(t *testing.T) {
	db := newStore(t)
	c := seed(t, db, "p1", domain.StatusPendingApproval)
	transient := &domain.TransientError{Op: "comment", Err: errors.New("timeout")}
	r := &fakeReplier{errs: []error{transient, transient, transient, transient}}

	out, err := newMachine(db, r).Approve(context.Background(), c.Fingerprint, "human")
	var pe *PostError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 3, pe.Attempts)
	assert.Equal(t, domain.StatusFailed, out.Status)
	assert.Contains(t, out.LastEntry().Reason, "after 3 attempt(s)")
	assert.Equal(t, "Failed to post", Describe(out, err))
}

func TestPostConflictFailsImmediately(t *testing.T) {
	db := newStore(t)
	c := seed(t, db, "p1", domain.StatusPendingApproval)
	r := &fakeReplier{errs: []error{&forum.ConflictError{PostID: "p1", Reason: "THREAD_LOCKED"}}}

	out, err := newMachine(db, r).Approve(context.Background(), c.Fingerprint, "human")
	require.Error(t, err)
	assert.Equal(t, 1, r.count())
	assert.Equal(t, domain.StatusFailed, out.Status)
	assert.Contains(t, out.LastEntry().Reason, "thread closed")
	assert.Equal(t, "Failed: thread no longer accepts replies", Describe(out, err))
}

func TestPostRequiresApproval(t *testing.T) {
	db := newStore(t)
	c := seed(t, db, "p1", domain.StatusPendingApproval)
	r := &fakeReplier{}

	_, err := newMachine(db, r).Post(context.Background(), c.Fingerprint, "cli")
	assert.True(t, domain.IsStateConflict(err))
	assert.Zero(t, r.count())
}

func TestPostRedrivesStuckApproved(t *testing.T) {
	db := newStore(t)
	c := seed(t, db, "p1", domain.StatusApproved)

	out, err := newMachine(db, &fakeReplier{}).Post(context.Background(), c.Fingerprint, "cli")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPosted, out.Status)
}

func TestUnknownCandidate(t *testing.T) {
	db := newStore(t)
	out, err := newMachine(db, &fakeReplier{}).Approve(context.Background(), "reddit:nope", "human")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, "unknown candidate", Describe(out, err))
}
