package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"radar-engine/internal/domain"
)

var t0 = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

func candidate(id string, intent domain.Intent, status domain.Status) domain.Candidate {
	p := domain.Post{
		Platform: "reddit", ID: id, Subreddit: "smallbusiness",
		Title: "what do you use for outreach?", Body: "We are drowning in spreadsheets.",
		Author: "alice", URL: "https://www.reddit.com/r/smallbusiness/comments/" + id,
		Score: 10, NumComments: 3, CreatedAt: t0,
	}
	c := domain.NewCandidate(p, "outreach", "test", t0)
	c.Intent, c.Confidence, c.Score, c.Status = intent, 0.8, 4.2, status
	if status == domain.StatusPendingApproval {
		c.Draft = "We moved to a shared inbox and it helped."
	}
	return c
}

type fakeChannel struct {
	name string

	mu    sync.Mutex
	sent  []Message
	calls int
	fail  func(call int) error
	trunc bool
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(_ context.Context, m Message) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail != nil {
		if err := f.fail(f.calls); err != nil {
			return Result{}, err
		}
	}
	f.sent = append(f.sent, m)
	return Result{Truncated: f.trunc}, nil
}

type memLog struct {
	mu   sync.Mutex
	done map[string]string
}

func (l *memLog) Delivered(_ context.Context, fp, ch string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.done[fp+"|"+ch]
	return st == StatusDelivered || st == StatusTruncated, nil
}

func (l *memLog) RecordDelivery(_ context.Context, fp, ch, status string, _ int, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done == nil {
		l.done = map[string]string{}
	}
	l.done[fp+"|"+ch] = status
	return nil
}

type staticTokens struct{}

func (staticTokens) Issue(fp, action string) (string, error) { return action + "." + fp, nil }

func fastRouter(chs []Channel, opts Options) *Router {
	opts.RetryDelay = time.Millisecond
	return NewRouter(chs, opts, nil)
}

func TestNotifyDeliversToEveryChannel(t *testing.T) {
	a, b := &fakeChannel{name: "a"}, &fakeChannel{name: "b"}
	r := fastRouter([]Channel{a, b}, Options{})

	rep := r.Notify(context.Background(), []domain.Candidate{
		candidate("p1", domain.IntentHotLead, domain.StatusNotified),
		candidate("p2", domain.IntentContentIdea, domain.StatusNotified),
	})

	assert.Len(t, rep.Entries, 4)
	assert.Equal(t, 4, rep.Counts()[StatusDelivered])
	assert.Len(t, a.sent, 2)
	assert.Len(t, b.sent, 2)
	assert.Equal(t, PriorityUrgent, a.sent[0].Priority)
	assert.Equal(t, []string{"a", "b"}, r.Channels())
}

func TestNotifyDropsNoise(t *testing.T) {
	a := &fakeChannel{name: "a"}
	r := fastRouter([]Channel{a}, Options{})

	rep := r.Notify(context.Background(), []domain.Candidate{candidate("p1", domain.IntentNoise, domain.StatusNotified)})
	assert.Empty(t, rep.Entries)
	assert.Zero(t, a.calls)
}

func TestNotifyRetriesTransientFailures(t *testing.T) {
	a := &fakeChannel{name: "a", fail: func(call int) error {
		if call < 3 {
			return &domain.TransientError{Op: "send", Err: errors.New("502")}
		}
		return nil
	}}
	r := fastRouter([]Channel{a}, Options{MaxAttempts: 3})

	rep := r.Notify(context.Background(), []domain.Candidate{candidate("p1", domain.IntentHotLead, domain.StatusNotified)})
	require.Len(t, rep.Entries, 1)
	assert.Equal(t, StatusDelivered, rep.Entries[0].Status)
	assert.Equal(t, 3, rep.Entries[0].Attempts)
}

func TestNotifyGivesUpAfterMaxAttempts(t *testing.T) {
	a := &fakeChannel{name: "a", fail: func(int) error { return errors.New("boom") }}
	r := fastRouter([]Channel{a}, Options{MaxAttempts: 2})

	rep := r.Notify(context.Background(), []domain.Candidate{candidate("p1", domain.IntentHotLead, domain.StatusNotified)})
	require.Len(t, rep.Entries, 1)
	e := rep.Entries[0]
	assert.Equal(t, StatusFailed, e.Status)
	assert.Equal(t, 2, e.Attempts)
	assert.Contains(t, e.Error, "boom")
}

func TestNotifyDoesNotRetryPermanentErrors(t *testing.T) {
	a := &fakeChannel{name: "a", fail: func(int) error { return &PermanentError{Channel: "a", Err: errors.New("400 bad request")} }}
	r := fastRouter([]Channel{a}, Options{MaxAttempts: 5})

	rep := r.Notify(context.Background(), []domain.Candidate{candidate("p1", domain.IntentHotLead, domain.StatusNotified)})
	assert.Equal(t, 1, rep.Entries[0].Attempts)
	assert.Equal(t, StatusFailed, rep.Entries[0].Status)
}

func TestFailingChannelDoesNotBlockOthers(t *testing.T) {
	bad := &fakeChannel{name: "bad", fail: func(int) error { return &PermanentError{Channel: "bad", Err: errors.New("401")} }}
	good := &fakeChannel{name: "good", trunc: true}
	r := fastRouter([]Channel{bad, good}, Options{})

	rep := r.Notify(context.Background(), []domain.Candidate{candidate("p1", domain.IntentHotLead, domain.StatusNotified)})
	c := rep.Counts()
	assert.Equal(t, 1, c[StatusFailed])
	assert.Equal(t, 1, c[StatusTruncated])
	assert.Len(t, rep.For("reddit:p1"), 2)
}

func TestNotifySkipsAlreadyDelivered(t *testing.T) {
	log := &memLog{}
	a := &fakeChannel{name: "a"}
	r := fastRouter([]Channel{a}, Options{Deliveries: log})
	cs := []domain.Candidate{candidate("p1", domain.IntentHotLead, domain.StatusNotified)}

	r.Notify(context.Background(), cs)
	rep := r.Notify(context.Background(), cs)

	assert.Empty(t, rep.Entries)
	assert.Equal(t, 1, a.calls)
}

func TestNotifySelectsNamedChannels(t *testing.T) {
	a, b := &fakeChannel{name: "a"}, &fakeChannel{name: "b"}
	r := fastRouter([]Channel{a, b}, Options{})

	r.Notify(context.Background(), []domain.Candidate{candidate("p1", domain.IntentHotLead, domain.StatusNotified)}, " B ")
	assert.Zero(t, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestPendingCandidatesGetSignedActions(t *testing.T) {
	a := &fakeChannel{name: "a"}
	r := fastRouter([]Channel{a}, Options{Tokens: staticTokens{}, LinkBaseURL: "https://radar.example.com/"})

	r.Notify(context.Background(), []domain.Candidate{
		candidate("p1", domain.IntentHotLead, domain.StatusPendingApproval),
		candidate("p2", domain.IntentHotLead, domain.StatusNotified),
	})
	require.Len(t, a.sent, 2)

	pending := a.sent[0]
	require.True(t, pending.Interactive())
	require.Len(t, pending.Actions, 3)
	assert.Equal(t, ActionApprove, pending.Actions[0].Kind)
	assert.Equal(t, "approve.reddit:p1", pending.Actions[0].Token)
	assert.True(t, strings.HasPrefix(pending.Actions[0].URL, "https://radar.example.com/actions?token=approve.reddit%3Ap1"))

	assert.False(t, a.sent[1].Interactive())
}

func TestActionsWithoutSignerHaveNoLinks(t *testing.T) {
	a := &fakeChannel{name: "a"}
	r := fastRouter([]Channel{a}, Options{})

	r.Notify(context.Background(), []domain.Candidate{candidate("p1", domain.IntentHotLead, domain.StatusPendingApproval)})
	require.Len(t, a.sent[0].Actions, 3)
	for _, act := range a.sent[0].Actions {
		assert.Empty(t, act.URL)
		assert.Empty(t, act.Token)
	}
}
