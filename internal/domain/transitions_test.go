package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func classified(t *testing.T, intent Intent) Candidate {
	t.Helper()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewCandidate(Post{Platform: "reddit", ID: "abc", Title: "looking for a crm"}, "crm", "pipeline", at)
	c.Intent = intent
	c.Score = 3.5
	next, err := c.Advance(StatusClassified, "pipeline", "", at.Add(time.Second))
	require.NoError(t, err)
	require.NoError(t, CheckTransition(c, next))
	return next
}

func TestCanTransitionFollowsGraph(t *testing.T) {
	allowed := map[Status][]Status{
		StatusNew:             {StatusClassified},
		StatusClassified:      {StatusSkipped, StatusNotified, StatusPendingApproval},
		StatusPendingApproval: {StatusApproved, StatusEdited, StatusSkipped},
		StatusApproved:        {StatusPosted, StatusFailed},
		StatusEdited:          {StatusPosted, StatusFailed},
	}
	for _, from := range Statuses {
		for _, to := range Statuses {
			want := false
			for _, s := range allowed[from] {
				if s == to {
					want = true
				}
			}
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTerminalStatusesHaveNoSuccessors(t *testing.T) {
	for _, s := range []Status{StatusPosted, StatusSkipped, StatusFailed} {
		assert.True(t, s.Terminal())
		assert.Empty(t, NextStatuses(s))
	}
	assert.False(t, StatusPendingApproval.Terminal())
}

func TestAdvanceDoesNotMutateReceiver(t *testing.T) {
	c := classified(t, IntentHotLead)
	c.Draft = "happy to help"
	next, err := c.Advance(StatusPendingApproval, "pipeline", "draft ready", time.Now())
	require.NoError(t, err)

	assert.Equal(t, StatusClassified, c.Status)
	assert.Len(t, c.History, 2)
	assert.Len(t, next.History, 3)
	assert.Equal(t, StatusPendingApproval, next.LastEntry().Status)
}

func TestAdvanceRejectsOutOfGraph(t *testing.T) {
	c := classified(t, IntentHotLead)
	_, err := c.Advance(StatusPosted, "human", "", time.Now())

	var sc *StateConflictError
	require.True(t, errors.As(err, &sc))
	assert.Equal(t, StatusClassified, sc.From)
	assert.Equal(t, StatusPosted, sc.To)
	assert.True(t, IsStateConflict(err))
}

func TestCheckTransitionGuards(t *testing.T) {
	base := classified(t, IntentHotLead)

	t.Run("intent is fixed", func(t *testing.T) {
		next, err := base.Advance(StatusNotified, "pipeline", "", time.Now())
		require.NoError(t, err)
		next.Intent = IntentPartnership
		assert.True(t, IsStateConflict(CheckTransition(base, next)))
	})

	t.Run("pending approval needs a draft", func(t *testing.T) {
		next, err := base.Advance(StatusPendingApproval, "pipeline", "", time.Now())
		require.NoError(t, err)
		assert.True(t, IsStateConflict(CheckTransition(base, next)))
	})

	t.Run("only noise skips before approval", func(t *testing.T) {
		next, err := base.Advance(StatusSkipped, "pipeline", "noise", time.Now())
		require.NoError(t, err)
		assert.True(t, IsStateConflict(CheckTransition(base, next)))

		noise := classified(t, IntentNoise)
		next, err = noise.Advance(StatusSkipped, "pipeline", "noise", time.Now())
		require.NoError(t, err)
		assert.NoError(t, CheckTransition(noise, next))
	})

	t.Run("history must grow by one", func(t *testing.T) {
		next, err := base.Advance(StatusNotified, "pipeline", "", time.Now())
		require.NoError(t, err)
		next.History = next.History[:len(next.History)-1]
		assert.True(t, IsStateConflict(CheckTransition(base, next)))
	})

	t.Run("draft only changes on edit", func(t *testing.T) {
		withDraft := base
		withDraft.Draft = "first"
		pending, err := withDraft.Advance(StatusPendingApproval, "pipeline", "", time.Now())
		require.NoError(t, err)
		require.NoError(t, CheckTransition(base, pending))

		approved, err := pending.Advance(StatusApproved, "human", "", time.Now())
		require.NoError(t, err)
		approved.Draft = "sneaky"
		assert.True(t, IsStateConflict(CheckTransition(pending, approved)))

		edited, err := pending.Advance(StatusEdited, "human", "", time.Now())
		require.NoError(t, err)
		edited.Draft = "replacement"
		assert.NoError(t, CheckTransition(pending, edited))
	})
}

func TestParseIntentAndStatus(t *testing.T) {
	in, ok := ParseIntent(" hot lead ")
	require.True(t, ok)
	assert.Equal(t, IntentHotLead, in)

	_, ok = ParseIntent("spam")
	assert.False(t, ok)

	st, ok := ParseStatus("pending_approval")
	require.True(t, ok)
	assert.Equal(t, StatusPendingApproval, st)
}

func TestFingerprintIsStable(t *testing.T) {
	p := Post{Platform: "Reddit", ID: "t3_xyz"}
	assert.Equal(t, "reddit:t3_xyz", p.Fingerprint())
	assert.Equal(t, p.Fingerprint(), Fingerprint("reddit", "t3_xyz"))
}
